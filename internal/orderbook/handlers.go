package orderbook

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

type createIncreaseOrderRequest struct {
	Account               string          `json:"account"`
	IndexToken            string          `json:"index_token"`
	AmountIn              decimal.Decimal `json:"amount_in"`
	SizeDelta             decimal.Decimal `json:"size_delta"`
	IsLong                bool            `json:"is_long"`
	TriggerPrice          decimal.Decimal `json:"trigger_price"`
	TriggerAboveThreshold bool            `json:"trigger_above_threshold"`
}

type createDecreaseOrderRequest struct {
	Account               string          `json:"account"`
	IndexToken            string          `json:"index_token"`
	SizeDelta             decimal.Decimal `json:"size_delta"`
	CollateralDelta       decimal.Decimal `json:"collateral_delta"`
	IsLong                bool            `json:"is_long"`
	TriggerPrice          decimal.Decimal `json:"trigger_price"`
	TriggerAboveThreshold bool            `json:"trigger_above_threshold"`
}

type orderRefRequest struct {
	Account string `json:"account"`
	Index   uint64 `json:"order_index"`
}

// HandleCreateIncreaseOrder handles POST /api/v1/orders/increase
func (b *OrderBook) HandleCreateIncreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req createIncreaseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	index, err := b.CreateIncreaseOrder(r.Context(), req.Account, req.IndexToken, req.AmountIn, req.SizeDelta, req.IsLong, req.TriggerPrice, req.TriggerAboveThreshold)
	if err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"order_index": index})
}

// HandleCreateDecreaseOrder handles POST /api/v1/orders/decrease
func (b *OrderBook) HandleCreateDecreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req createDecreaseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	index, err := b.CreateDecreaseOrder(r.Context(), req.Account, req.IndexToken, req.SizeDelta, req.CollateralDelta, req.IsLong, req.TriggerPrice, req.TriggerAboveThreshold)
	if err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"order_index": index})
}

// HandleCancelIncreaseOrder handles POST /api/v1/orders/increase/cancel
func (b *OrderBook) HandleCancelIncreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := b.CancelIncreaseOrder(r.Context(), req.Account, req.Index); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleCancelDecreaseOrder handles POST /api/v1/orders/decrease/cancel
func (b *OrderBook) HandleCancelDecreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := b.CancelDecreaseOrder(r.Context(), req.Account, req.Index); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleExecuteIncreaseOrder handles POST /api/v1/orders/increase/execute
func (b *OrderBook) HandleExecuteIncreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := b.ExecuteIncreaseOrder(r.Context(), req.Account, req.Index); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

// HandleExecuteDecreaseOrder handles POST /api/v1/orders/decrease/execute
func (b *OrderBook) HandleExecuteDecreaseOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := b.ExecuteDecreaseOrder(r.Context(), req.Account, req.Index); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func errToStatus(err error) int {
	switch {
	case errors.Is(err, ErrNonExistentOrder):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidExecutionPrice):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
