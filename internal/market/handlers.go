package market

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

type createIncreaseRequest struct {
	Account      string          `json:"account"`
	IndexToken   string          `json:"index_token"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	SizeDelta    decimal.Decimal `json:"size_delta"`
	ExecutionFee decimal.Decimal `json:"execution_fee"`
	IsLong       bool            `json:"is_long"`
}

type createDecreaseRequest struct {
	Account         string          `json:"account"`
	IndexToken      string          `json:"index_token"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	IsLong          bool            `json:"is_long"`
}

type requestRefRequest struct {
	Key      string `json:"key"`
	Executor string `json:"executor"`
}

// HandleCreateIncreasePosition handles POST /api/v1/market/increase
func (m *Market) HandleCreateIncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req createIncreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	index, err := m.CreateIncreasePosition(r.Context(), req.Account, req.IndexToken, req.AmountIn, req.SizeDelta, req.ExecutionFee, req.IsLong)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"request_index": index})
}

// HandleCreateDecreasePosition handles POST /api/v1/market/decrease
func (m *Market) HandleCreateDecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req createDecreaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	index, err := m.CreateDecreasePosition(r.Context(), req.Account, req.IndexToken, req.CollateralDelta, req.SizeDelta, req.IsLong)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"request_index": index})
}

// HandleCancelIncreasePosition handles POST /api/v1/market/increase/cancel
func (m *Market) HandleCancelIncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req requestRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := m.CancelIncreasePosition(r.Context(), req.Key); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleCancelDecreasePosition handles POST /api/v1/market/decrease/cancel
func (m *Market) HandleCancelDecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req requestRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := m.CancelDecreasePosition(r.Context(), req.Key); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// HandleExecuteIncreasePosition handles POST /api/v1/market/increase/execute
func (m *Market) HandleExecuteIncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req requestRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := m.ExecuteIncreasePosition(r.Context(), req.Key, req.Executor); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

// HandleExecuteDecreasePosition handles POST /api/v1/market/decrease/execute
func (m *Market) HandleExecuteDecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req requestRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := m.ExecuteDecreasePosition(r.Context(), req.Key); err != nil {
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
	case errors.Is(err, ErrRequestExpired), errors.Is(err, ErrDecreaseRequestExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
