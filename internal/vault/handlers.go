package vault

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// --- Request/response types ---

type increasePositionRequest struct {
	Caller     string          `json:"caller"`
	Account    string          `json:"account"`
	IndexToken string          `json:"index_token"`
	AmountIn   decimal.Decimal `json:"amount_in"`
	SizeDelta  decimal.Decimal `json:"size_delta"`
	IsLong     bool            `json:"is_long"`
}

type decreasePositionRequest struct {
	Caller          string          `json:"caller"`
	Account         string          `json:"account"`
	IndexToken      string          `json:"index_token"`
	CollateralDelta decimal.Decimal `json:"collateral_delta"`
	SizeDelta       decimal.Decimal `json:"size_delta"`
	IsLong          bool            `json:"is_long"`
}

type liquidatePositionRequest struct {
	Account    string `json:"account"`
	IndexToken string `json:"index_token"`
	IsLong     bool   `json:"is_long"`
}

type usdgRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

type setPluginRequest struct {
	Caller  string `json:"caller"`
	Plugin  string `json:"plugin"`
	Enabled bool   `json:"enabled"`
}

type setWhitelistRequest struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

type pauseRequest struct {
	Caller string `json:"caller"`
}

// --- Handlers ---

// HandleIncreasePosition handles POST /api/v1/vault/increase
func (v *Vault) HandleIncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req increasePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" || req.IndexToken == "" {
		writeError(w, "account and index_token are required", http.StatusBadRequest)
		return
	}

	if err := v.IncreasePosition(r.Context(), req.Caller, req.Account, req.IndexToken, req.AmountIn, req.SizeDelta, req.IsLong); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}

	position, err := v.GetPosition(r.Context(), req.Account, req.IndexToken, req.IsLong)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// HandleDecreasePosition handles POST /api/v1/vault/decrease
func (v *Vault) HandleDecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req decreasePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	usdOut, err := v.DecreasePosition(r.Context(), req.Caller, req.Account, req.IndexToken, req.CollateralDelta, req.SizeDelta, req.IsLong)
	if err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"usd_out": usdOut.String()})
}

// HandleLiquidatePosition handles POST /api/v1/vault/liquidate
func (v *Vault) HandleLiquidatePosition(w http.ResponseWriter, r *http.Request) {
	var req liquidatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := v.LiquidatePosition(r.Context(), req.Account, req.IndexToken, req.IsLong); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

// HandleGetPosition handles GET /api/v1/vault/position/{account}/{token}/{isLong}
func (v *Vault) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	token := chi.URLParam(r, "token")
	isLong := chi.URLParam(r, "isLong") == "true"

	position, err := v.GetPosition(r.Context(), account, token, isLong)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if position == nil {
		writeError(w, ErrPositionNotExist.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

// HandleBuyUSDG handles POST /api/v1/vault/usdg/buy
func (v *Vault) HandleBuyUSDG(w http.ResponseWriter, r *http.Request) {
	var req usdgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	minted, err := v.BuyUSDG(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"usdg_minted": minted.String()})
}

// HandleSellUSDG handles POST /api/v1/vault/usdg/sell
func (v *Vault) HandleSellUSDG(w http.ResponseWriter, r *http.Request) {
	var req usdgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dollarsOut, err := v.SellUSDG(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dollars_out": dollarsOut.String()})
}

// HandleSetPlugin handles POST /api/v1/vault/plugin
func (v *Vault) HandleSetPlugin(w http.ResponseWriter, r *http.Request) {
	var req setPluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := v.SetPlugin(req.Caller, req.Plugin, req.Enabled); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSetWhitelistedToken handles POST /api/v1/vault/whitelist
func (v *Vault) HandleSetWhitelistedToken(w http.ResponseWriter, r *http.Request) {
	var req setWhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := v.SetWhitelistedToken(req.Caller, req.Token, req.Enabled); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandlePause handles POST /api/v1/vault/pause
func (v *Vault) HandlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := v.Pause(req.Caller); err != nil {
		writeError(w, err.Error(), errToStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// --- shared response helpers ---

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

// errToStatus maps a sentinel vault error to an HTTP status code.
func errToStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotPlugin):
		return http.StatusForbidden
	case errors.Is(err, ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPositionNotExist), errors.Is(err, ErrEmptyPosition):
		return http.StatusNotFound
	case errors.Is(err, ErrNotWhitelisted),
		errors.Is(err, ErrSizeLessThanCollateral),
		errors.Is(err, ErrInvalidPositionSize),
		errors.Is(err, ErrCollateralExceeded),
		errors.Is(err, ErrInvalidUsdgAmount),
		errors.Is(err, ErrLossesExceedCollateral),
		errors.Is(err, ErrFeesExceedCollateral),
		errors.Is(err, ErrLiquidationFeesExceedCollateral),
		errors.Is(err, ErrMaxLeverageExceeded),
		errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrPoolUnderflow),
		errors.Is(err, ErrReserveExceedsPool),
		errors.Is(err, ErrPoolExceedsBalance),
		errors.Is(err, ErrInsufficientReserve):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
