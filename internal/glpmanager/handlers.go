package glpmanager

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type addLiquidityRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

type removeLiquidityRequest struct {
	Account   string          `json:"account"`
	GlpAmount decimal.Decimal `json:"glp_amount"`
}

// HandleAddLiquidity handles POST /api/v1/glp/add
func (g *GlpManager) HandleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	minted, err := g.AddLiquidity(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"glp_minted": minted.String()})
}

// HandleRemoveLiquidity handles POST /api/v1/glp/remove
func (g *GlpManager) HandleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dollarsOut, err := g.RemoveLiquidity(r.Context(), req.Account, req.GlpAmount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dollars_out": dollarsOut.String()})
}

// HandleGetBalance handles GET /api/v1/glp/{account}
func (g *GlpManager) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, map[string]string{
		"account":      account,
		"glp_balance":  g.BalanceOf(account).String(),
		"total_supply": g.TotalSupply().String(),
	})
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
