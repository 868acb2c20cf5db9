package pricefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
)

// RoundRecorder persists an oracle round for audit/replay. Optional:
// a deployment without Postgres simply passes nil and only the
// in-memory lookback window is kept.
type RoundRecorder interface {
	RecordRound(ctx context.Context, token string, answer decimal.Decimal) error
}

type pushRoundRequest struct {
	Token  string          `json:"token"`
	Answer decimal.Decimal `json:"answer"`
}

// Handler wraps a Feed with an optional RoundRecorder for the oracle
// push HTTP surface.
type Handler struct {
	Feed     *Feed
	Recorder RoundRecorder // optional
}

// HandlePushRound handles POST /api/v1/oracle/round, the entry point
// an external oracle keeper calls to advance a token's price history.
func (h *Handler) HandlePushRound(w http.ResponseWriter, r *http.Request) {
	var req pushRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Answer.IsPositive() {
		writeError(w, ErrInvalidPrice.Error(), http.StatusBadRequest)
		return
	}

	h.Feed.PushRound(req.Token, req.Answer)

	if h.Recorder != nil {
		if err := h.Recorder.RecordRound(r.Context(), req.Token, req.Answer); err != nil {
			slog.Error("record oracle round failed", "token", req.Token, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
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
