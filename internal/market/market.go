// Package market implements time-delayed "market order" requests: a
// user escrows collateral and a request sits in a queue until an
// off-chain executor calls the matching execute entry point, or the
// request expires and can only be cancelled.
package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

// DefaultMaxTimeDelay is the out-of-the-box request expiry window.
const DefaultMaxTimeDelay = 300 * time.Second

// PluginName is the identity Market registers under in
// Vault.SetPlugin.
const PluginName = "market"

// VaultCaller is the subset of vault.Vault Market forwards eligible
// requests to.
type VaultCaller interface {
	IncreasePositionEscrowed(ctx context.Context, caller, account, indexToken string, actualAmount, sizeDelta decimal.Decimal, isLong bool) error
	DecreasePosition(ctx context.Context, caller, account, indexToken string, collateralDelta, sizeDelta decimal.Decimal, isLong bool) (decimal.Decimal, error)
}

// Broadcaster is the subset of ws.Hub Market depends on.
type Broadcaster interface {
	Broadcast(eventType string, fields map[string]any)
}

// Market is the delayed-request-queue component.
type Market struct {
	store     store.Store
	vault     VaultCaller
	ledger    model.Ledger
	hub       Broadcaster // optional
	timeNowFn func() time.Time

	maxTimeDelay time.Duration
}

// NewMarket constructs a Market with DefaultMaxTimeDelay. hub may be
// nil.
func NewMarket(st store.Store, vault VaultCaller, ledger model.Ledger, hub Broadcaster) *Market {
	return &Market{
		store:        st,
		vault:        vault,
		ledger:       ledger,
		hub:          hub,
		timeNowFn:    func() time.Time { return time.Now().UTC() },
		maxTimeDelay: DefaultMaxTimeDelay,
	}
}

// SetMaxTimeDelay changes the expiry window applied to newly evaluated
// requests. Existing requests are judged against whatever window is
// configured at the moment they're checked.
func (m *Market) SetMaxTimeDelay(d time.Duration) {
	m.maxTimeDelay = d
	slog.Info("set max time delay", "delay", d)
	m.broadcast("SetMaxTimeDelay", map[string]any{"delay_seconds": d.Seconds()})
}

// CreateIncreasePosition escrows amountIn dollars (plus an optional
// executionFee reserved for the executor) and queues a delayed request
// to open or grow a position.
func (m *Market) CreateIncreasePosition(ctx context.Context, account, indexToken string, amountIn, sizeDelta, executionFee decimal.Decimal, isLong bool) (uint64, error) {
	total := amountIn.Add(executionFee)
	actualTotal, err := m.ledger.TransferIn(ctx, account, total)
	if err != nil {
		return 0, err
	}
	actualAmountIn := actualTotal.Sub(executionFee)

	index, err := m.store.NextIncreaseRequestIndex(ctx, account)
	if err != nil {
		_ = m.ledger.TransferOut(ctx, account, actualTotal)
		return 0, err
	}

	req := &model.IncreasePositionRequest{
		Key:          model.RequestKey(account, index),
		Account:      account,
		RequestIndex: index,
		IndexToken:   indexToken,
		AmountIn:     actualAmountIn,
		SizeDelta:    sizeDelta,
		IsLong:       isLong,
		BlockTime:    m.timeNowFn(),
		ExecutionFee: executionFee,
	}
	if err := m.store.PutIncreaseRequest(ctx, req); err != nil {
		_ = m.ledger.TransferOut(ctx, account, actualTotal)
		return 0, err
	}

	slog.Info("create increase position request", "account", account, "index", index, "index_token", indexToken)
	m.broadcast("CreateIncreasePosition", map[string]any{
		"account": account, "request_index": index, "index_token": indexToken,
		"amount_in": actualAmountIn.String(), "size_delta": sizeDelta.String(), "is_long": isLong,
	})
	return index, nil
}

// CreateDecreasePosition queues a delayed request to shrink or close a
// position. No escrow: the position collateral already lives in the
// Vault.
func (m *Market) CreateDecreasePosition(ctx context.Context, account, indexToken string, collateralDelta, sizeDelta decimal.Decimal, isLong bool) (uint64, error) {
	index, err := m.store.NextDecreaseRequestIndex(ctx, account)
	if err != nil {
		return 0, err
	}
	req := &model.DecreasePositionRequest{
		Key:             model.RequestKey(account, index),
		Account:         account,
		RequestIndex:    index,
		IndexToken:      indexToken,
		CollateralDelta: collateralDelta,
		SizeDelta:       sizeDelta,
		IsLong:          isLong,
		BlockTime:       m.timeNowFn(),
	}
	if err := m.store.PutDecreaseRequest(ctx, req); err != nil {
		return 0, err
	}

	slog.Info("create decrease position request", "account", account, "index", index, "index_token", indexToken)
	m.broadcast("CreateDecreasePosition", map[string]any{
		"account": account, "request_index": index, "index_token": indexToken,
		"collateral_delta": collateralDelta.String(), "size_delta": sizeDelta.String(), "is_long": isLong,
	})
	return index, nil
}

// CancelIncreasePosition refunds the escrow (including any reserved
// execution fee) and deletes the request. Cancellation is allowed
// whether or not the request has already expired: an expired request
// can still be executed by no one, but its creator can always reclaim
// the escrow.
func (m *Market) CancelIncreasePosition(ctx context.Context, key string) error {
	req, err := m.store.GetIncreaseRequest(ctx, key)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	if err := m.store.DeleteIncreaseRequest(ctx, key); err != nil {
		return err
	}
	if err := m.ledger.TransferOut(ctx, req.Account, req.AmountIn.Add(req.ExecutionFee)); err != nil {
		return err
	}
	slog.Info("cancel increase position request", "account", req.Account, "index", req.RequestIndex)
	m.broadcast("CancelIncreasePosition", map[string]any{"account": req.Account, "request_index": req.RequestIndex})
	return nil
}

// CancelDecreasePosition deletes the request. No escrow to refund.
func (m *Market) CancelDecreasePosition(ctx context.Context, key string) error {
	req, err := m.store.GetDecreaseRequest(ctx, key)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	if err := m.store.DeleteDecreaseRequest(ctx, key); err != nil {
		return err
	}
	slog.Info("cancel decrease position request", "account", req.Account, "index", req.RequestIndex)
	m.broadcast("CancelDecreasePosition", map[string]any{"account": req.Account, "request_index": req.RequestIndex})
	return nil
}

// ExecuteIncreasePosition forwards an eligible request to the Vault.
// A missing key is a silent no-op (executors race harmlessly). An
// expired request is left in place so its creator can still cancel it
// for a refund; ErrRequestExpired is returned instead of deleting it.
func (m *Market) ExecuteIncreasePosition(ctx context.Context, key string, executor string) error {
	req, err := m.store.GetIncreaseRequest(ctx, key)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	now := m.timeNowFn()
	if !req.BlockTime.Add(m.maxTimeDelay).After(now) {
		metrics.RequestsExpiredTotal.WithLabelValues("increase").Inc()
		return ErrRequestExpired
	}

	if err := m.store.DeleteIncreaseRequest(ctx, key); err != nil {
		return err
	}

	if err := m.vault.IncreasePositionEscrowed(ctx, PluginName, req.Account, req.IndexToken, req.AmountIn, req.SizeDelta, req.IsLong); err != nil {
		return err
	}

	if req.ExecutionFee.IsPositive() && executor != "" {
		_ = m.ledger.TransferOut(ctx, executor, req.ExecutionFee)
	}

	slog.Info("execute increase position request", "account", req.Account, "index", req.RequestIndex, "index_token", req.IndexToken)
	m.broadcast("ExecuteIncreasePosition", map[string]any{"account": req.Account, "request_index": req.RequestIndex, "index_token": req.IndexToken})
	return nil
}

// ExecuteDecreasePosition mirrors ExecuteIncreasePosition for the
// decrease side.
func (m *Market) ExecuteDecreasePosition(ctx context.Context, key string) error {
	req, err := m.store.GetDecreaseRequest(ctx, key)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	now := m.timeNowFn()
	if !req.BlockTime.Add(m.maxTimeDelay).After(now) {
		metrics.RequestsExpiredTotal.WithLabelValues("decrease").Inc()
		return ErrDecreaseRequestExpired
	}

	if err := m.store.DeleteDecreaseRequest(ctx, key); err != nil {
		return err
	}

	if _, err := m.vault.DecreasePosition(ctx, PluginName, req.Account, req.IndexToken, req.CollateralDelta, req.SizeDelta, req.IsLong); err != nil {
		return err
	}

	slog.Info("execute decrease position request", "account", req.Account, "index", req.RequestIndex, "index_token", req.IndexToken)
	m.broadcast("ExecuteDecreasePosition", map[string]any{"account": req.Account, "request_index": req.RequestIndex, "index_token": req.IndexToken})
	return nil
}

func (m *Market) broadcast(eventType string, fields map[string]any) {
	if m.hub != nil {
		m.hub.Broadcast(eventType, fields)
	}
}
