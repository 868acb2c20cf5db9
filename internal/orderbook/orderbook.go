// Package orderbook implements conditional (trigger-price) orders on
// top of the Vault: an order sits dormant until an executor observes
// the trigger condition and calls the matching execute entry point.
package orderbook

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

// PriceFeed is the subset of pricefeed.Feed OrderBook depends on.
type PriceFeed interface {
	GetPrice(ctx context.Context, token string, maximise bool) (decimal.Decimal, error)
}

// VaultCaller is the subset of vault.Vault OrderBook forwards
// eligible orders to.
type VaultCaller interface {
	IncreasePositionEscrowed(ctx context.Context, caller, account, indexToken string, actualAmount, sizeDelta decimal.Decimal, isLong bool) error
	DecreasePosition(ctx context.Context, caller, account, indexToken string, collateralDelta, sizeDelta decimal.Decimal, isLong bool) (decimal.Decimal, error)
}

// Broadcaster is the subset of ws.Hub OrderBook depends on.
type Broadcaster interface {
	Broadcast(eventType string, fields map[string]any)
}

// PluginName is the identity OrderBook registers under in
// Vault.SetPlugin.
const PluginName = "orderbook"

// OrderBook is the OrderBook component.
type OrderBook struct {
	store     store.Store
	priceFeed PriceFeed
	vault     VaultCaller
	ledger    model.Ledger
	hub       Broadcaster // optional
}

// NewOrderBook constructs an OrderBook. hub may be nil.
func NewOrderBook(st store.Store, pf PriceFeed, vault VaultCaller, ledger model.Ledger, hub Broadcaster) *OrderBook {
	return &OrderBook{store: st, priceFeed: pf, vault: vault, ledger: ledger, hub: hub}
}

// CreateIncreaseOrder escrows amountIn dollars and records a
// conditional order to open or grow a position once the trigger price
// condition is met.
func (b *OrderBook) CreateIncreaseOrder(ctx context.Context, account, indexToken string, amountIn, sizeDelta decimal.Decimal, isLong bool, triggerPrice decimal.Decimal, triggerAboveThreshold bool) (uint64, error) {
	actualAmount, err := b.ledger.TransferIn(ctx, account, amountIn)
	if err != nil {
		return 0, err
	}

	index, err := b.store.NextIncreaseOrderIndex(ctx, account)
	if err != nil {
		_ = b.ledger.TransferOut(ctx, account, actualAmount)
		return 0, err
	}

	order := &model.IncreaseOrder{
		Account:               account,
		OrderIndex:            index,
		IndexToken:            indexToken,
		Amount:                actualAmount,
		SizeDelta:             sizeDelta,
		IsLong:                isLong,
		TriggerPrice:          triggerPrice,
		TriggerAboveThreshold: triggerAboveThreshold,
	}
	if err := b.store.PutIncreaseOrder(ctx, order); err != nil {
		_ = b.ledger.TransferOut(ctx, account, actualAmount)
		return 0, err
	}

	metrics.OrdersCreatedTotal.WithLabelValues("increase").Inc()
	slog.Info("create increase order", "account", account, "index", index, "index_token", indexToken, "size_delta", sizeDelta.String())
	b.broadcast("CreateIncreaseOrder", map[string]any{
		"account": account, "order_index": index, "index_token": indexToken,
		"amount": actualAmount.String(), "size_delta": sizeDelta.String(), "is_long": isLong,
		"trigger_price": triggerPrice.String(), "trigger_above_threshold": triggerAboveThreshold,
	})
	return index, nil
}

// CreateDecreaseOrder records a conditional order to shrink or close a
// position once the trigger price condition is met. No escrow: the
// position collateral already lives in the Vault.
func (b *OrderBook) CreateDecreaseOrder(ctx context.Context, account, indexToken string, sizeDelta, collateralDelta decimal.Decimal, isLong bool, triggerPrice decimal.Decimal, triggerAboveThreshold bool) (uint64, error) {
	index, err := b.store.NextDecreaseOrderIndex(ctx, account)
	if err != nil {
		return 0, err
	}
	order := &model.DecreaseOrder{
		Account:               account,
		OrderIndex:            index,
		IndexToken:            indexToken,
		CollateralDelta:       collateralDelta,
		SizeDelta:             sizeDelta,
		IsLong:                isLong,
		TriggerPrice:          triggerPrice,
		TriggerAboveThreshold: triggerAboveThreshold,
	}
	if err := b.store.PutDecreaseOrder(ctx, order); err != nil {
		return 0, err
	}

	metrics.OrdersCreatedTotal.WithLabelValues("decrease").Inc()
	slog.Info("create decrease order", "account", account, "index", index, "index_token", indexToken, "size_delta", sizeDelta.String())
	b.broadcast("CreateDecreaseOrder", map[string]any{
		"account": account, "order_index": index, "index_token": indexToken,
		"collateral_delta": collateralDelta.String(), "size_delta": sizeDelta.String(), "is_long": isLong,
		"trigger_price": triggerPrice.String(), "trigger_above_threshold": triggerAboveThreshold,
	})
	return index, nil
}

// UpdateIncreaseOrder mutates the mutable fields of an existing
// increase order. The escrowed amount is immutable.
func (b *OrderBook) UpdateIncreaseOrder(ctx context.Context, account string, index uint64, sizeDelta, triggerPrice decimal.Decimal, triggerAboveThreshold bool) error {
	order, err := b.store.GetIncreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}
	order.SizeDelta = sizeDelta
	order.TriggerPrice = triggerPrice
	order.TriggerAboveThreshold = triggerAboveThreshold
	if err := b.store.PutIncreaseOrder(ctx, order); err != nil {
		return err
	}
	b.broadcast("UpdateIncreaseOrder", map[string]any{"account": account, "order_index": index})
	return nil
}

// UpdateDecreaseOrder mutates the mutable fields of an existing
// decrease order.
func (b *OrderBook) UpdateDecreaseOrder(ctx context.Context, account string, index uint64, collateralDelta, sizeDelta, triggerPrice decimal.Decimal, triggerAboveThreshold bool) error {
	order, err := b.store.GetDecreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}
	order.CollateralDelta = collateralDelta
	order.SizeDelta = sizeDelta
	order.TriggerPrice = triggerPrice
	order.TriggerAboveThreshold = triggerAboveThreshold
	if err := b.store.PutDecreaseOrder(ctx, order); err != nil {
		return err
	}
	b.broadcast("UpdateDecreaseOrder", map[string]any{"account": account, "order_index": index})
	return nil
}

// CancelIncreaseOrder refunds the escrowed amount and deletes the
// order. Price is never checked on cancel.
func (b *OrderBook) CancelIncreaseOrder(ctx context.Context, account string, index uint64) error {
	order, err := b.store.GetIncreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}
	if err := b.store.DeleteIncreaseOrder(ctx, account, index); err != nil {
		return err
	}
	if err := b.ledger.TransferOut(ctx, account, order.Amount); err != nil {
		return err
	}
	metrics.OrdersCancelledTotal.WithLabelValues("increase").Inc()
	slog.Info("cancel increase order", "account", account, "index", index)
	b.broadcast("CancelIncreaseOrder", map[string]any{"account": account, "order_index": index})
	return nil
}

// CancelDecreaseOrder deletes the order. No escrow to refund.
func (b *OrderBook) CancelDecreaseOrder(ctx context.Context, account string, index uint64) error {
	order, err := b.store.GetDecreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}
	if err := b.store.DeleteDecreaseOrder(ctx, account, index); err != nil {
		return err
	}
	metrics.OrdersCancelledTotal.WithLabelValues("decrease").Inc()
	slog.Info("cancel decrease order", "account", account, "index", index)
	b.broadcast("CancelDecreaseOrder", map[string]any{"account": account, "order_index": index})
	return nil
}

// ExecuteIncreaseOrder validates the trigger price, deletes the order,
// and forwards the escrowed funds to the Vault. Anyone may call this;
// it is meant to be invoked by an off-chain executor watching prices.
func (b *OrderBook) ExecuteIncreaseOrder(ctx context.Context, account string, index uint64) error {
	order, err := b.store.GetIncreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}

	ok, err := b.validatePositionOrderPrice(ctx, order.IndexToken, order.IsLong, true, order.TriggerPrice, order.TriggerAboveThreshold)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidExecutionPrice
	}

	if err := b.store.DeleteIncreaseOrder(ctx, account, index); err != nil {
		return err
	}

	if err := b.vault.IncreasePositionEscrowed(ctx, PluginName, account, order.IndexToken, order.Amount, order.SizeDelta, order.IsLong); err != nil {
		return err
	}

	metrics.OrdersExecutedTotal.WithLabelValues("increase").Inc()
	slog.Info("execute increase order", "account", account, "index", index, "index_token", order.IndexToken)
	b.broadcast("ExecuteIncreaseOrder", map[string]any{"account": account, "order_index": index, "index_token": order.IndexToken})
	return nil
}

// ExecuteDecreaseOrder validates the trigger price with the inverted
// maximise convention, deletes the order, and forwards to the Vault.
func (b *OrderBook) ExecuteDecreaseOrder(ctx context.Context, account string, index uint64) error {
	order, err := b.store.GetDecreaseOrder(ctx, account, index)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrNonExistentOrder
	}

	ok, err := b.validatePositionOrderPrice(ctx, order.IndexToken, order.IsLong, false, order.TriggerPrice, order.TriggerAboveThreshold)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidExecutionPrice
	}

	if err := b.store.DeleteDecreaseOrder(ctx, account, index); err != nil {
		return err
	}

	if _, err := b.vault.DecreasePosition(ctx, PluginName, account, order.IndexToken, order.CollateralDelta, order.SizeDelta, order.IsLong); err != nil {
		return err
	}

	metrics.OrdersExecutedTotal.WithLabelValues("decrease").Inc()
	slog.Info("execute decrease order", "account", account, "index", index, "index_token", order.IndexToken)
	b.broadcast("ExecuteDecreaseOrder", map[string]any{"account": account, "order_index": index, "index_token": order.IndexToken})
	return nil
}

// validatePositionOrderPrice implements the shared trigger-price
// predicate. isIncrease selects the maximise convention: for an
// increase, maximise = isLong (long enters at the conservative max,
// short at the conservative min); for a decrease it is inverted.
func (b *OrderBook) validatePositionOrderPrice(ctx context.Context, indexToken string, isLong, isIncrease bool, triggerPrice decimal.Decimal, triggerAboveThreshold bool) (bool, error) {
	maximise := isLong
	if !isIncrease {
		maximise = !isLong
	}
	currentPrice, err := b.priceFeed.GetPrice(ctx, indexToken, maximise)
	if err != nil {
		return false, err
	}
	if triggerAboveThreshold {
		return currentPrice.GreaterThanOrEqual(triggerPrice), nil
	}
	return currentPrice.LessThanOrEqual(triggerPrice), nil
}

func (b *OrderBook) broadcast(eventType string, fields map[string]any) {
	if b.hub != nil {
		b.hub.Broadcast(eventType, fields)
	}
}
