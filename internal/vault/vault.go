// Package vault implements the settlement engine's core state
// machine: leveraged position accounting, the shared liquidity pool,
// utilization-based funding, and liquidation.
//
// All monetary values use shopspring/decimal — never float64 for
// money. Every mutative operation is serialized by a single mutex,
// approximating the single-threaded call-into-contract execution
// model this engine was ported from.
package vault

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/exposure"
	"github.com/atmx/settlement-engine/internal/metrics"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

// PriceFeed is the subset of pricefeed.Feed the Vault depends on.
type PriceFeed interface {
	GetPrice(ctx context.Context, token string, maximise bool) (decimal.Decimal, error)
}

// Broadcaster is the subset of ws.Hub the Vault depends on for
// real-time event broadcast. Optional: a nil Broadcaster disables
// broadcasting without affecting any other behavior.
type Broadcaster interface {
	Broadcast(eventType string, fields map[string]any)
}

// Vault is the settlement engine's core contract. Construct with
// NewVault; all exported methods are safe for concurrent use.
type Vault struct {
	mu sync.Mutex

	store     store.Store
	priceFeed PriceFeed
	ledger    model.Ledger
	limiter   *exposure.Limiter // optional
	hub       Broadcaster       // optional

	owner             string
	plugins           map[string]bool
	whitelistedTokens map[string]bool
	paused            bool

	cfg model.AdminConfig

	// globalLongSizes / globalShortSizes track aggregate open notional
	// per token for the exposure limiter. Not persisted: rebuilt from
	// position state on process restart is out of scope for this
	// port, matching the ambient in-memory nature of the limiter
	// itself (see internal/exposure).
	globalLongSizes  map[string]decimal.Decimal
	globalShortSizes map[string]decimal.Decimal
}

// NewVault constructs a Vault. limiter and hub may be nil.
func NewVault(owner string, st store.Store, pf PriceFeed, ledger model.Ledger, cfg model.AdminConfig, limiter *exposure.Limiter, hub Broadcaster) *Vault {
	return &Vault{
		store:             st,
		priceFeed:         pf,
		ledger:            ledger,
		limiter:           limiter,
		hub:               hub,
		owner:             owner,
		plugins:           make(map[string]bool),
		whitelistedTokens: make(map[string]bool),
		cfg:               cfg,
		globalLongSizes:   make(map[string]decimal.Decimal),
		globalShortSizes:  make(map[string]decimal.Decimal),
	}
}

// --- Admin ---

func (v *Vault) requireOwner(caller string) error {
	if caller != v.owner {
		return ErrNotOwner
	}
	return nil
}

// SetPlugin registers or deregisters a caller identity allowed to
// invoke IncreasePosition and DecreasePosition. LiquidatePosition does
// not check the plugin registry.
func (v *Vault) SetPlugin(caller, plugin string, enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	v.plugins[plugin] = enabled
	slog.Info("set plugin", "plugin", plugin, "enabled", enabled)
	v.broadcast("SetPlugin", map[string]any{"plugin": plugin, "enabled": enabled})
	return nil
}

// SetWhitelistedToken whitelists or delists an index token.
func (v *Vault) SetWhitelistedToken(caller, token string, enabled bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	v.whitelistedTokens[token] = enabled
	slog.Info("set whitelisted token", "token", token, "enabled", enabled)
	v.broadcast("SetWhitelistedToken", map[string]any{"token": token, "enabled": enabled})
	return nil
}

// Pause disables position increases and decreases and USDG buys and
// sells. LiquidatePosition and the owner setters are not gated by it.
// Read paths remain live.
func (v *Vault) Pause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	v.paused = true
	slog.Info("vault paused")
	return nil
}

// Unpause re-enables mutative operations.
func (v *Vault) Unpause(caller string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOwner(caller); err != nil {
		return err
	}
	v.paused = false
	slog.Info("vault unpaused")
	return nil
}

// IsPlugin reports whether caller is a registered plugin.
func (v *Vault) IsPlugin(caller string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.plugins[caller]
}

// IsWhitelisted reports whether token is whitelisted.
func (v *Vault) IsWhitelisted(token string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.whitelistedTokens[token]
}

// Paused reports the current pause state.
func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// --- Public accessors ---

// GetPosition returns the position for (account, indexToken, isLong),
// or nil if it does not exist.
func (v *Vault) GetPosition(ctx context.Context, account, indexToken string, isLong bool) (*model.Position, error) {
	return v.store.GetPosition(ctx, model.PositionKey(account, indexToken, isLong))
}

// PoolState returns a snapshot of the shared liquidity pool.
func (v *Vault) PoolState(ctx context.Context) (*model.PoolState, error) {
	return v.store.GetPoolState(ctx)
}

// FundingState returns a snapshot of the funding accumulator.
func (v *Vault) FundingState(ctx context.Context) (*model.FundingState, error) {
	return v.store.GetFundingState(ctx)
}

// LiquidatePositionAllowed is the read-only liquidation predicate.
func (v *Vault) LiquidatePositionAllowed(ctx context.Context, account, indexToken string, isLong bool) (LiquidationVerdict, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	position, err := v.store.GetPosition(ctx, model.PositionKey(account, indexToken, isLong))
	if err != nil {
		return LiquidationVerdict{}, err
	}
	if position == nil {
		position = &model.Position{}
	}
	funding, err := v.store.GetFundingState(ctx)
	if err != nil {
		return LiquidationVerdict{}, err
	}
	markPrice, err := v.priceFeed.GetPrice(ctx, indexToken, !isLong)
	if err != nil {
		return LiquidationVerdict{}, err
	}
	return liquidationVerdict(v.cfg, position, funding, markPrice, timeNow()), nil
}

// --- USDG ---

// BuyUSDG pulls amount of dollars from account, mints USDG 1:1 with
// the actual amount received (the dollar and USDG tokens are pegged;
// see internal/glpmanager for the LP-facing wrapper), and adds it to
// the pool.
func (v *Vault) BuyUSDG(ctx context.Context, account string, amount decimal.Decimal) (usdgMinted decimal.Decimal, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return decimal.Zero, ErrPaused
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidUsdgAmount
	}

	now := timeNow()
	pool, funding, err := v.loadPoolAndFunding(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if refreshCumulativeFundingRate(v.cfg, funding, pool, now) {
		metrics.FundingRefreshTotal.Inc()
	}

	actualAmount, err := v.ledger.TransferIn(ctx, account, amount)
	if err != nil {
		return decimal.Zero, err
	}

	heldBalance, err := v.ledger.Balance(ctx)
	if err != nil {
		_ = v.ledger.TransferOut(ctx, account, actualAmount)
		return decimal.Zero, err
	}
	if err := increasePoolAmount(pool, actualAmount, heldBalance); err != nil {
		_ = v.ledger.TransferOut(ctx, account, actualAmount)
		return decimal.Zero, err
	}

	if err := v.store.PutPoolState(ctx, pool); err != nil {
		return decimal.Zero, err
	}
	if err := v.store.PutFundingState(ctx, funding); err != nil {
		return decimal.Zero, err
	}

	slog.Info("buy usdg", "account", account, "amount", actualAmount.String())
	v.broadcast("BuyUSDG", map[string]any{"account": account, "amount": actualAmount.String()})
	return actualAmount, nil
}

// SellUSDG burns usdgAmount and returns the equivalent dollars from
// the pool to account.
func (v *Vault) SellUSDG(ctx context.Context, account string, usdgAmount decimal.Decimal) (dollarsOut decimal.Decimal, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return decimal.Zero, ErrPaused
	}
	if !usdgAmount.IsPositive() {
		return decimal.Zero, ErrInvalidUsdgAmount
	}

	now := timeNow()
	pool, funding, err := v.loadPoolAndFunding(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if refreshCumulativeFundingRate(v.cfg, funding, pool, now) {
		metrics.FundingRefreshTotal.Inc()
	}

	if err := decreasePoolAmount(pool, usdgAmount); err != nil {
		return decimal.Zero, err
	}

	if err := v.ledger.TransferOut(ctx, account, usdgAmount); err != nil {
		return decimal.Zero, err
	}

	if err := v.store.PutPoolState(ctx, pool); err != nil {
		return decimal.Zero, err
	}
	if err := v.store.PutFundingState(ctx, funding); err != nil {
		return decimal.Zero, err
	}

	slog.Info("sell usdg", "account", account, "amount", usdgAmount.String())
	v.broadcast("SellUSDG", map[string]any{"account": account, "amount": usdgAmount.String()})
	return usdgAmount, nil
}

// --- Liquidation ---

// LiquidatePosition closes an eligible position. Remaining collateral
// is retained by the pool; distribution to an insurance fund or
// liquidator reward is out of scope.
func (v *Vault) LiquidatePosition(ctx context.Context, account, indexToken string, isLong bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := timeNow()
	pool, funding, err := v.loadPoolAndFunding(ctx)
	if err != nil {
		return err
	}
	if refreshCumulativeFundingRate(v.cfg, funding, pool, now) {
		metrics.FundingRefreshTotal.Inc()
	}

	key := model.PositionKey(account, indexToken, isLong)
	position, err := v.store.GetPosition(ctx, key)
	if err != nil {
		return err
	}
	if position == nil || !position.Exists() {
		return ErrPositionNotExist
	}

	markPrice, err := v.priceFeed.GetPrice(ctx, indexToken, !isLong)
	if err != nil {
		return err
	}

	verdict := liquidationVerdict(v.cfg, position, funding, markPrice, now)
	if !verdict.Allowed {
		return ErrNotLiquidatable
	}

	decreaseReservedAmount(pool, position.ReserveAmount)
	if err := v.store.DeletePosition(ctx, key); err != nil {
		return err
	}
	if err := v.store.PutPoolState(ctx, pool); err != nil {
		return err
	}
	if err := v.store.PutFundingState(ctx, funding); err != nil {
		return err
	}

	v.adjustGlobalSize(indexToken, isLong, position.Size.Neg())
	metrics.LiquidationsTotal.WithLabelValues(indexToken, metrics.SideLabel(isLong)).Inc()

	slog.Info("liquidate position",
		"account", account, "index_token", indexToken, "is_long", isLong,
		"size", position.Size.String(), "reason", verdict.Reason,
	)
	v.broadcast("LiquidatePosition", map[string]any{
		"account": account, "index_token": indexToken, "is_long": isLong,
		"size": position.Size.String(),
	})

	return nil
}

// --- helpers ---

func (v *Vault) loadPoolAndFunding(ctx context.Context) (*model.PoolState, *model.FundingState, error) {
	pool, err := v.store.GetPoolState(ctx)
	if err != nil {
		return nil, nil, err
	}
	funding, err := v.store.GetFundingState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pool, funding, nil
}

func (v *Vault) adjustGlobalSize(token string, isLong bool, delta decimal.Decimal) {
	if v.limiter == nil {
		return
	}
	if isLong {
		v.globalLongSizes[token] = v.globalLongSizes[token].Add(delta)
	} else {
		v.globalShortSizes[token] = v.globalShortSizes[token].Add(delta)
	}
}

func (v *Vault) broadcast(eventType string, fields map[string]any) {
	if v.hub != nil {
		v.hub.Broadcast(eventType, fields)
	}
}
