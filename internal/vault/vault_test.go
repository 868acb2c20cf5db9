package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

// fakeLedger is a minimal model.Ledger that always transfers the full
// requested amount and tracks the running held balance.
type fakeLedger struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

func (l *fakeLedger) TransferIn(_ context.Context, _ string, amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	return amount, nil
}

func (l *fakeLedger) TransferOut(_ context.Context, _ string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Sub(amount)
	return nil
}

func (l *fakeLedger) Balance(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

// fakePriceFeed returns a fixed price per token regardless of the
// maximise flag; tests move the market by mutating Prices directly.
type fakePriceFeed struct {
	mu     sync.Mutex
	Prices map[string]decimal.Decimal
}

func (f *fakePriceFeed) GetPrice(_ context.Context, token string, _ bool) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Prices[token], nil
}

func (f *fakePriceFeed) set(token string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prices[token] = price
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testConfig() model.AdminConfig {
	return model.AdminConfig{
		FundingRateFactor: d("0.0001"),
		LiquidationFee:    d("5"),
		MarginFee:         d("0.001"),
		MaxLeverage:       d("50"),
		MinProfitTime:     time.Hour,
		MinProfitBasisPoints: map[string]decimal.Decimal{
			"BTC": d("0.0075"),
		},
	}
}

type harness struct {
	vault   *Vault
	store   *store.MemoryStore
	feed    *fakePriceFeed
	ledger  *fakeLedger
	account string
	plugin  string
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	feed := &fakePriceFeed{Prices: map[string]decimal.Decimal{"BTC": d("50000")}}
	ledger := &fakeLedger{}
	cfg := testConfig()
	v := NewVault("owner", st, feed, ledger, cfg, nil, nil)
	if err := v.SetPlugin("owner", "router", true); err != nil {
		t.Fatalf("SetPlugin: %v", err)
	}
	if err := v.SetWhitelistedToken("owner", "BTC", true); err != nil {
		t.Fatalf("SetWhitelistedToken: %v", err)
	}
	return &harness{vault: v, store: st, feed: feed, ledger: ledger, account: "alice", plugin: "router", token: "BTC"}
}

func withTime(t *testing.T, at time.Time, fn func()) {
	t.Helper()
	prev := nowFn
	nowFn = func() time.Time { return at }
	defer func() { nowFn = prev }()
	fn()
}

// seedPool buys USDG for a liquidity provider so the pool holds enough
// dollars for an open's reserve to fit within poolAmount.
func seedPool(t *testing.T, h *harness) {
	t.Helper()
	if _, err := h.vault.BuyUSDG(context.Background(), "lp", d("100000")); err != nil {
		t.Fatalf("BuyUSDG: %v", err)
	}
}

// --- Admin / authorization ---

func TestSetPluginRequiresOwner(t *testing.T) {
	h := newHarness(t)
	if err := h.vault.SetPlugin("mallory", "router2", true); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestIncreasePositionRejectsUnknownPlugin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.vault.IncreasePosition(ctx, "not-a-plugin", h.account, h.token, d("1000"), d("5000"), true)
	if !errors.Is(err, ErrNotPlugin) {
		t.Fatalf("expected ErrNotPlugin, got %v", err)
	}
}

func TestIncreasePositionRejectsUnwhitelistedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.vault.IncreasePosition(ctx, h.plugin, h.account, "ETH", d("1000"), d("5000"), true)
	if !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}
}

func TestIncreasePositionRejectsWhenPaused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.vault.Pause("owner"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
}

// --- Opening a position ---

func TestIncreasePositionOpensWithEntryPriceAtMark(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true)
	if err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	pos, err := h.vault.GetPosition(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil || !pos.Exists() {
		t.Fatalf("expected position to exist")
	}
	if !pos.EntryPrice.Equal(d("50000")) {
		t.Fatalf("expected entry price 50000, got %s", pos.EntryPrice)
	}
	wantFee := d("5000").Mul(d("0.001"))
	wantCollateral := d("1000").Sub(wantFee)
	if !pos.Collateral.Equal(wantCollateral) {
		t.Fatalf("expected collateral %s, got %s", wantCollateral, pos.Collateral)
	}
}

// TestIncreasePositionRejectsSizeBelowCollateral: opening a position
// whose size is smaller than the fee-adjusted collateral must fail.
func TestIncreasePositionRejectsSizeBelowCollateral(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("500"), true)
	if !errors.Is(err, ErrSizeLessThanCollateral) {
		t.Fatalf("expected ErrSizeLessThanCollateral, got %v", err)
	}

	// The dollar pull must have been refunded: the held balance is
	// back to zero since the whole call failed.
	bal, _ := h.ledger.Balance(ctx)
	if !bal.IsZero() {
		t.Fatalf("expected ledger balance refunded to zero, got %s", bal)
	}
}

// TestIncreasePositionZeroSizeDeltaUpdatesFundingSnapshotOnly covers the
// boundary case: sizeDelta = 0 on an existing position still refreshes
// entryFundingRate and lastIncreasedTime but must not perturb entryPrice.
func TestIncreasePositionZeroSizeDeltaUpdatesFundingSnapshotOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withTime(t, t0, func() {
		seedPool(t, h)
		if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true); err != nil {
			t.Fatalf("IncreasePosition: %v", err)
		}
	})

	before, _ := h.vault.GetPosition(ctx, h.account, h.token, true)

	t1 := t0.Add(9 * time.Hour)
	h.feed.set(h.token, d("51000"))
	withTime(t, t1, func() {
		if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("0"), d("0"), true); err != nil {
			t.Fatalf("IncreasePosition (zero delta): %v", err)
		}
	})

	after, _ := h.vault.GetPosition(ctx, h.account, h.token, true)
	if !after.EntryPrice.Equal(before.EntryPrice) {
		t.Fatalf("entry price must not change on zero sizeDelta: before=%s after=%s", before.EntryPrice, after.EntryPrice)
	}
	if !after.LastIncreasedTime.Equal(t1) {
		t.Fatalf("expected lastIncreasedTime advanced to %v, got %v", t1, after.LastIncreasedTime)
	}
}

// --- Pool / funding invariants ---

func TestRefreshCumulativeFundingRateFreezesOnEmptyPool(t *testing.T) {
	cfg := testConfig()
	funding := &model.FundingState{}
	pool := &model.PoolState{PoolAmount: decimal.Zero, ReservedAmount: d("1000")}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	refreshCumulativeFundingRate(cfg, funding, pool, t0)
	if !funding.LastRefreshFundingRateTimestamp.Equal(t0) {
		t.Fatalf("first call must seed the timestamp")
	}

	t1 := t0.Add(FundingInterval)
	advanced := refreshCumulativeFundingRate(cfg, funding, pool, t1)
	if !advanced {
		t.Fatalf("expected refresh to report advancement once interval elapsed")
	}
	if !funding.CumulativeFundingRate.IsZero() {
		t.Fatalf("cumulative funding rate must stay frozen while pool is empty, got %s", funding.CumulativeFundingRate)
	}
	if !funding.LastRefreshFundingRateTimestamp.Equal(t1) {
		t.Fatalf("timestamp must still advance even though the accumulator froze")
	}
}

func TestRefreshCumulativeFundingRateIsMonotone(t *testing.T) {
	cfg := testConfig()
	funding := &model.FundingState{}
	pool := &model.PoolState{PoolAmount: d("100000"), ReservedAmount: d("40000")}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	refreshCumulativeFundingRate(cfg, funding, pool, t0)

	prev := funding.CumulativeFundingRate
	for i := 1; i <= 3; i++ {
		next := t0.Add(time.Duration(i) * FundingInterval)
		refreshCumulativeFundingRate(cfg, funding, pool, next)
		if funding.CumulativeFundingRate.LessThan(prev) {
			t.Fatalf("cumulative funding rate must never decrease: prev=%s next=%s", prev, funding.CumulativeFundingRate)
		}
		prev = funding.CumulativeFundingRate
	}
	if prev.IsZero() {
		t.Fatalf("expected cumulative funding rate to have advanced")
	}
}

func TestRefreshCumulativeFundingRateNoOpBeforeInterval(t *testing.T) {
	cfg := testConfig()
	funding := &model.FundingState{}
	pool := &model.PoolState{PoolAmount: d("100000"), ReservedAmount: d("40000")}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	refreshCumulativeFundingRate(cfg, funding, pool, t0)

	partial := t0.Add(FundingInterval - time.Second)
	advanced := refreshCumulativeFundingRate(cfg, funding, pool, partial)
	if advanced {
		t.Fatalf("expected no-op before a full interval has elapsed")
	}
	if !funding.LastRefreshFundingRateTimestamp.Equal(t0) {
		t.Fatalf("timestamp must not move on a no-op refresh")
	}
}

func TestIncreasePoolAmountRejectsExceedingHeldBalance(t *testing.T) {
	pool := &model.PoolState{PoolAmount: d("100")}
	err := increasePoolAmount(pool, d("50"), d("120"))
	if !errors.Is(err, ErrPoolExceedsBalance) {
		t.Fatalf("expected ErrPoolExceedsBalance, got %v", err)
	}
}

func TestDecreaseReservedAmountSaturatesAtZero(t *testing.T) {
	pool := &model.PoolState{ReservedAmount: d("10")}
	decreaseReservedAmount(pool, d("50"))
	if !pool.ReservedAmount.IsZero() {
		t.Fatalf("expected reserved amount to saturate at zero, got %s", pool.ReservedAmount)
	}
}

// --- Round trip / conservation ---

// TestOpenAndCloseRoundTripNetsExactlyTheTwoFees verifies the
// accounting-conservation property: opening then immediately closing a
// position at an unchanged mark price returns the collateral paid in
// minus exactly the open fee and the close fee, and deletes the
// position record.
func TestOpenAndCloseRoundTripNetsExactlyTheTwoFees(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	amountIn := d("1000")
	sizeDelta := d("5000")
	openFee := sizeDelta.Mul(d("0.001"))

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, amountIn, sizeDelta, true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	pos, _ := h.vault.GetPosition(ctx, h.account, h.token, true)
	collateralAfterOpen := pos.Collateral

	closeFee := sizeDelta.Mul(d("0.001"))
	usdOut, err := h.vault.DecreasePosition(ctx, h.plugin, h.account, h.token, decimal.Zero, sizeDelta, true)
	if err != nil {
		t.Fatalf("DecreasePosition: %v", err)
	}

	wantUsdOut := collateralAfterOpen.Sub(closeFee)
	if !usdOut.Equal(wantUsdOut) {
		t.Fatalf("expected usdOut %s (collateral %s - closeFee %s), got %s", wantUsdOut, collateralAfterOpen, closeFee, usdOut)
	}

	total := amountIn.Sub(openFee).Sub(closeFee)
	if !usdOut.Equal(total) {
		t.Fatalf("round trip should net amountIn - openFee - closeFee = %s, got %s", total, usdOut)
	}

	after, err := h.vault.GetPosition(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("GetPosition after close: %v", err)
	}
	if after != nil {
		t.Fatalf("expected position deleted after full close, got %+v", after)
	}
}

func TestDecreasePositionFullSizeDeltaDeletesPosition(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}
	pos, _ := h.vault.GetPosition(ctx, h.account, h.token, true)

	if _, err := h.vault.DecreasePosition(ctx, h.plugin, h.account, h.token, decimal.Zero, pos.Size, true); err != nil {
		t.Fatalf("DecreasePosition: %v", err)
	}

	after, err := h.vault.GetPosition(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if after != nil {
		t.Fatalf("expected position deleted, got %+v", after)
	}
}

func TestDecreasePositionRejectsSizeDeltaAboveCurrentSize(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	_, err := h.vault.DecreasePosition(ctx, h.plugin, h.account, h.token, decimal.Zero, d("6000"), true)
	if !errors.Is(err, ErrInvalidPositionSize) {
		t.Fatalf("expected ErrInvalidPositionSize, got %v", err)
	}
}

func TestDecreasePositionMissingPositionErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.vault.DecreasePosition(ctx, h.plugin, h.account, h.token, decimal.Zero, d("1"), true)
	if !errors.Is(err, ErrPositionNotExist) {
		t.Fatalf("expected ErrPositionNotExist, got %v", err)
	}
}

// --- Liquidation ---

// TestLiquidatePositionRejectsHealthyPositionWithPinnedMessage pins the
// exact liquidation-rejection error string.
func TestLiquidatePositionRejectsHealthyPositionWithPinnedMessage(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	err := h.vault.LiquidatePosition(ctx, h.account, h.token, true)
	if err == nil {
		t.Fatalf("expected liquidation of a healthy position to fail")
	}
	if err.Error() != "Vault: position cannot be liquidated" {
		t.Fatalf("expected pinned message %q, got %q", "Vault: position cannot be liquidated", err.Error())
	}
	if !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected errors.Is match on ErrNotLiquidatable")
	}
}

// TestLiquidatePositionAllowedOnCrushingLoss drives the mark price far
// enough against a long that losses exceed collateral, then confirms
// LiquidatePosition succeeds and removes the position.
func TestLiquidatePositionAllowedOnCrushingLoss(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, d("1000"), d("5000"), true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	h.feed.set(h.token, d("10000"))

	verdict, err := h.vault.LiquidatePositionAllowed(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("LiquidatePositionAllowed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected liquidation to be allowed after a crushing loss")
	}
	if !errors.Is(verdict.Reason, ErrLossesExceedCollateral) {
		t.Fatalf("expected ErrLossesExceedCollateral, got %v", verdict.Reason)
	}

	if err := h.vault.LiquidatePosition(ctx, h.account, h.token, true); err != nil {
		t.Fatalf("LiquidatePosition: %v", err)
	}
	after, _ := h.vault.GetPosition(ctx, h.account, h.token, true)
	if after != nil {
		t.Fatalf("expected position removed after liquidation")
	}
}

// TestLiquidatePositionAllowedAtMaxLeverageBoundary opens a position at
// exactly the configured max leverage and checks the boundary is
// exclusive: leverage == maxLeverage passes, leverage > maxLeverage
// trips ErrMaxLeverageExceeded.
func TestLiquidatePositionAllowedAtMaxLeverageBoundary(t *testing.T) {
	h := newHarness(t)
	seedPool(t, h)
	ctx := context.Background()

	// amountIn chosen so that, after the open fee, collateral times
	// maxLeverage (50) lands just at size.
	sizeDelta := d("5000")
	openFee := sizeDelta.Mul(d("0.001")) // 5
	collateral := sizeDelta.Div(d("50")) // exactly maxLeverage
	amountIn := collateral.Add(openFee)

	if err := h.vault.IncreasePosition(ctx, h.plugin, h.account, h.token, amountIn, sizeDelta, true); err != nil {
		t.Fatalf("IncreasePosition: %v", err)
	}

	verdict, err := h.vault.LiquidatePositionAllowed(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("LiquidatePositionAllowed: %v", err)
	}
	if verdict.Allowed {
		t.Fatalf("expected leverage exactly at the max to remain healthy, got reason %v", verdict.Reason)
	}

	// A 20-point drop costs 5000*20/50000 = 2 of collateral, leaving 98:
	// 5000/98 truncates to 51, past the max.
	h.feed.set(h.token, d("49980"))
	verdict, err = h.vault.LiquidatePositionAllowed(ctx, h.account, h.token, true)
	if err != nil {
		t.Fatalf("LiquidatePositionAllowed: %v", err)
	}
	if !verdict.Allowed || !errors.Is(verdict.Reason, ErrMaxLeverageExceeded) {
		t.Fatalf("expected ErrMaxLeverageExceeded above the max, got allowed=%v reason=%v", verdict.Allowed, verdict.Reason)
	}
}

func TestLiquidatePositionMissingPositionErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.vault.LiquidatePosition(ctx, h.account, h.token, true)
	if !errors.Is(err, ErrPositionNotExist) {
		t.Fatalf("expected ErrPositionNotExist, got %v", err)
	}
}

// --- USDG ---

func TestBuyThenSellUSDGRoundTrips(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	minted, err := h.vault.BuyUSDG(ctx, h.account, d("2000"))
	if err != nil {
		t.Fatalf("BuyUSDG: %v", err)
	}
	if !minted.Equal(d("2000")) {
		t.Fatalf("expected 1:1 mint, got %s", minted)
	}

	pool, err := h.vault.PoolState(ctx)
	if err != nil {
		t.Fatalf("PoolState: %v", err)
	}
	if !pool.PoolAmount.Equal(d("2000")) {
		t.Fatalf("expected pool amount 2000, got %s", pool.PoolAmount)
	}

	dollarsOut, err := h.vault.SellUSDG(ctx, h.account, d("2000"))
	if err != nil {
		t.Fatalf("SellUSDG: %v", err)
	}
	if !dollarsOut.Equal(d("2000")) {
		t.Fatalf("expected 2000 back, got %s", dollarsOut)
	}

	pool, _ = h.vault.PoolState(ctx)
	if !pool.PoolAmount.IsZero() {
		t.Fatalf("expected pool drained back to zero, got %s", pool.PoolAmount)
	}
}

func TestSellUSDGRejectsExceedingPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.vault.BuyUSDG(ctx, h.account, d("500")); err != nil {
		t.Fatalf("BuyUSDG: %v", err)
	}
	_, err := h.vault.SellUSDG(ctx, h.account, d("1000"))
	if !errors.Is(err, ErrPoolUnderflow) {
		t.Fatalf("expected ErrPoolUnderflow, got %v", err)
	}
}

func TestBuyUSDGRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.vault.BuyUSDG(ctx, h.account, decimal.Zero)
	if !errors.Is(err, ErrInvalidUsdgAmount) {
		t.Fatalf("expected ErrInvalidUsdgAmount, got %v", err)
	}
}
