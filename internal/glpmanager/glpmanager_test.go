package glpmanager

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// fakeVault is a minimal VaultCaller backed by a single pool balance,
// enough to exercise AUM-relative share pricing without the full Vault.
type fakeVault struct {
	pool decimal.Decimal
}

func (v *fakeVault) BuyUSDG(_ context.Context, _ string, amount decimal.Decimal) (decimal.Decimal, error) {
	v.pool = v.pool.Add(amount)
	return amount, nil
}

func (v *fakeVault) SellUSDG(_ context.Context, _ string, usdgAmount decimal.Decimal) (decimal.Decimal, error) {
	if usdgAmount.GreaterThan(v.pool) {
		return decimal.Zero, errInsufficientPool
	}
	v.pool = v.pool.Sub(usdgAmount)
	return usdgAmount, nil
}

func (v *fakeVault) PoolState(_ context.Context) (*model.PoolState, error) {
	return &model.PoolState{PoolAmount: v.pool}, nil
}

var errInsufficientPool = decimalErr("fakeVault: pool exceeded")

type decimalErr string

func (e decimalErr) Error() string { return string(e) }

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// TestAddLiquidityBootstrapsOneToOne verifies the first depositor into
// an empty pool receives GLP equal to the post-fee USDG value.
func TestAddLiquidityBootstrapsOneToOne(t *testing.T) {
	vlt := &fakeVault{}
	g := NewGlpManager(vlt, d("0.001"), d("0.001"))
	ctx := context.Background()

	minted, err := g.AddLiquidity(ctx, "lp1", d("1000"))
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	want := d("1000").Sub(d("1000").Mul(d("0.001"))) // 999
	if !minted.Equal(want) {
		t.Fatalf("expected %s GLP minted, got %s", want, minted)
	}
	if !g.TotalSupply().Equal(want) {
		t.Fatalf("expected total supply %s, got %s", want, g.TotalSupply())
	}
	if !g.BalanceOf("lp1").Equal(want) {
		t.Fatalf("expected lp1 balance %s, got %s", want, g.BalanceOf("lp1"))
	}
}

// TestSecondDepositorPricedAgainstExistingAum verifies a later
// depositor is priced against AUM as it stood before their deposit,
// not diluted by their own contribution.
func TestSecondDepositorPricedAgainstExistingAum(t *testing.T) {
	vlt := &fakeVault{}
	g := NewGlpManager(vlt, decimal.Zero, decimal.Zero)
	ctx := context.Background()

	if _, err := g.AddLiquidity(ctx, "lp1", d("1000")); err != nil {
		t.Fatalf("first AddLiquidity: %v", err)
	}
	// pool doubles in value externally (e.g. fees accrued elsewhere)
	vlt.pool = d("2000")

	minted, err := g.AddLiquidity(ctx, "lp2", d("1000"))
	if err != nil {
		t.Fatalf("second AddLiquidity: %v", err)
	}
	// lp2 contributes 1000 against an existing AUM of 2000 and supply of
	// 1000, so should receive 1000 * 1000 / 2000 = 500 GLP.
	if !minted.Equal(d("500")) {
		t.Fatalf("expected 500 GLP minted, got %s", minted)
	}
}

// TestRoundTripNetsOriginalAmountMinusTwoFees verifies that adding and
// then fully removing liquidity at an unchanged pool price returns
// less than the original deposit by roughly the mint and burn fees,
// with nothing left unaccounted for.
func TestRoundTripNetsOriginalAmountMinusTwoFees(t *testing.T) {
	vlt := &fakeVault{}
	mintFee := d("0.001")
	burnFee := d("0.001")
	g := NewGlpManager(vlt, mintFee, burnFee)
	ctx := context.Background()

	deposit := d("1000")
	minted, err := g.AddLiquidity(ctx, "lp1", deposit)
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}

	dollarsOut, err := g.RemoveLiquidity(ctx, "lp1", minted)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}

	if !dollarsOut.LessThan(deposit) {
		t.Fatalf("expected round trip to net less than the original deposit, got %s", dollarsOut)
	}

	afterMint := deposit.Sub(deposit.Mul(mintFee))       // 999
	expectedOut := afterMint.Sub(afterMint.Mul(burnFee)) // 998.001
	if !dollarsOut.Equal(expectedOut) {
		t.Fatalf("expected %s back, got %s", expectedOut, dollarsOut)
	}

	if !g.TotalSupply().IsZero() {
		t.Fatalf("expected zero outstanding GLP after full redemption, got %s", g.TotalSupply())
	}
	// The mint fee was never pulled from the depositor at all (a
	// haircut on the deposit); only the burn fee's residual is left
	// sitting unclaimed in the pool once the sole depositor's shares
	// are fully redeemed.
	wantResidual := afterMint.Mul(burnFee)
	if !vlt.pool.Equal(wantResidual) {
		t.Fatalf("expected burn-fee residual %s left in pool, got %s", wantResidual, vlt.pool)
	}
}

func TestAddLiquidityRejectsNonPositiveAmount(t *testing.T) {
	vlt := &fakeVault{}
	g := NewGlpManager(vlt, decimal.Zero, decimal.Zero)
	ctx := context.Background()

	if _, err := g.AddLiquidity(ctx, "lp1", decimal.Zero); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := g.AddLiquidity(ctx, "lp1", d("-5")); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRemoveLiquidityRejectsExceedingBalance(t *testing.T) {
	vlt := &fakeVault{}
	g := NewGlpManager(vlt, decimal.Zero, decimal.Zero)
	ctx := context.Background()

	if _, err := g.AddLiquidity(ctx, "lp1", d("100")); err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	if _, err := g.RemoveLiquidity(ctx, "lp1", d("101")); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestRemoveLiquidityRejectsWhenNoSupplyOutstanding(t *testing.T) {
	vlt := &fakeVault{}
	g := NewGlpManager(vlt, decimal.Zero, decimal.Zero)
	ctx := context.Background()

	if _, err := g.RemoveLiquidity(ctx, "lp1", d("10")); err != ErrInsufficientShares {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}
