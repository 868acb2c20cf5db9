// Package glpmanager wraps Vault.BuyUSDG/SellUSDG with a proportional
// LP share token (GLP): depositors receive shares proportional to the
// USDG value they add relative to the pool's current assets under
// management, and redeem shares for a proportional slice of the pool.
package glpmanager

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// ErrInvalidAmount is returned for a non-positive deposit or
// withdrawal amount.
var ErrInvalidAmount = errors.New("glpmanager: amount must be positive")

// ErrInsufficientShares is returned when an account attempts to
// redeem more GLP than it holds.
var ErrInsufficientShares = errors.New("glpmanager: insufficient GLP balance")

// VaultCaller is the subset of vault.Vault GlpManager depends on.
type VaultCaller interface {
	BuyUSDG(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)
	SellUSDG(ctx context.Context, account string, usdgAmount decimal.Decimal) (decimal.Decimal, error)
	PoolState(ctx context.Context) (*model.PoolState, error)
}

// GlpManager is the LP onboarding component. GLP balances and total
// supply are tracked in-memory only: like the exposure limiter, this
// is ambient bookkeeping layered on top of the Vault's persisted
// pool/position state, not itself part of the settlement ledger of
// record.
type GlpManager struct {
	mu sync.Mutex

	vault VaultCaller

	mintFee decimal.Decimal
	burnFee decimal.Decimal

	totalSupply decimal.Decimal
	balances    map[string]decimal.Decimal
}

// NewGlpManager constructs a GlpManager. mintFee and burnFee are
// fractions (e.g. 0.001 for 10 basis points) charged as a haircut on
// deposit and withdrawal respectively; neither is paid out anywhere,
// so both are simply forfeited by whoever triggers them.
func NewGlpManager(vault VaultCaller, mintFee, burnFee decimal.Decimal) *GlpManager {
	return &GlpManager{
		vault:    vault,
		mintFee:  mintFee,
		burnFee:  burnFee,
		balances: make(map[string]decimal.Decimal),
	}
}

// AddLiquidity charges the mint fee up front: only the post-fee amount
// is ever pulled via Vault.BuyUSDG and added to the pool, so the fee
// is a straightforward haircut rather than pool-diluting revenue.
// GLP is minted proportional to the post-fee USDG value relative to
// the pool's assets under management before this deposit.
func (g *GlpManager) AddLiquidity(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	aumBefore, err := g.aum(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	netAmount := amount.Sub(amount.Mul(g.mintFee))

	usdgMinted, err := g.vault.BuyUSDG(ctx, account, netAmount)
	if err != nil {
		return decimal.Zero, err
	}

	var glpMinted decimal.Decimal
	if g.totalSupply.IsZero() || aumBefore.IsZero() {
		glpMinted = usdgMinted
	} else {
		glpMinted = usdgMinted.Mul(g.totalSupply).Div(aumBefore)
	}

	g.totalSupply = g.totalSupply.Add(glpMinted)
	g.balances[account] = g.balances[account].Add(glpMinted)

	slog.Info("add liquidity", "account", account, "amount", amount.String(), "glp_minted", glpMinted.String())
	return glpMinted, nil
}

// RemoveLiquidity burns glpAmount of the account's GLP and returns the
// proportional dollar value via Vault.SellUSDG, minus the burn fee
// retained in the pool.
func (g *GlpManager) RemoveLiquidity(ctx context.Context, account string, glpAmount decimal.Decimal) (decimal.Decimal, error) {
	if !glpAmount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	balance := g.balances[account]
	if balance.LessThan(glpAmount) {
		return decimal.Zero, ErrInsufficientShares
	}

	if g.totalSupply.IsZero() {
		return decimal.Zero, ErrInsufficientShares
	}

	aum, err := g.aum(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	usdgValue := glpAmount.Mul(aum).Div(g.totalSupply)
	netValue := usdgValue.Sub(usdgValue.Mul(g.burnFee))

	dollarsOut, err := g.vault.SellUSDG(ctx, account, netValue)
	if err != nil {
		return decimal.Zero, err
	}

	g.balances[account] = balance.Sub(glpAmount)
	g.totalSupply = g.totalSupply.Sub(glpAmount)

	slog.Info("remove liquidity", "account", account, "glp_amount", glpAmount.String(), "dollars_out", dollarsOut.String())
	return dollarsOut, nil
}

// BalanceOf returns account's current GLP balance.
func (g *GlpManager) BalanceOf(account string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account]
}

// TotalSupply returns the total outstanding GLP.
func (g *GlpManager) TotalSupply() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalSupply
}

// aum returns the pool's assets under management, the basis for GLP
// share pricing.
func (g *GlpManager) aum(ctx context.Context) (decimal.Decimal, error) {
	pool, err := g.vault.PoolState(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return pool.PoolAmount, nil
}
