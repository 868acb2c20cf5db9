// Package ledger provides a Ledger implementation for development and
// tests. A real deployment would back model.Ledger with the actual
// dollar/USDG token contracts; that mechanics is explicitly out of
// scope here (see spec §1 Non-goals).
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-memory model.Ledger. Each account has an
// independent balance it can transfer in from; the engine's own held
// balance accumulates everything transferred in and depletes on
// transfer-out.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]decimal.Decimal
	held     decimal.Decimal
	// FeeRate models fee-on-transfer tokens: TransferIn only credits
	// amount*(1-FeeRate) to the held balance, exercising the
	// actual-delta-measurement discipline the Vault requires.
	FeeRate decimal.Decimal
}

// NewMemoryLedger creates a ledger with no funded accounts; credit
// accounts with Fund.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]decimal.Decimal)}
}

// Fund credits account with amount, for test setup.
func (l *MemoryLedger) Fund(account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[account] = l.accounts[account].Add(amount)
}

// AccountBalance returns an account's spendable balance.
func (l *MemoryLedger) AccountBalance(account string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[account]
}

func (l *MemoryLedger) TransferIn(_ context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("ledger: negative transfer amount")
	}
	bal := l.accounts[account]
	if bal.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("ledger: account %s has insufficient balance", account)
	}
	l.accounts[account] = bal.Sub(amount)

	actual := amount
	if l.FeeRate.IsPositive() {
		actual = amount.Mul(decimal.NewFromInt(1).Sub(l.FeeRate))
	}
	l.held = l.held.Add(actual)
	return actual, nil
}

func (l *MemoryLedger) TransferOut(_ context.Context, account string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsNegative() {
		return fmt.Errorf("ledger: negative transfer amount")
	}
	if l.held.LessThan(amount) {
		return fmt.Errorf("ledger: insufficient held balance")
	}
	l.held = l.held.Sub(amount)
	l.accounts[account] = l.accounts[account].Add(amount)
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held, nil
}
