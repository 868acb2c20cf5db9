package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger abstracts the opaque balance-transferring collaborators (the
// dollar and USDG tokens). Wallet/signature handling and token-contract
// mechanics are out of scope for this engine — callers are expected to
// have already authorized the transfer; Ledger only moves balances and
// reports what actually moved, so fee-on-transfer tokens are handled
// correctly by measuring the delta rather than trusting the requested
// amount.
type Ledger interface {
	// TransferIn pulls amount from the account into the engine's held
	// balance and returns the amount actually received.
	TransferIn(ctx context.Context, account string, amount decimal.Decimal) (decimal.Decimal, error)

	// TransferOut pays amount from the engine's held balance to account.
	TransferOut(ctx context.Context, account string, amount decimal.Decimal) error

	// Balance returns the engine's current held balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
}
