// Package model defines the core domain types shared across the
// settlement engine. All monetary values use shopspring/decimal —
// never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open leveraged exposure keyed by (Account, IndexToken,
// IsLong). Zero value fields other than the key mean "does not exist".
type Position struct {
	Account           string          `json:"account" db:"account"`
	IndexToken        string          `json:"index_token" db:"index_token"`
	IsLong            bool            `json:"is_long" db:"is_long"`
	Size              decimal.Decimal `json:"size" db:"size"`
	Collateral        decimal.Decimal `json:"collateral" db:"collateral"`
	EntryPrice        decimal.Decimal `json:"entry_price" db:"entry_price"`
	EntryFundingRate  decimal.Decimal `json:"entry_funding_rate" db:"entry_funding_rate"`
	ReserveAmount     decimal.Decimal `json:"reserve_amount" db:"reserve_amount"`
	RealisedPnl       decimal.Decimal `json:"realised_pnl" db:"realised_pnl"` // signed
	LastIncreasedTime time.Time       `json:"last_increased_time" db:"last_increased_time"`
}

// Exists reports whether the position is open. size > 0 <=> exists.
func (p *Position) Exists() bool {
	return p.Size.IsPositive()
}

// PoolState is the Vault's shared liquidity pool.
type PoolState struct {
	PoolAmount     decimal.Decimal `json:"pool_amount" db:"pool_amount"`
	ReservedAmount decimal.Decimal `json:"reserved_amount" db:"reserved_amount"`
	FeeReserves    decimal.Decimal `json:"fee_reserves" db:"fee_reserves"`
}

// FundingState is the utilization-based funding rate accumulator.
type FundingState struct {
	CumulativeFundingRate           decimal.Decimal `json:"cumulative_funding_rate" db:"cumulative_funding_rate"`
	LastRefreshFundingRateTimestamp time.Time        `json:"last_refresh_funding_rate_timestamp" db:"last_refresh_funding_rate_timestamp"`
}

// AdminConfig holds the Vault's owner-controlled parameters.
type AdminConfig struct {
	FundingRateFactor    decimal.Decimal            `json:"funding_rate_factor"`
	LiquidationFee       decimal.Decimal            `json:"liquidation_fee"`
	MarginFee            decimal.Decimal            `json:"margin_fee"`
	MaxLeverage          decimal.Decimal            `json:"max_leverage"`
	MinProfitTime        time.Duration              `json:"min_profit_time"`
	MinProfitBasisPoints map[string]decimal.Decimal `json:"min_profit_basis_points"`
}

// IncreaseOrder is a conditional order to grow or open a position once a
// trigger price condition is met. Indexed by (Account, OrderIndex).
type IncreaseOrder struct {
	Account                string          `json:"account" db:"account"`
	OrderIndex             uint64          `json:"order_index" db:"order_index"`
	IndexToken             string          `json:"index_token" db:"index_token"`
	Amount                 decimal.Decimal `json:"amount" db:"amount"` // escrowed collateral
	SizeDelta              decimal.Decimal `json:"size_delta" db:"size_delta"`
	IsLong                 bool            `json:"is_long" db:"is_long"`
	TriggerPrice           decimal.Decimal `json:"trigger_price" db:"trigger_price"`
	TriggerAboveThreshold  bool            `json:"trigger_above_threshold" db:"trigger_above_threshold"`
}

// DecreaseOrder is a conditional order to shrink or close a position once
// a trigger price condition is met. Indexed by (Account, OrderIndex).
type DecreaseOrder struct {
	Account               string          `json:"account" db:"account"`
	OrderIndex            uint64          `json:"order_index" db:"order_index"`
	IndexToken            string          `json:"index_token" db:"index_token"`
	CollateralDelta       decimal.Decimal `json:"collateral_delta" db:"collateral_delta"`
	SizeDelta             decimal.Decimal `json:"size_delta" db:"size_delta"`
	IsLong                bool            `json:"is_long" db:"is_long"`
	TriggerPrice          decimal.Decimal `json:"trigger_price" db:"trigger_price"`
	TriggerAboveThreshold bool            `json:"trigger_above_threshold" db:"trigger_above_threshold"`
}

// IncreasePositionRequest is a delayed market-order request to grow or
// open a position, keyed by hash(Account, RequestIndex).
type IncreasePositionRequest struct {
	Key           string          `json:"key" db:"key"`
	Account       string          `json:"account" db:"account"`
	RequestIndex  uint64          `json:"request_index" db:"request_index"`
	IndexToken    string          `json:"index_token" db:"index_token"`
	AmountIn      decimal.Decimal `json:"amount_in" db:"amount_in"`
	SizeDelta     decimal.Decimal `json:"size_delta" db:"size_delta"`
	IsLong        bool            `json:"is_long" db:"is_long"`
	BlockTime     time.Time       `json:"block_time" db:"block_time"`
	ExecutionFee  decimal.Decimal `json:"execution_fee" db:"execution_fee"`
}

// DecreasePositionRequest is a delayed market-order request to shrink or
// close a position, keyed by hash(Account, RequestIndex).
type DecreasePositionRequest struct {
	Key             string          `json:"key" db:"key"`
	Account         string          `json:"account" db:"account"`
	RequestIndex    uint64          `json:"request_index" db:"request_index"`
	IndexToken      string          `json:"index_token" db:"index_token"`
	CollateralDelta decimal.Decimal `json:"collateral_delta" db:"collateral_delta"`
	SizeDelta       decimal.Decimal `json:"size_delta" db:"size_delta"`
	IsLong          bool            `json:"is_long" db:"is_long"`
	BlockTime       time.Time       `json:"block_time" db:"block_time"`
	ExecutionFee    decimal.Decimal `json:"execution_fee" db:"execution_fee"`
}
