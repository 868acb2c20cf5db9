package vault

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// LiquidationVerdict is the tagged-sum result of the liquidation
// predicate: a systems port returns this instead of the historical
// integer error-code pattern, while preserving the exact set of
// externally observable failure identities.
type LiquidationVerdict struct {
	Allowed bool
	Reason  error
}

// positionFees computes the margin fee on sizeDelta plus the funding
// fee on size, in that order, matching the ordering note in
// SPEC_FULL.md §11: fundingFee uses the position's *current* size but
// its funding rate snapshot as of entry, however stale.
func positionFees(cfg model.AdminConfig, size, sizeDelta, cumulativeFundingRate, entryFundingRate decimal.Decimal) decimal.Decimal {
	positionFee := sizeDelta.Mul(cfg.MarginFee)
	fundingFee := size.Mul(cumulativeFundingRate.Sub(entryFundingRate))
	return positionFee.Add(fundingFee)
}

// liquidationVerdict implements liquidatePositionAllowed: the
// disjunction of losses-exceed-collateral, fees-exceed-collateral,
// liquidation-fees-exceed-collateral, or leverage-exceeds-max.
// markPrice must already be fetched with the conservative maximise
// choice for computing PnL (min for long, max for short).
func liquidationVerdict(cfg model.AdminConfig, position *model.Position, funding *model.FundingState, markPrice decimal.Decimal, now time.Time) LiquidationVerdict {
	if !position.Exists() {
		return LiquidationVerdict{Allowed: false, Reason: ErrPositionNotExist}
	}

	hasProfit, delta := getDelta(cfg, position, markPrice, now)

	if !hasProfit && position.Collateral.LessThanOrEqual(delta) {
		return LiquidationVerdict{Allowed: true, Reason: ErrLossesExceedCollateral}
	}

	remainingCollateral := position.Collateral
	if !hasProfit {
		remainingCollateral = position.Collateral.Sub(delta)
	}

	fees := positionFees(cfg, position.Size, position.Size, funding.CumulativeFundingRate, position.EntryFundingRate)
	if remainingCollateral.LessThan(fees) {
		return LiquidationVerdict{Allowed: true, Reason: ErrFeesExceedCollateral}
	}
	if remainingCollateral.LessThan(fees.Add(cfg.LiquidationFee)) {
		return LiquidationVerdict{Allowed: true, Reason: ErrLiquidationFeesExceedCollateral}
	}

	leverage := truncDiv(position.Size, remainingCollateral)
	if leverage.GreaterThan(cfg.MaxLeverage) {
		return LiquidationVerdict{Allowed: true, Reason: ErrMaxLeverageExceeded}
	}

	return LiquidationVerdict{Allowed: false, Reason: nil}
}
