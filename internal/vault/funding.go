package vault

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// FundingInterval is the minimum period between funding accumulator
// advances (8 hours).
const FundingInterval = 28_800 * time.Second

// refreshCumulativeFundingRate advances funding.CumulativeFundingRate
// up to now if at least one full FundingInterval has elapsed since the
// last refresh. It reports whether a refresh ran (a full interval had
// elapsed and the timestamp moved), which is also true when an empty
// pool leaves the accumulator unchanged.
//
// When poolAmount is zero the accumulator does not advance even though
// the timestamp still moves forward — this is deliberate (see the
// preserved single-market behavior: the accumulator freezes until
// liquidity returns rather than compounding against an empty pool).
func refreshCumulativeFundingRate(cfg model.AdminConfig, funding *model.FundingState, pool *model.PoolState, now time.Time) bool {
	if funding.LastRefreshFundingRateTimestamp.IsZero() {
		funding.LastRefreshFundingRateTimestamp = now
		return false
	}

	elapsed := now.Sub(funding.LastRefreshFundingRateTimestamp)
	if elapsed < FundingInterval {
		return false
	}

	intervals := fundingIntervals(funding.LastRefreshFundingRateTimestamp, now, FundingInterval)
	if pool.PoolAmount.IsPositive() {
		delta := cfg.FundingRateFactor.
			Mul(pool.ReservedAmount).
			Mul(decimal.NewFromInt(intervals)).
			Div(pool.PoolAmount)
		funding.CumulativeFundingRate = funding.CumulativeFundingRate.Add(delta)
	}
	funding.LastRefreshFundingRateTimestamp = now
	return true
}
