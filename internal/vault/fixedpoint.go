package vault

import (
	"time"

	"github.com/shopspring/decimal"
)

// truncDiv divides a by b and truncates toward zero, matching the
// spec's integer-division semantics for the leverage check; funding-
// interval counts are truncated by fundingIntervals below. Ordinary
// monetary arithmetic elsewhere in this package uses decimal.Decimal's
// exact division directly and is never truncated.
func truncDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, 0)
	return q
}

// fundingIntervals returns the number of complete funding intervals
// that elapsed between last and now, truncated toward zero.
func fundingIntervals(last, now time.Time, interval time.Duration) int64 {
	elapsed := now.Sub(last)
	if elapsed < interval {
		return 0
	}
	return int64(elapsed / interval)
}
