package vault

import "time"

// nowFn is overridden in tests to control wall-clock time deterministically
// (funding interval elapse, minProfitTime windows, liquidation scenarios).
var nowFn = time.Now

func timeNow() time.Time {
	return nowFn().UTC()
}
