package market

import "errors"

// ErrRequestExpired is the exact string pinned by the market-order
// expiry scenario.
var ErrRequestExpired = errors.New("Market::executeIncreasePosition Request has expired")

// ErrDecreaseRequestExpired mirrors ErrRequestExpired for the
// decrease-side execute path (the pinned string in the test suite
// only covers increase, but the same expiry discipline governs both).
var ErrDecreaseRequestExpired = errors.New("Market::executeDecreasePosition Request has expired")
