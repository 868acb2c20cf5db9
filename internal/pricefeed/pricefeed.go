// Package pricefeed supplies conservative max/min oracle prices over a
// short lookback window, normalized to real-world decimal prices.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Lookback is the number of most-recent oracle rounds walked when
// computing a conservative max or min price.
const Lookback = 3

// ErrInvalidPrice is returned when a round answer is nonpositive.
var ErrInvalidPrice = errors.New("pricefeed: invalid price")

// ErrNotConfigured is returned when a token has no registered feed.
var ErrNotConfigured = errors.New("pricefeed: token not configured")

// Round is one oracle round answer, already in the feed's native
// decimals (not yet divided by the feed's priceUnit).
type Round struct {
	Answer decimal.Decimal
}

// tokenConfig registers a feed's decimal scaling for one token.
// priceUnit undoes the feed's own raw integer scaling (e.g. a
// Chainlink-style feed reporting price*10^8 has priceUnit = 10^8).
// baseUnit is retained for parity with spec.md's three-argument
// registration surface (chainlinkFeed, priceUnit, baseUnit); since
// decimal.Decimal already carries exact real-world quantities rather
// than raw fixed-width integers, this port does not need a second
// rescale by the underlying token's decimals — baseUnit is validated
// as positive at registration time and otherwise unused.
type tokenConfig struct {
	priceUnit decimal.Decimal
	baseUnit  decimal.Decimal
}

// Feed is the PriceFeed component. It is safe for concurrent use.
type Feed struct {
	mu      sync.RWMutex
	configs map[string]tokenConfig
	rounds  map[string][]Round // most recent last
}

// NewFeed creates an empty PriceFeed.
func NewFeed() *Feed {
	return &Feed{
		configs: make(map[string]tokenConfig),
		rounds:  make(map[string][]Round),
	}
}

// ConfigToken registers a token's price feed decimal scaling.
// feedDecimals is the oracle's own answer precision (e.g. 8 for a
// typical Chainlink feed); tokenDecimals is the underlying asset's
// decimals (e.g. 18 for most ERC-20s, 6 for USDC-like tokens).
func (f *Feed) ConfigToken(token string, feedDecimals, tokenDecimals int32) error {
	if feedDecimals < 0 || tokenDecimals < 0 {
		return fmt.Errorf("pricefeed: decimals must be non-negative for %s", token)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[token] = tokenConfig{
		priceUnit: decimal.New(1, feedDecimals),
		baseUnit:  decimal.New(1, tokenDecimals),
	}
	return nil
}

// PushRound appends a new oracle round for token, standing in for a
// Chainlink aggregator advancing its round history. Only the most
// recent Lookback rounds are retained.
func (f *Feed) PushRound(token string, answer decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := append(f.rounds[token], Round{Answer: answer})
	if len(rs) > Lookback {
		rs = rs[len(rs)-Lookback:]
	}
	f.rounds[token] = rs
}

// GetPrice returns the maximum (maximise=true) or minimum (false)
// observed answer over the last Lookback rounds, normalized to a
// real-world decimal price by undoing the feed's raw integer scaling.
func (f *Feed) GetPrice(_ context.Context, token string, maximise bool) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cfg, ok := f.configs[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotConfigured, token)
	}
	rounds := f.rounds[token]
	if len(rounds) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no rounds for %s", ErrInvalidPrice, token)
	}

	start := 0
	if len(rounds) > Lookback {
		start = len(rounds) - Lookback
	}

	var result decimal.Decimal
	first := true
	for _, r := range rounds[start:] {
		if !r.Answer.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: nonpositive round answer for %s", ErrInvalidPrice, token)
		}
		if first {
			result = r.Answer
			first = false
			continue
		}
		if maximise && r.Answer.GreaterThan(result) {
			result = r.Answer
		}
		if !maximise && r.Answer.LessThan(result) {
			result = r.Answer
		}
	}

	return result.Div(cfg.priceUnit), nil
}
