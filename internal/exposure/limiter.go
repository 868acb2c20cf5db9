// Package exposure implements global per-token position limits.
//
// The Vault this settles for is oracle-priced, not AMM-priced, so
// there is no bonding-curve slippage to bound concentration risk the
// way an automated market maker would. Instead, aggregate long and
// short notional per index token is tracked directly and increases
// that would push either side past a configured cap are rejected.
package exposure

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrGlobalLongExceeded is returned when an increase would push a
	// token's aggregate long size past its configured cap.
	ErrGlobalLongExceeded = errors.New("exposure: global long size limit exceeded")

	// ErrGlobalShortExceeded is returned when an increase would push a
	// token's aggregate short size past its configured cap.
	ErrGlobalShortExceeded = errors.New("exposure: global short size limit exceeded")
)

// Limiter enforces maxGlobalLongSizes / maxGlobalShortSizes guards per
// index token.
type Limiter struct {
	// MaxLongSizes and MaxShortSizes cap aggregate long/short notional
	// per token. A zero or absent entry means "unbounded" for that
	// token.
	MaxLongSizes  map[string]decimal.Decimal
	MaxShortSizes map[string]decimal.Decimal
}

// NewLimiter creates a limiter with no configured caps; tokens default
// to unbounded until SetLimit is called.
func NewLimiter() *Limiter {
	return &Limiter{
		MaxLongSizes:  make(map[string]decimal.Decimal),
		MaxShortSizes: make(map[string]decimal.Decimal),
	}
}

// SetLimit configures the global long/short size cap for a token. A
// zero cap is treated as unbounded.
func (l *Limiter) SetLimit(token string, maxLong, maxShort decimal.Decimal) {
	l.MaxLongSizes[token] = maxLong
	l.MaxShortSizes[token] = maxShort
}

// CheckLimit validates whether increasing a position by sizeDelta on
// the given side of token would exceed the configured global cap for
// that side. currentSize is the token's current aggregate long (or
// short) size before this increase.
func (l *Limiter) CheckLimit(token string, isLong bool, sizeDelta, currentSize decimal.Decimal) error {
	if isLong {
		max, ok := l.MaxLongSizes[token]
		if !ok || !max.IsPositive() {
			return nil
		}
		if currentSize.Add(sizeDelta).GreaterThan(max) {
			return ErrGlobalLongExceeded
		}
		return nil
	}

	max, ok := l.MaxShortSizes[token]
	if !ok || !max.IsPositive() {
		return nil
	}
	if currentSize.Add(sizeDelta).GreaterThan(max) {
		return ErrGlobalShortExceeded
	}
	return nil
}
