package exposure

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCheckLimitUnconfiguredTokenUnbounded(t *testing.T) {
	l := NewLimiter()
	if err := l.CheckLimit("BNB", true, d(1_000_000), d(0)); err != nil {
		t.Fatalf("expected unbounded token to pass, got %v", err)
	}
}

func TestCheckLimitLongWithinCap(t *testing.T) {
	l := NewLimiter()
	l.SetLimit("BNB", d(1000), d(1000))

	if err := l.CheckLimit("BNB", true, d(400), d(500)); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestCheckLimitLongExceedsCap(t *testing.T) {
	l := NewLimiter()
	l.SetLimit("BNB", d(1000), d(1000))

	err := l.CheckLimit("BNB", true, d(600), d(500))
	if err != ErrGlobalLongExceeded {
		t.Fatalf("expected ErrGlobalLongExceeded, got %v", err)
	}
}

func TestCheckLimitShortExceedsCap(t *testing.T) {
	l := NewLimiter()
	l.SetLimit("BNB", d(1000), d(800))

	err := l.CheckLimit("BNB", false, d(300), d(600))
	if err != ErrGlobalShortExceeded {
		t.Fatalf("expected ErrGlobalShortExceeded, got %v", err)
	}
}

func TestCheckLimitExactlyAtCapPasses(t *testing.T) {
	l := NewLimiter()
	l.SetLimit("BNB", d(1000), d(1000))

	if err := l.CheckLimit("BNB", true, d(500), d(500)); err != nil {
		t.Fatalf("expected exactly-at-cap to pass, got %v", err)
	}
}
