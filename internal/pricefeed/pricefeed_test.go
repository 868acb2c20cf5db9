package pricefeed

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetPriceMaxMinOverLookback(t *testing.T) {
	f := NewFeed()
	if err := f.ConfigToken("BNB", 8, 18); err != nil {
		t.Fatalf("ConfigToken: %v", err)
	}

	// Push more than Lookback rounds; only the last 3 should count.
	for _, raw := range []int64{100_00000000, 300_00000000, 180_00000000, 200_00000000} {
		f.PushRound("BNB", decimal.NewFromInt(raw))
	}

	ctx := context.Background()

	max, err := f.GetPrice(ctx, "BNB", true)
	if err != nil {
		t.Fatalf("GetPrice max: %v", err)
	}
	if !max.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected max 300, got %s", max)
	}

	min, err := f.GetPrice(ctx, "BNB", false)
	if err != nil {
		t.Fatalf("GetPrice min: %v", err)
	}
	if !min.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("expected min 180 (100 pushed out of window), got %s", min)
	}
}

func TestGetPriceRejectsNonpositive(t *testing.T) {
	f := NewFeed()
	f.ConfigToken("BNB", 8, 18)
	f.PushRound("BNB", decimal.NewFromInt(-1))

	if _, err := f.GetPrice(context.Background(), "BNB", true); err == nil {
		t.Fatal("expected ErrInvalidPrice for nonpositive round")
	}
}

func TestGetPriceNotConfigured(t *testing.T) {
	f := NewFeed()
	if _, err := f.GetPrice(context.Background(), "UNKNOWN", true); err == nil {
		t.Fatal("expected ErrNotConfigured")
	}
}
