package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/store"
)

type fakeLedger struct {
	mu      sync.Mutex
	balance decimal.Decimal
}

func (l *fakeLedger) TransferIn(_ context.Context, _ string, amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Add(amount)
	return amount, nil
}

func (l *fakeLedger) TransferOut(_ context.Context, _ string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = l.balance.Sub(amount)
	return nil
}

func (l *fakeLedger) Balance(_ context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

type fakeVault struct {
	mu            sync.Mutex
	increaseCalls int
	decreaseCalls int
}

func (v *fakeVault) IncreasePositionEscrowed(_ context.Context, _, _, _ string, _, _ decimal.Decimal, _ bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.increaseCalls++
	return nil
}

func (v *fakeVault) DecreasePosition(_ context.Context, _, _, _ string, _, _ decimal.Decimal, _ bool) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.decreaseCalls++
	return decimal.Zero, nil
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestMarket() (*Market, *fakeVault, *fakeLedger) {
	st := store.NewMemoryStore()
	vlt := &fakeVault{}
	ledger := &fakeLedger{}
	return NewMarket(st, vlt, ledger, nil), vlt, ledger
}

func atTime(m *Market, at time.Time) {
	m.timeNowFn = func() time.Time { return at }
}

// TestExecuteIncreasePositionRejectsExpiredRequest reproduces the
// pinned scenario: an increase request created with maxTimeDelay=300s,
// executed 600s later, must fail with the exact expiry message.
func TestExecuteIncreasePositionRejectsExpiredRequest(t *testing.T) {
	m, vlt, _ := newTestMarket()
	m.SetMaxTimeDelay(300 * time.Second)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	atTime(m, t0)
	index, err := m.CreateIncreasePosition(ctx, "user", "BNB", d("200"), d("400"), decimal.Zero, true)
	if err != nil {
		t.Fatalf("CreateIncreasePosition: %v", err)
	}
	key := model.RequestKey("user", index)

	atTime(m, t0.Add(600*time.Second))
	err = m.ExecuteIncreasePosition(ctx, key, "")
	if err == nil || err.Error() != "Market::executeIncreasePosition Request has expired" {
		t.Fatalf("expected pinned expiry message, got %v", err)
	}
	if vlt.increaseCalls != 0 {
		t.Fatalf("expected no forwarded call for an expired request")
	}

	// The expired request must still be present (only cancel removes it).
	req, err := m.store.GetIncreaseRequest(ctx, key)
	if err != nil {
		t.Fatalf("GetIncreaseRequest: %v", err)
	}
	if req == nil {
		t.Fatalf("expected the expired request to remain queryable for cancellation")
	}
}

func TestExecuteIncreasePositionMissingKeyIsNoOp(t *testing.T) {
	m, vlt, _ := newTestMarket()
	ctx := context.Background()

	err := m.ExecuteIncreasePosition(ctx, "does-not-exist", "")
	if err != nil {
		t.Fatalf("expected silent no-op for a missing request, got %v", err)
	}
	if vlt.increaseCalls != 0 {
		t.Fatalf("expected no forwarded call")
	}
}

func TestExecuteIncreasePositionWithinWindowForwardsAndDeletes(t *testing.T) {
	m, vlt, _ := newTestMarket()
	m.SetMaxTimeDelay(300 * time.Second)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	atTime(m, t0)
	index, err := m.CreateIncreasePosition(ctx, "user", "BNB", d("200"), d("400"), decimal.Zero, true)
	if err != nil {
		t.Fatalf("CreateIncreasePosition: %v", err)
	}
	key := model.RequestKey("user", index)

	atTime(m, t0.Add(100*time.Second))
	if err := m.ExecuteIncreasePosition(ctx, key, ""); err != nil {
		t.Fatalf("ExecuteIncreasePosition: %v", err)
	}
	if vlt.increaseCalls != 1 {
		t.Fatalf("expected exactly one forwarded call, got %d", vlt.increaseCalls)
	}
	req, _ := m.store.GetIncreaseRequest(ctx, key)
	if req != nil {
		t.Fatalf("expected request deleted after execution")
	}
}

// TestCancelIncreasePositionRefundsEvenAfterExpiry verifies that an
// expired request, though unexecutable, can still be cancelled for a
// full refund of escrow.
func TestCancelIncreasePositionRefundsEvenAfterExpiry(t *testing.T) {
	m, _, ledger := newTestMarket()
	m.SetMaxTimeDelay(300 * time.Second)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	atTime(m, t0)
	executionFee := d("1")
	index, err := m.CreateIncreasePosition(ctx, "user", "BNB", d("200"), d("400"), executionFee, true)
	if err != nil {
		t.Fatalf("CreateIncreasePosition: %v", err)
	}
	key := model.RequestKey("user", index)

	atTime(m, t0.Add(600*time.Second))
	if err := m.CancelIncreasePosition(ctx, key); err != nil {
		t.Fatalf("CancelIncreasePosition: %v", err)
	}

	bal, _ := ledger.Balance(ctx)
	if !bal.IsZero() {
		t.Fatalf("expected full refund including execution fee, got balance %s", bal)
	}
	req, _ := m.store.GetIncreaseRequest(ctx, key)
	if req != nil {
		t.Fatalf("expected request deleted after cancellation")
	}
}

func TestCancelIncreasePositionMissingKeyIsNoOp(t *testing.T) {
	m, _, _ := newTestMarket()
	ctx := context.Background()

	if err := m.CancelIncreasePosition(ctx, "does-not-exist"); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestExecuteDecreasePositionRejectsExpiredRequest(t *testing.T) {
	m, vlt, _ := newTestMarket()
	m.SetMaxTimeDelay(300 * time.Second)
	ctx := context.Background()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	atTime(m, t0)
	index, err := m.CreateDecreasePosition(ctx, "user", "BNB", decimal.Zero, d("400"), true)
	if err != nil {
		t.Fatalf("CreateDecreasePosition: %v", err)
	}
	key := model.RequestKey("user", index)

	atTime(m, t0.Add(301*time.Second))
	err = m.ExecuteDecreasePosition(ctx, key)
	if err == nil {
		t.Fatalf("expected expiry error")
	}
	if vlt.decreaseCalls != 0 {
		t.Fatalf("expected no forwarded call for an expired request")
	}
}
