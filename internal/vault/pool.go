package vault

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// increasePoolAmount grows the pool and requires it not exceed the
// engine's held dollar balance.
func increasePoolAmount(pool *model.PoolState, delta, heldBalance decimal.Decimal) error {
	pool.PoolAmount = pool.PoolAmount.Add(delta)
	if pool.PoolAmount.GreaterThan(heldBalance) {
		return ErrPoolExceedsBalance
	}
	return nil
}

// decreasePoolAmount shrinks the pool and requires the pool not
// underflow, and that reservedAmount remain within the shrunk pool.
func decreasePoolAmount(pool *model.PoolState, delta decimal.Decimal) error {
	if pool.PoolAmount.LessThan(delta) {
		return ErrPoolUnderflow
	}
	pool.PoolAmount = pool.PoolAmount.Sub(delta)
	if pool.ReservedAmount.GreaterThan(pool.PoolAmount) {
		return ErrReserveExceedsPool
	}
	return nil
}

// increaseReservedAmount grows the reserve and requires it not exceed
// the pool.
func increaseReservedAmount(pool *model.PoolState, delta decimal.Decimal) error {
	pool.ReservedAmount = pool.ReservedAmount.Add(delta)
	if pool.ReservedAmount.GreaterThan(pool.PoolAmount) {
		return ErrReserveExceedsPool
	}
	return nil
}

// decreaseReservedAmount shrinks the reserve, saturating at zero
// rather than erroring on underflow.
func decreaseReservedAmount(pool *model.PoolState, delta decimal.Decimal) {
	if pool.ReservedAmount.LessThan(delta) {
		pool.ReservedAmount = decimal.Zero
		return
	}
	pool.ReservedAmount = pool.ReservedAmount.Sub(delta)
}
