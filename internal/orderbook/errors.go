package orderbook

import "errors"

var (
	// ErrInvalidExecutionPrice is the exact string pinned by scenario 1.
	ErrInvalidExecutionPrice = errors.New("OrderBook: invalid price for execution")

	// ErrNonExistentOrder is the exact string pinned by scenario 3.
	ErrNonExistentOrder = errors.New("OrderBook: non-existent order")
)
