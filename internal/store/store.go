// Package store defines the persistence interface for the settlement
// engine. PostgreSQL is the source of truth; Redis provides an
// optional read-through cache; an in-memory implementation backs
// tests and single-process deployments.
package store

import (
	"context"

	"github.com/atmx/settlement-engine/internal/model"
)

// Store is the persistence interface shared by the Vault, OrderBook,
// and Market components.
type Store interface {
	// --- Vault: positions ---

	// GetPosition returns the position for key, or nil (no error) if
	// it does not exist.
	GetPosition(ctx context.Context, key string) (*model.Position, error)

	// PutPosition creates or overwrites a position record.
	PutPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a position record.
	DeletePosition(ctx context.Context, key string) error

	// --- Vault: pool / funding (singleton records) ---

	GetPoolState(ctx context.Context) (*model.PoolState, error)
	PutPoolState(ctx context.Context, p *model.PoolState) error

	GetFundingState(ctx context.Context) (*model.FundingState, error)
	PutFundingState(ctx context.Context, f *model.FundingState) error

	// --- OrderBook ---

	GetIncreaseOrder(ctx context.Context, account string, index uint64) (*model.IncreaseOrder, error)
	PutIncreaseOrder(ctx context.Context, o *model.IncreaseOrder) error
	DeleteIncreaseOrder(ctx context.Context, account string, index uint64) error
	NextIncreaseOrderIndex(ctx context.Context, account string) (uint64, error)

	GetDecreaseOrder(ctx context.Context, account string, index uint64) (*model.DecreaseOrder, error)
	PutDecreaseOrder(ctx context.Context, o *model.DecreaseOrder) error
	DeleteDecreaseOrder(ctx context.Context, account string, index uint64) error
	NextDecreaseOrderIndex(ctx context.Context, account string) (uint64, error)

	// --- Market (delayed requests) ---

	GetIncreaseRequest(ctx context.Context, key string) (*model.IncreasePositionRequest, error)
	PutIncreaseRequest(ctx context.Context, r *model.IncreasePositionRequest) error
	DeleteIncreaseRequest(ctx context.Context, key string) error
	NextIncreaseRequestIndex(ctx context.Context, account string) (uint64, error)

	GetDecreaseRequest(ctx context.Context, key string) (*model.DecreasePositionRequest, error)
	PutDecreaseRequest(ctx context.Context, r *model.DecreasePositionRequest) error
	DeleteDecreaseRequest(ctx context.Context, key string) error
	NextDecreaseRequestIndex(ctx context.Context, account string) (uint64, error)
}
