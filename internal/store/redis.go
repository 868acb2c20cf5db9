package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache over position, pool-state and funding-state
// lookups. Position writes go to the primary store and then refresh the
// cached copy; position deletes and pool/funding writes drop the cached
// key. Order and request calls pass straight through.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Positions: read-through cached, write-through refreshed ---

func (s *CachedStore) GetPosition(ctx context.Context, key string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(key)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.cachePosition(ctx, key, p)
	}
	return p, nil
}

func (s *CachedStore) PutPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.PutPosition(ctx, p); err != nil {
		return err
	}
	key := model.PositionKey(p.Account, p.IndexToken, p.IsLong)
	s.cachePosition(ctx, key, p)
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, key string) error {
	if err := s.primary.DeletePosition(ctx, key); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(key))
	return nil
}

// --- Pool / funding: read-through cached, single key each ---

func (s *CachedStore) GetPoolState(ctx context.Context) (*model.PoolState, error) {
	data, err := s.rdb.Get(ctx, poolStateKey).Bytes()
	if err == nil {
		var p model.PoolState
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	p, err := s.primary.GetPoolState(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolStateKey, data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) PutPoolState(ctx context.Context, p *model.PoolState) error {
	if err := s.primary.PutPoolState(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolStateKey)
	return nil
}

func (s *CachedStore) GetFundingState(ctx context.Context) (*model.FundingState, error) {
	data, err := s.rdb.Get(ctx, fundingStateKey).Bytes()
	if err == nil {
		var f model.FundingState
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}
	f, err := s.primary.GetFundingState(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, fundingStateKey, data, s.ttl)
	}
	return f, nil
}

func (s *CachedStore) PutFundingState(ctx context.Context, f *model.FundingState) error {
	if err := s.primary.PutFundingState(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, fundingStateKey)
	return nil
}

// --- OrderBook: passthrough (low volume, needs strong consistency) ---

func (s *CachedStore) GetIncreaseOrder(ctx context.Context, account string, index uint64) (*model.IncreaseOrder, error) {
	return s.primary.GetIncreaseOrder(ctx, account, index)
}

func (s *CachedStore) PutIncreaseOrder(ctx context.Context, o *model.IncreaseOrder) error {
	return s.primary.PutIncreaseOrder(ctx, o)
}

func (s *CachedStore) DeleteIncreaseOrder(ctx context.Context, account string, index uint64) error {
	return s.primary.DeleteIncreaseOrder(ctx, account, index)
}

func (s *CachedStore) NextIncreaseOrderIndex(ctx context.Context, account string) (uint64, error) {
	return s.primary.NextIncreaseOrderIndex(ctx, account)
}

func (s *CachedStore) GetDecreaseOrder(ctx context.Context, account string, index uint64) (*model.DecreaseOrder, error) {
	return s.primary.GetDecreaseOrder(ctx, account, index)
}

func (s *CachedStore) PutDecreaseOrder(ctx context.Context, o *model.DecreaseOrder) error {
	return s.primary.PutDecreaseOrder(ctx, o)
}

func (s *CachedStore) DeleteDecreaseOrder(ctx context.Context, account string, index uint64) error {
	return s.primary.DeleteDecreaseOrder(ctx, account, index)
}

func (s *CachedStore) NextDecreaseOrderIndex(ctx context.Context, account string) (uint64, error) {
	return s.primary.NextDecreaseOrderIndex(ctx, account)
}

// --- Market: passthrough (delayed requests are already keyed and short-lived) ---

func (s *CachedStore) GetIncreaseRequest(ctx context.Context, key string) (*model.IncreasePositionRequest, error) {
	return s.primary.GetIncreaseRequest(ctx, key)
}

func (s *CachedStore) PutIncreaseRequest(ctx context.Context, r *model.IncreasePositionRequest) error {
	return s.primary.PutIncreaseRequest(ctx, r)
}

func (s *CachedStore) DeleteIncreaseRequest(ctx context.Context, key string) error {
	return s.primary.DeleteIncreaseRequest(ctx, key)
}

func (s *CachedStore) NextIncreaseRequestIndex(ctx context.Context, account string) (uint64, error) {
	return s.primary.NextIncreaseRequestIndex(ctx, account)
}

func (s *CachedStore) GetDecreaseRequest(ctx context.Context, key string) (*model.DecreasePositionRequest, error) {
	return s.primary.GetDecreaseRequest(ctx, key)
}

func (s *CachedStore) PutDecreaseRequest(ctx context.Context, r *model.DecreasePositionRequest) error {
	return s.primary.PutDecreaseRequest(ctx, r)
}

func (s *CachedStore) DeleteDecreaseRequest(ctx context.Context, key string) error {
	return s.primary.DeleteDecreaseRequest(ctx, key)
}

func (s *CachedStore) NextDecreaseRequestIndex(ctx context.Context, account string) (uint64, error) {
	return s.primary.NextDecreaseRequestIndex(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, key string, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(key), data, s.ttl)
	}
}

func positionKey(key string) string { return fmt.Sprintf("position:%s", key) }

const (
	poolStateKey    = "pool_state"
	fundingStateKey = "funding_state"
)
