package store

import (
	"context"
	"sync"

	"github.com/atmx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and single-process development. Not suitable for production (no
// persistence across restarts).
type MemoryStore struct {
	mu sync.RWMutex

	positions map[string]*model.Position
	pool      *model.PoolState
	funding   *model.FundingState

	increaseOrders      map[string]map[uint64]*model.IncreaseOrder
	increaseOrderIndex  map[string]uint64
	decreaseOrders      map[string]map[uint64]*model.DecreaseOrder
	decreaseOrderIndex  map[string]uint64

	increaseRequests     map[string]*model.IncreasePositionRequest
	increaseRequestIndex map[string]uint64
	decreaseRequests     map[string]*model.DecreasePositionRequest
	decreaseRequestIndex map[string]uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:            make(map[string]*model.Position),
		pool:                 &model.PoolState{},
		funding:              &model.FundingState{},
		increaseOrders:       make(map[string]map[uint64]*model.IncreaseOrder),
		increaseOrderIndex:   make(map[string]uint64),
		decreaseOrders:       make(map[string]map[uint64]*model.DecreaseOrder),
		decreaseOrderIndex:   make(map[string]uint64),
		increaseRequests:     make(map[string]*model.IncreasePositionRequest),
		increaseRequestIndex: make(map[string]uint64),
		decreaseRequests:     make(map[string]*model.DecreasePositionRequest),
		decreaseRequestIndex: make(map[string]uint64),
	}
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, key string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) PutPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.positions[model.PositionKey(p.Account, p.IndexToken, p.IsLong)] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, key)
	return nil
}

// --- Pool / funding ---

func (s *MemoryStore) GetPoolState(_ context.Context) (*model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.pool
	return &cp, nil
}

func (s *MemoryStore) PutPoolState(_ context.Context, p *model.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pool = &cp
	return nil
}

func (s *MemoryStore) GetFundingState(_ context.Context) (*model.FundingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.funding
	return &cp, nil
}

func (s *MemoryStore) PutFundingState(_ context.Context, f *model.FundingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.funding = &cp
	return nil
}

// --- OrderBook ---

func (s *MemoryStore) GetIncreaseOrder(_ context.Context, account string, index uint64) (*model.IncreaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.increaseOrders[account]
	if !ok {
		return nil, nil
	}
	o, ok := m[index]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) PutIncreaseOrder(_ context.Context, o *model.IncreaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.increaseOrders[o.Account]
	if !ok {
		m = make(map[uint64]*model.IncreaseOrder)
		s.increaseOrders[o.Account] = m
	}
	cp := *o
	m[o.OrderIndex] = &cp
	return nil
}

func (s *MemoryStore) DeleteIncreaseOrder(_ context.Context, account string, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.increaseOrders[account]; ok {
		delete(m, index)
	}
	return nil
}

func (s *MemoryStore) NextIncreaseOrderIndex(_ context.Context, account string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increaseOrderIndex[account]++
	return s.increaseOrderIndex[account], nil
}

func (s *MemoryStore) GetDecreaseOrder(_ context.Context, account string, index uint64) (*model.DecreaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.decreaseOrders[account]
	if !ok {
		return nil, nil
	}
	o, ok := m[index]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) PutDecreaseOrder(_ context.Context, o *model.DecreaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.decreaseOrders[o.Account]
	if !ok {
		m = make(map[uint64]*model.DecreaseOrder)
		s.decreaseOrders[o.Account] = m
	}
	cp := *o
	m[o.OrderIndex] = &cp
	return nil
}

func (s *MemoryStore) DeleteDecreaseOrder(_ context.Context, account string, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.decreaseOrders[account]; ok {
		delete(m, index)
	}
	return nil
}

func (s *MemoryStore) NextDecreaseOrderIndex(_ context.Context, account string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decreaseOrderIndex[account]++
	return s.decreaseOrderIndex[account], nil
}

// --- Market ---

func (s *MemoryStore) GetIncreaseRequest(_ context.Context, key string) (*model.IncreasePositionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.increaseRequests[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutIncreaseRequest(_ context.Context, r *model.IncreasePositionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.increaseRequests[r.Key] = &cp
	return nil
}

func (s *MemoryStore) DeleteIncreaseRequest(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.increaseRequests, key)
	return nil
}

func (s *MemoryStore) NextIncreaseRequestIndex(_ context.Context, account string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increaseRequestIndex[account]++
	return s.increaseRequestIndex[account], nil
}

func (s *MemoryStore) GetDecreaseRequest(_ context.Context, key string) (*model.DecreasePositionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.decreaseRequests[key]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) PutDecreaseRequest(_ context.Context, r *model.DecreasePositionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.decreaseRequests[r.Key] = &cp
	return nil
}

func (s *MemoryStore) DeleteDecreaseRequest(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.decreaseRequests, key)
	return nil
}

func (s *MemoryStore) NextDecreaseRequestIndex(_ context.Context, account string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decreaseRequestIndex[account]++
	return s.decreaseRequestIndex[account], nil
}
