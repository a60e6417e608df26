// Package memory provides in-memory storage implementations, used by
// tests and by deployments running without external databases.
package memory

import (
	"context"
	"sort"
	"sync"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by pool_id
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Insert adds a new pool. Returns ErrDuplicateKey if pool_id exists.
func (s *PoolStore) Insert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PoolID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.PoolID] = &copy
	return nil
}

// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByID(_ context.Context, poolID string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[poolID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	copy := *p
	return &copy, nil
}

// GetByChain retrieves all pools for a chain, ordered by pool_id ASC.
func (s *PoolStore) GetByChain(_ context.Context, chainID int64) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		if p.ChainID == chainID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PoolID < result[j].PoolID
	})

	return result, nil
}
