package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// OrderLog is an in-memory implementation of storage.OrderLog.
type OrderLog struct {
	mu   sync.RWMutex
	data map[string]*domain.OrderEvent // keyed by composite key
}

// NewOrderLog creates a new in-memory order log.
func NewOrderLog() *OrderLog {
	return &OrderLog{
		data: make(map[string]*domain.OrderEvent),
	}
}

// Compile-time interface check.
var _ storage.OrderLog = (*OrderLog)(nil)

// orderKey generates a unique key for an order event.
func orderKey(poolID string, kind domain.EventKind, seq domain.SequenceKey) string {
	return fmt.Sprintf("%s|%s|%d|%d", poolID, kind, seq.Block, seq.Index)
}

// Insert adds an order event. Returns ErrDuplicateKey if
// (pool_id, kind, block, index) exists.
func (s *OrderLog) Insert(_ context.Context, e *domain.OrderEvent) error {
	if e == nil || e.PoolID == "" {
		return storage.ErrInvalidInput
	}

	key := orderKey(e.PoolID, e.Kind, e.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[key] = &copy
	return nil
}

// GetByPool retrieves up to limit most recent events for a pool,
// ordered by (block, index) DESC.
func (s *OrderLog) GetByPool(_ context.Context, poolID string, limit int) ([]*domain.OrderEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OrderEvent
	for _, e := range s.data {
		if e.PoolID == poolID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq.Cmp(result[j].Seq) > 0
	})

	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}
