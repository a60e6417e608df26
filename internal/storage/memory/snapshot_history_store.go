package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// SnapshotHistoryStore is an in-memory implementation of
// storage.SnapshotHistoryStore.
type SnapshotHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SnapshotPoint // keyed by (pool_id, computed_at)
}

// NewSnapshotHistoryStore creates a new in-memory snapshot history store.
func NewSnapshotHistoryStore() *SnapshotHistoryStore {
	return &SnapshotHistoryStore{
		data: make(map[string]*domain.SnapshotPoint),
	}
}

// Compile-time interface check.
var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)

func pointKey(poolID string, computedAt int64) string {
	return fmt.Sprintf("%s|%d", poolID, computedAt)
}

// InsertBulk adds multiple points. Fails entire batch on any duplicate.
func (s *SnapshotHistoryStore) InsertBulk(_ context.Context, points []*domain.SnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))

	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		key := pointKey(p.PoolID, p.ComputedAt)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		copy := *p
		s.data[pointKey(p.PoolID, p.ComputedAt)] = &copy
	}

	return nil
}

// GetByPoolTimeRange retrieves points for a pool with computed_at in
// [start, end] (inclusive), ordered by computed_at ASC.
func (s *SnapshotHistoryStore) GetByPoolTimeRange(_ context.Context, poolID string, start, end int64) ([]*domain.SnapshotPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SnapshotPoint
	for _, p := range s.data {
		if p.PoolID == poolID && p.ComputedAt >= start && p.ComputedAt <= end {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ComputedAt < result[j].ComputedAt
	})

	return result, nil
}
