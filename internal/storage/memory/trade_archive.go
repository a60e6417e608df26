package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// TradeArchive is an in-memory implementation of storage.TradeArchive.
type TradeArchive struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by composite key
}

// NewTradeArchive creates a new in-memory trade archive.
func NewTradeArchive() *TradeArchive {
	return &TradeArchive{
		data: make(map[string]*domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeArchive = (*TradeArchive)(nil)

// tradeKey generates a unique key for a trade.
func tradeKey(poolID string, seq domain.SequenceKey) string {
	return fmt.Sprintf("%s|%d|%d", poolID, seq.Block, seq.Index)
}

// Insert adds a trade. Returns ErrDuplicateKey if (pool_id, block, index) exists.
func (s *TradeArchive) Insert(_ context.Context, t *domain.Trade) error {
	if t == nil || t.PoolID == "" {
		return storage.ErrInvalidInput
	}

	key := tradeKey(t.PoolID, t.Seq)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *t
	s.data[key] = &copy
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeArchive) InsertBulk(_ context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(trades))

	for _, t := range trades {
		if t == nil || t.PoolID == "" {
			return storage.ErrInvalidInput
		}
		key := tradeKey(t.PoolID, t.Seq)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, t := range trades {
		copy := *t
		s.data[tradeKey(t.PoolID, t.Seq)] = &copy
	}

	return nil
}

// GetByPoolTimeRange retrieves trades for a pool with timestamp in
// [start, end] (inclusive), ordered by (timestamp, block, index) ASC.
func (s *TradeArchive) GetByPoolTimeRange(_ context.Context, poolID string, start, end int64) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trade
	for _, t := range s.data {
		if t.PoolID == poolID && t.Timestamp >= start && t.Timestamp <= end {
			copy := *t
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Seq.Cmp(result[j].Seq) < 0
	})

	return result, nil
}
