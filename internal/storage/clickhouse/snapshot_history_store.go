package clickhouse

import (
	"context"
	"fmt"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// SnapshotHistoryStore implements storage.SnapshotHistoryStore using ClickHouse.
type SnapshotHistoryStore struct {
	conn *Conn
}

// NewSnapshotHistoryStore creates a new SnapshotHistoryStore.
func NewSnapshotHistoryStore(conn *Conn) *SnapshotHistoryStore {
	return &SnapshotHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (pool_id, computed_at). MergeTree does not enforce uniqueness, so
// duplicates are detected with explicit checks before insert.
func (s *SnapshotHistoryStore) InsertBulk(ctx context.Context, points []*domain.SnapshotPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		poolID     string
		computedAt int64
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.PoolID, p.ComputedAt}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.PoolID, p.ComputedAt)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO snapshot_history (
			pool_id, computed_at, best_bid_tick, best_ask_tick,
			spread_ticks, latest_price, volume_24h, as_of_block, as_of_index, status
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.PoolID, p.ComputedAt, p.BestBidTick, p.BestAskTick,
			p.SpreadTicks, p.LatestPrice, p.Volume24h, p.AsOfBlock, p.AsOfIndex, p.Status,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPoolTimeRange retrieves points for a pool with computed_at in
// [start, end] (inclusive), ordered by computed_at ASC.
func (s *SnapshotHistoryStore) GetByPoolTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.SnapshotPoint, error) {
	query := `
		SELECT pool_id, computed_at, best_bid_tick, best_ask_tick,
		       spread_ticks, latest_price, volume_24h, as_of_block, as_of_index, status
		FROM snapshot_history
		WHERE pool_id = ? AND computed_at >= ? AND computed_at <= ?
		ORDER BY computed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by pool/time range: %w", err)
	}
	defer rows.Close()

	var points []*domain.SnapshotPoint
	for rows.Next() {
		var p domain.SnapshotPoint

		err := rows.Scan(
			&p.PoolID, &p.ComputedAt, &p.BestBidTick, &p.BestAskTick,
			&p.SpreadTicks, &p.LatestPrice, &p.Volume24h, &p.AsOfBlock, &p.AsOfIndex, &p.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot point row: %w", err)
		}

		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot point rows: %w", err)
	}

	return points, nil
}

// exists checks if a point with the given key exists.
func (s *SnapshotHistoryStore) exists(ctx context.Context, poolID string, computedAt int64) (bool, error) {
	query := `
		SELECT count(*) FROM snapshot_history
		WHERE pool_id = ? AND computed_at = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, poolID, computedAt).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
