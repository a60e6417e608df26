package postgres

import (
	"context"
	"fmt"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// OrderLog implements storage.OrderLog using PostgreSQL.
type OrderLog struct {
	pool *Pool
}

// NewOrderLog creates a new OrderLog.
func NewOrderLog(pool *Pool) *OrderLog {
	return &OrderLog{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderLog = (*OrderLog)(nil)

// Insert adds an order event. Returns ErrDuplicateKey if
// (pool_id, kind, block, index) exists.
func (s *OrderLog) Insert(ctx context.Context, e *domain.OrderEvent) error {
	if e == nil || e.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO order_log (
			pool_id, order_id, kind, block, block_index, tick, side, volume, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		e.PoolID,
		e.OrderID,
		string(e.Kind),
		e.Seq.Block,
		e.Seq.Index,
		e.Tick,
		string(e.Side),
		e.Volume,
		e.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// GetByPool retrieves up to limit most recent events for a pool,
// ordered by (block, index) DESC.
func (s *OrderLog) GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.OrderEvent, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT pool_id, order_id, kind, block, block_index, tick, side, volume, timestamp
		FROM order_log
		WHERE pool_id = $1
		ORDER BY block DESC, block_index DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, poolID, limit)
	if err != nil {
		return nil, fmt.Errorf("get order events by pool: %w", err)
	}
	defer rows.Close()

	var events []*domain.OrderEvent
	for rows.Next() {
		var (
			e    domain.OrderEvent
			kind string
			side string
		)

		err := rows.Scan(
			&e.PoolID,
			&e.OrderID,
			&kind,
			&e.Seq.Block,
			&e.Seq.Index,
			&e.Tick,
			&side,
			&e.Volume,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		e.Side = domain.Side(side)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order event rows: %w", err)
	}

	return events, nil
}
