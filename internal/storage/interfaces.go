// Package storage defines the persistence interfaces for the market
// state engine: pool reference data, the trade archive, the order log,
// and the snapshot history timeseries. The engine operates on these
// interfaces; memory, PostgreSQL, and ClickHouse implementations live
// in subpackages.
package storage

import (
	"context"

	"clob-market-engine/internal/domain"
)

// PoolStore provides access to pool reference metadata. Pools are
// written once on discovery and read-only afterwards.
type PoolStore interface {
	// Insert adds a new pool. Returns ErrDuplicateKey if pool_id exists.
	Insert(ctx context.Context, p *domain.Pool) error

	// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, poolID string) (*domain.Pool, error)

	// GetByChain retrieves all pools for a chain, ordered by pool_id ASC.
	GetByChain(ctx context.Context, chainID int64) ([]*domain.Pool, error)
}

// TradeArchive provides access to the append-only archive of admitted
// trades. Used for diagnostics and for warm-starting the rolling
// volume window on restart.
type TradeArchive interface {
	// Insert adds a trade. Returns ErrDuplicateKey if (pool_id, block, index) exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByPoolTimeRange retrieves trades for a pool with timestamp in
	// [start, end] (inclusive), ordered by (timestamp, block, index) ASC.
	GetByPoolTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.Trade, error)
}

// OrderLog provides access to the append-only log of admitted order
// placement/match events.
type OrderLog interface {
	// Insert adds an order event. Returns ErrDuplicateKey if
	// (pool_id, kind, block, index) exists.
	Insert(ctx context.Context, e *domain.OrderEvent) error

	// GetByPool retrieves up to limit most recent events for a pool,
	// ordered by (block, index) DESC.
	GetByPool(ctx context.Context, poolID string, limit int) ([]*domain.OrderEvent, error)
}

// SnapshotHistoryStore provides access to the published-snapshot
// timeseries used for analytics.
type SnapshotHistoryStore interface {
	// InsertBulk adds multiple points. The history is an analytics
	// timeseries; duplicates on (pool_id, computed_at) are rejected
	// with ErrDuplicateKey.
	InsertBulk(ctx context.Context, points []*domain.SnapshotPoint) error

	// GetByPoolTimeRange retrieves points for a pool with computed_at
	// in [start, end] (inclusive), ordered by computed_at ASC.
	GetByPoolTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.SnapshotPoint, error)
}
