package ingest

import (
	"context"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/feed"
	"clob-market-engine/internal/indexer"
)

// PullClient fetches raw event rows from the indexing service. Rows
// may be unordered and overlap previous fetches; the window enforces
// ordering and drops duplicates.
type PullClient interface {
	FetchTicks(ctx context.Context, poolID string, fromBlock uint64) ([]indexer.TickRow, error)
	FetchTrades(ctx context.Context, poolID string, fromBlock uint64) ([]indexer.TradeRow, error)
	FetchOrders(ctx context.Context, poolID string, fromBlock uint64) ([]indexer.OrderRow, error)
}

// FeedSource delivers raw push frames. The channel closing means the
// feed is permanently gone and the runner degrades to pull-only.
type FeedSource interface {
	Events() <-chan feed.EventMessage
}

// Sink is the engine's admission path as the runner sees it. The
// status and generation accessors drive the rebuild protocol: a
// rebuilding pool is repulled from genesis, and CompleteRefresh is
// only called when the generation did not advance during that pull.
type Sink interface {
	Submit(ctx context.Context, ev *domain.CanonicalEvent)
	Tick(ctx context.Context)
	Flush(ctx context.Context)
	PoolStatus(poolID string) (domain.SnapshotStatus, bool)
	RebuildGeneration(poolID string) uint64
	CompleteRefresh(poolID string)
}

// CrossChecker verifies the engine's best price against an external
// source, log-only.
type CrossChecker interface {
	Check(ctx context.Context, poolID string)
}
