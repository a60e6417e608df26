// Package history records published snapshots into the analytics
// timeseries. The recorder subscribes to the publisher, flattens each
// snapshot, and flushes batches on an interval so a hot pool does not
// turn every event into a storage write.
package history

import (
	"context"
	"errors"
	"log"
	"time"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/metrics"
	"clob-market-engine/internal/observability"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/storage"
)

// Options configures a Recorder.
type Options struct {
	Publisher *publish.Publisher
	Store     storage.SnapshotHistoryStore

	// FlushInterval is the period between batch writes. Default: 5s.
	FlushInterval time.Duration
	// MaxBatch flushes early when the buffer reaches this size.
	// Default: 500.
	MaxBatch int

	Metrics *observability.Metrics
	Logger  *log.Logger
}

// Recorder drains the publisher's snapshot stream into the history
// store.
type Recorder struct {
	publisher     *publish.Publisher
	store         storage.SnapshotHistoryStore
	flushInterval time.Duration
	maxBatch      int
	obs           *observability.Metrics
	logger        *log.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(opts Options) *Recorder {
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}
	maxBatch := opts.MaxBatch
	if maxBatch == 0 {
		maxBatch = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Recorder{
		publisher:     opts.Publisher,
		store:         opts.Store,
		flushInterval: flushInterval,
		maxBatch:      maxBatch,
		obs:           opts.Metrics,
		logger:        logger,
	}
}

// Run subscribes and records until the context is cancelled. The
// buffered batch is flushed before returning.
func (r *Recorder) Run(ctx context.Context) error {
	snaps, cancel := r.publisher.Subscribe()
	defer cancel()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*domain.SnapshotPoint, 0, r.maxBatch)

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background(), batch)
			return ctx.Err()

		case snap := <-snaps:
			batch = append(batch, metrics.Flatten(snap))
			if len(batch) >= r.maxBatch {
				batch = r.flush(ctx, batch)
			}

		case <-ticker.C:
			batch = r.flush(ctx, batch)
		}
	}
}

// flush writes the batch and returns an empty buffer reusing its
// backing array. A failed write drops the batch after logging; the
// history is analytics, losing points beats blocking the stream.
func (r *Recorder) flush(ctx context.Context, batch []*domain.SnapshotPoint) []*domain.SnapshotPoint {
	if len(batch) == 0 {
		return batch
	}

	points := dedupe(batch)
	if err := r.store.InsertBulk(ctx, points); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.logger.Printf("[history] flush %d points: %v", len(points), err)
		if r.obs != nil {
			r.obs.ArchiveWriteErrors.WithLabelValues("snapshot_history").Inc()
		}
	} else if r.obs != nil {
		r.obs.HistoryRowsFlushed.Add(float64(len(points)))
	}

	return batch[:0]
}

// dedupe keeps the last point per (pool, computed_at). Publication is
// per event, so a busy pool can produce several points within the same
// millisecond; only the final state of that millisecond is recorded.
func dedupe(batch []*domain.SnapshotPoint) []*domain.SnapshotPoint {
	type key struct {
		poolID     string
		computedAt int64
	}

	seen := make(map[key]int, len(batch))
	out := make([]*domain.SnapshotPoint, 0, len(batch))
	for _, p := range batch {
		k := key{p.PoolID, p.ComputedAt}
		if i, ok := seen[k]; ok {
			out[i] = p
			continue
		}
		seen[k] = len(out)
		out = append(out, p)
	}
	return out
}
