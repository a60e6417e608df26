package ingest

import (
	"context"
	"log"
	"time"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/feed"
	"clob-market-engine/internal/normalize"
	"clob-market-engine/internal/observability"
)

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Pull  PullClient
	Feed  FeedSource
	Sink  Sink
	Pools []string

	// PullInterval is the period between pull cycles. Default: 15s.
	PullInterval time.Duration
	// PullTimeout bounds one pull cycle; an expired cycle is abandoned
	// and retried on the next tick. Default: PullInterval.
	PullTimeout time.Duration
	// FlushInterval is the period of the window's gap-wait sweep.
	// Default: 1s.
	FlushInterval time.Duration
	// RescanBlocks is how far behind the cursor each pull re-fetches,
	// so rows the indexer back-fills late are still observed.
	// Default: 2.
	RescanBlocks uint64

	CrossCheck CrossChecker
	Metrics    *observability.Metrics
	Logger     *log.Logger
}

// Runner fans the two transports into the engine's admission path: a
// periodic pull cycle against the indexing service and the push feed
// subscription. All submissions happen from the runner's goroutine.
type Runner struct {
	pull  PullClient
	feed  FeedSource
	sink  Sink
	pools []string

	pullInterval  time.Duration
	pullTimeout   time.Duration
	flushInterval time.Duration
	rescanBlocks  uint64

	crossCheck CrossChecker
	obs        *observability.Metrics
	logger     *log.Logger

	// cursors tracks the next fromBlock per pool
	cursors map[string]uint64
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	pullInterval := opts.PullInterval
	if pullInterval == 0 {
		pullInterval = 15 * time.Second
	}

	pullTimeout := opts.PullTimeout
	if pullTimeout == 0 {
		pullTimeout = pullInterval
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 1 * time.Second
	}

	rescanBlocks := opts.RescanBlocks
	if rescanBlocks == 0 {
		rescanBlocks = 2
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		pull:          opts.Pull,
		feed:          opts.Feed,
		sink:          opts.Sink,
		pools:         opts.Pools,
		pullInterval:  pullInterval,
		pullTimeout:   pullTimeout,
		flushInterval: flushInterval,
		rescanBlocks:  rescanBlocks,
		crossCheck:    opts.CrossCheck,
		obs:           opts.Metrics,
		logger:        logger,
		cursors:       make(map[string]uint64),
	}
}

// Run starts ingestion. It blocks until the context is cancelled, then
// flushes the window so buffered events are not lost.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("[runner] starting, %d pools, pull every %v", len(r.pools), r.pullInterval)

	var events <-chan feed.EventMessage
	if r.feed != nil {
		events = r.feed.Events()
	}

	// Seed state with one immediate pull cycle
	r.pullCycle(ctx)

	pullTicker := time.NewTicker(r.pullInterval)
	defer pullTicker.Stop()

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.sink.Flush(context.Background())
			r.logger.Println("[runner] stopping, window flushed")
			return ctx.Err()

		case msg, ok := <-events:
			if !ok {
				// Feed gone for good: degrade to pull-only
				r.logger.Println("[runner] feed channel closed, continuing pull-only")
				events = nil
				continue
			}
			r.handleFeedEvent(ctx, msg)

		case <-pullTicker.C:
			r.pullCycle(ctx)

		case <-flushTicker.C:
			r.sink.Tick(ctx)
		}
	}
}

// handleFeedEvent normalizes and submits one push frame.
func (r *Runner) handleFeedEvent(ctx context.Context, msg feed.EventMessage) {
	if r.obs != nil {
		r.obs.FeedFramesTotal.Inc()
	}

	canonical, err := normalize.FromFeedMessage(msg, time.Now())
	if err != nil {
		r.logger.Printf("[runner] dropping feed frame pool=%s type=%s: %v", msg.Pool, msg.Type, err)
		if r.obs != nil {
			r.obs.NormalizeErrors.WithLabelValues("feed").Inc()
		}
		return
	}
	r.sink.Submit(ctx, canonical)
}

// pullCycle fetches all streams for all pools and submits them.
func (r *Runner) pullCycle(ctx context.Context) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()

	ok := true
	for _, poolID := range r.pools {
		// A rebuilding pool is repulled from genesis so the ladder is
		// reconstructed from the full authoritative view, not just the
		// tail behind the cursor.
		status, known := r.sink.PoolStatus(poolID)
		rebuilding := known && status == domain.StatusRebuilding
		generation := r.sink.RebuildGeneration(poolID)

		if err := r.pullPool(cctx, poolID, rebuilding); err != nil {
			r.logger.Printf("[runner] pull cycle for %s: %v", poolID, err)
			ok = false
			continue
		}

		if rebuilding {
			if r.sink.RebuildGeneration(poolID) == generation {
				r.sink.CompleteRefresh(poolID)
			} else {
				// The book crossed again mid-pull; the next cycle
				// starts the rebuild over.
				r.logger.Printf("[runner] pool %s crossed again during rebuild pull, retrying", poolID)
			}
		}
		if r.crossCheck != nil {
			r.crossCheck.Check(cctx, poolID)
		}
	}

	if r.obs != nil {
		status := "ok"
		if !ok {
			status = "error"
		}
		r.obs.PullCyclesTotal.WithLabelValues(status).Inc()
		r.obs.PullCycleLatency.Observe(time.Since(start).Seconds())
		if ok {
			r.obs.LastSuccessfulPull.SetToCurrentTime()
		}
		if rc, hasCounter := r.feed.(interface{ Reconnects() uint64 }); hasCounter {
			r.obs.FeedReconnects.Set(float64(rc.Reconnects()))
		}
	}
}

// pullPool fetches one pool's streams and submits every row. A normal
// pull starts a rescan margin behind the cursor; a rebuild pull starts
// from genesis.
func (r *Runner) pullPool(ctx context.Context, poolID string, fromGenesis bool) error {
	fromBlock := uint64(0)
	if fromGenesis {
		r.logger.Printf("[runner] pool %s rebuilding, pulling from genesis", poolID)
	} else if cursor, ok := r.cursors[poolID]; ok && cursor > r.rescanBlocks {
		fromBlock = cursor - r.rescanBlocks
	}

	now := time.Now()
	highest := r.cursors[poolID]

	ticks, err := r.pull.FetchTicks(ctx, poolID, fromBlock)
	if err != nil {
		return err
	}
	for _, row := range ticks {
		ev, err := normalize.FromTickRow(row, now)
		if err != nil {
			r.logger.Printf("[runner] dropping tick row pool=%s block=%d: %v", row.PoolID, row.Block, err)
			if r.obs != nil {
				r.obs.NormalizeErrors.WithLabelValues("pull").Inc()
			}
			continue
		}
		r.sink.Submit(ctx, ev)
		if row.Block > highest {
			highest = row.Block
		}
	}

	trades, err := r.pull.FetchTrades(ctx, poolID, fromBlock)
	if err != nil {
		return err
	}
	for _, row := range trades {
		ev, err := normalize.FromTradeRow(row, now)
		if err != nil {
			r.logger.Printf("[runner] dropping trade row pool=%s block=%d: %v", row.PoolID, row.Block, err)
			if r.obs != nil {
				r.obs.NormalizeErrors.WithLabelValues("pull").Inc()
			}
			continue
		}
		r.sink.Submit(ctx, ev)
		if row.Block > highest {
			highest = row.Block
		}
	}

	orders, err := r.pull.FetchOrders(ctx, poolID, fromBlock)
	if err != nil {
		return err
	}
	for _, row := range orders {
		ev, err := normalize.FromOrderRow(row, now)
		if err != nil {
			r.logger.Printf("[runner] dropping order row pool=%s block=%d: %v", row.PoolID, row.Block, err)
			if r.obs != nil {
				r.obs.NormalizeErrors.WithLabelValues("pull").Inc()
			}
			continue
		}
		r.sink.Submit(ctx, ev)
		if row.Block > highest {
			highest = row.Block
		}
	}

	r.cursors[poolID] = highest
	return nil
}
