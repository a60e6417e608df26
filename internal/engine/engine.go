// Package engine owns per-pool market state and the single serialized
// admission path. Every event passes through the ordering window, is
// applied to the pool's ladder or tape, validated, and results in a
// freshly computed, atomically published snapshot.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"clob-market-engine/internal/book"
	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/ingest"
	"clob-market-engine/internal/metrics"
	"clob-market-engine/internal/observability"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/storage"
)

// ErrInconsistentSnapshot marks a crossed book: best bid at or above
// best ask cannot occur on a matching CLOB, so the pool's derived
// state is discarded and rebuilt.
var ErrInconsistentSnapshot = errors.New("inconsistent snapshot: crossed book")

// Options configures the engine. Publisher is required; the stores and
// metrics are optional and skipped when nil.
type Options struct {
	Window     ingest.Config
	TapeWindow time.Duration

	Publisher *publish.Publisher
	Archive   storage.TradeArchive
	OrderLog  storage.OrderLog
	Metrics   *observability.Metrics
	Logger    *log.Logger

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// poolState is the per-pool derived state. rebuilds counts invariant
// violations; the runner compares it around a genesis pull to detect
// a book that crossed again mid-repull.
type poolState struct {
	ladder   *book.Ladder
	tape     *book.Tape
	status   domain.SnapshotStatus
	rebuilds uint64
}

// Engine turns the merged event stream into published snapshots.
type Engine struct {
	mu     sync.Mutex
	window *ingest.Window
	pools  map[string]*poolState

	tapeWindow time.Duration
	publisher  *publish.Publisher
	archive    storage.TradeArchive
	orderLog   storage.OrderLog
	obs        *observability.Metrics
	logger     *log.Logger
	now        func() time.Time
}

var _ ingest.Sink = (*Engine)(nil)

// New creates an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		window:     ingest.NewWindow(opts.Window),
		pools:      make(map[string]*poolState),
		tapeWindow: opts.TapeWindow,
		publisher:  opts.Publisher,
		archive:    opts.Archive,
		orderLog:   opts.OrderLog,
		obs:        opts.Metrics,
		logger:     logger,
		now:        now,
	}
}

// Submit offers one canonical event to the admission path. Everything
// the window releases is applied and published before Submit returns.
func (e *Engine) Submit(ctx context.Context, ev *domain.CanonicalEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.process(ctx, e.window.Offer(ev, now), now)
}

// Tick releases buffered events whose gap wait expired. Called
// periodically by the runner.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.process(ctx, e.window.Tick(now), now)
}

// Flush drains the window completely, used on shutdown so buffered
// events are not lost.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.process(ctx, e.window.FlushAll(), e.now())
}

// CompleteRefresh marks a rebuilding pool live again after a full pull
// cycle has repopulated its ladder.
func (e *Engine) CompleteRefresh(poolID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.pools[poolID]
	if !ok || st.status != domain.StatusRebuilding {
		return
	}
	st.status = domain.StatusLive
	e.logger.Printf("[engine] pool %s rebuilt, live again", poolID)
	e.publish(poolID, st, e.highestSeq(poolID), e.now())
}

// WarmStart seeds a pool's tape from the trade archive so the rolling
// volume window survives restarts.
func (e *Engine) WarmStart(ctx context.Context, poolID string) error {
	if e.archive == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	window := e.tapeWindow
	if window <= 0 {
		window = book.DefaultTapeWindow
	}

	trades, err := e.archive.GetByPoolTimeRange(ctx, poolID, now.Add(-window).UnixMilli(), now.UnixMilli())
	if err != nil {
		return err
	}

	st := e.pool(poolID)
	for _, t := range trades {
		st.tape.Append(*t)
	}
	if len(trades) > 0 {
		e.logger.Printf("[engine] pool %s warm-started with %d archived trades", poolID, len(trades))
	}
	return nil
}

// Snapshot returns the latest published snapshot for a pool.
func (e *Engine) Snapshot(poolID string) *domain.MarketSnapshot {
	return e.publisher.Get(poolID)
}

// WindowStats returns cumulative ordering window counters.
func (e *Engine) WindowStats() ingest.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.Stats()
}

// PoolStatus reports the engine-side status of a pool; ok is false for
// unknown pools.
func (e *Engine) PoolStatus(poolID string) (domain.SnapshotStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pools[poolID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// RebuildGeneration returns how many times the pool's ladder has been
// discarded. The runner snapshots it before a genesis pull and skips
// CompleteRefresh when it advanced during the pull.
func (e *Engine) RebuildGeneration(poolID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pools[poolID]
	if !ok {
		return 0
	}
	return st.rebuilds
}

// process applies released events in order. Caller holds e.mu.
func (e *Engine) process(ctx context.Context, adms []ingest.Admission, now time.Time) {
	for _, adm := range adms {
		ev := adm.Event
		st := e.pool(ev.PoolID)

		switch adm.Diag {
		case ingest.DiagSequenceGap:
			e.logger.Printf("[engine] sequence gap: admitted %s %s at %s past missing predecessors",
				ev.PoolID, ev.Kind, ev.Seq)
			if e.obs != nil {
				e.obs.SequenceGaps.Inc()
			}
		case ingest.DiagOverflow:
			e.logger.Printf("[engine] ordering window overflow: force-flushed %s %s at %s",
				ev.PoolID, ev.Kind, ev.Seq)
			if e.obs != nil {
				e.obs.WindowOverflows.Inc()
			}
		}
		if e.obs != nil {
			e.obs.EventsAdmitted.WithLabelValues(string(ev.Kind)).Inc()
			e.obs.HighestBlockSeen.Set(float64(ev.Seq.Block))
		}

		if err := e.apply(ctx, st, ev); err != nil {
			if errors.Is(err, ErrInconsistentSnapshot) {
				e.rebuild(ev.PoolID, st, ev.Seq, now)
				continue
			}
			// Store errors are best-effort; admitted state stands
			e.logger.Printf("[engine] apply %s %s at %s: %v", ev.PoolID, ev.Kind, ev.Seq, err)
		}

		e.publish(ev.PoolID, st, ev.Seq, now)
	}

	if e.obs != nil {
		e.obs.PendingBufferSize.Set(float64(e.window.Pending()))
		e.obs.DuplicatesDropped.Set(float64(e.window.Stats().Duplicates))
	}
}

// apply mutates the pool state for one admitted event.
func (e *Engine) apply(ctx context.Context, st *poolState, ev *domain.CanonicalEvent) error {
	switch ev.Kind {
	case domain.EventTickUpdate:
		st.ladder.Apply(ev.Tick.Side, ev.Tick.Tick, ev.Tick.Volume)
		if st.ladder.Crossed() {
			return ErrInconsistentSnapshot
		}

	case domain.EventTrade:
		trade := domain.Trade{
			PoolID:    ev.PoolID,
			Price:     ev.Trade.Price,
			Volume:    ev.Trade.Volume,
			Side:      ev.Trade.Side,
			Timestamp: ev.Trade.Timestamp,
			Seq:       ev.Seq,
		}
		st.tape.Append(trade)
		if e.archive != nil {
			if err := e.archive.Insert(ctx, &trade); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				if e.obs != nil {
					e.obs.ArchiveWriteErrors.WithLabelValues("trade_archive").Inc()
				}
				return err
			}
		}

	case domain.EventOrderPlaced, domain.EventOrderMatched:
		if e.orderLog != nil {
			rec := domain.OrderEvent{
				PoolID:    ev.PoolID,
				OrderID:   ev.Order.OrderID,
				Kind:      ev.Kind,
				Tick:      ev.Order.Tick,
				Side:      ev.Order.Side,
				Volume:    ev.Order.Volume,
				Timestamp: ev.Order.Timestamp,
				Seq:       ev.Seq,
			}
			if err := e.orderLog.Insert(ctx, &rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
				if e.obs != nil {
					e.obs.ArchiveWriteErrors.WithLabelValues("order_log").Inc()
				}
				return err
			}
		}
	}
	return nil
}

// rebuild discards a pool's derived book state after an invariant
// violation. The tape survives: trade-derived metrics are unaffected
// by a crossed ladder. The next full pull cycle repopulates the ladder
// and CompleteRefresh flips the pool live.
func (e *Engine) rebuild(poolID string, st *poolState, seq domain.SequenceKey, now time.Time) {
	e.logger.Printf("[engine] pool %s crossed at %s, discarding ladder and rebuilding", poolID, seq)
	if e.obs != nil {
		e.obs.PoolRebuilds.Inc()
	}

	st.status = domain.StatusRebuilding
	st.rebuilds++
	st.ladder.Reset()
	e.window.ResetPool(poolID)
	e.publish(poolID, st, seq, now)
}

// publish recomputes and atomically swaps the pool's snapshot.
func (e *Engine) publish(poolID string, st *poolState, asOf domain.SequenceKey, now time.Time) {
	snap := metrics.Compute(poolID, st.ladder, st.tape, asOf, st.status, now)
	e.publisher.Publish(snap)
	if e.obs != nil {
		e.obs.SnapshotsPublished.Inc()
	}
}

// pool returns the pool's state, creating it on first contact.
func (e *Engine) pool(poolID string) *poolState {
	st, ok := e.pools[poolID]
	if !ok {
		st = &poolState{
			ladder: book.NewLadder(),
			tape:   book.NewTape(e.tapeWindow),
			status: domain.StatusLive,
		}
		e.pools[poolID] = st
	}
	return st
}

// highestSeq returns the sequence of the pool's latest snapshot, used
// when republishing outside the admission path.
func (e *Engine) highestSeq(poolID string) domain.SequenceKey {
	if snap := e.publisher.Get(poolID); snap != nil {
		return snap.AsOfSeq
	}
	return domain.SequenceKey{}
}
