// Package replay re-derives trade-driven market state from the
// archives. Feeding the stored trade and order streams through a fresh
// engine in sequence order must land on the same tape metrics the live
// run produced; disagreement means the archive or the admission path
// drifted.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/engine"
	"clob-market-engine/internal/ingest"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/storage"
)

// orderLogLimit bounds how much of the order log one replay loads.
const orderLogLimit = 100_000

// Options configures a Replayer.
type Options struct {
	Archive  storage.TradeArchive
	OrderLog storage.OrderLog
	Logger   *log.Logger
}

// Result summarizes one pool replay. The snapshot carries the
// trade-derived fields only; tick updates are not archived, so the
// rebuilt book has no resting levels.
type Result struct {
	PoolID         string
	TradesReplayed int
	OrdersReplayed int
	Snapshot       *domain.MarketSnapshot
	Duration       time.Duration
}

// Replayer rebuilds pool state from the archives.
type Replayer struct {
	archive  storage.TradeArchive
	orderLog storage.OrderLog
	logger   *log.Logger
}

// NewReplayer creates a replayer.
func NewReplayer(opts Options) *Replayer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Replayer{
		archive:  opts.Archive,
		orderLog: opts.OrderLog,
		logger:   logger,
	}
}

// ReplayPool replays one pool's archived events with timestamps in
// [from, to] (unix milliseconds) through a fresh engine.
func (r *Replayer) ReplayPool(ctx context.Context, poolID string, from, to int64) (*Result, error) {
	start := time.Now()

	trades, err := r.archive.GetByPoolTimeRange(ctx, poolID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	var orders []*domain.OrderEvent
	if r.orderLog != nil {
		all, err := r.orderLog.GetByPool(ctx, poolID, orderLogLimit)
		if err != nil {
			return nil, fmt.Errorf("load orders: %w", err)
		}
		for _, o := range all {
			if o.Timestamp >= from && o.Timestamp <= to {
				orders = append(orders, o)
			}
		}
	}

	events := buildEvents(poolID, trades, orders)

	publisher := publish.NewPublisher()
	eng := engine.New(engine.Options{
		// Replay input is already sequence-sorted; a one-block horizon
		// keeps the window from buffering.
		Window:     ingest.Config{Horizon: 1, GapWait: time.Nanosecond, MaxPending: 16},
		TapeWindow: time.Duration(to-from+1) * time.Millisecond,
		Publisher:  publisher,
		Logger:     r.logger,
		Now:        func() time.Time { return time.UnixMilli(to) },
	})

	for _, ev := range events {
		eng.Submit(ctx, ev)
	}
	eng.Flush(ctx)

	result := &Result{
		PoolID:         poolID,
		TradesReplayed: len(trades),
		OrdersReplayed: len(orders),
		Snapshot:       publisher.Get(poolID),
		Duration:       time.Since(start),
	}

	r.logger.Printf("[replay] pool %s: %d trades, %d orders in %v",
		poolID, result.TradesReplayed, result.OrdersReplayed, result.Duration)
	return result, nil
}

// VerifyLatestPrice compares a replay result against a live snapshot.
// Only the trade-derived latest price is comparable; book state is not
// archived.
func VerifyLatestPrice(replayed *Result, live *domain.MarketSnapshot) error {
	if replayed.Snapshot == nil || live == nil {
		return nil
	}
	rp, lp := replayed.Snapshot.LatestPrice, live.LatestPrice
	switch {
	case rp == nil && lp == nil:
		return nil
	case rp == nil || lp == nil:
		return fmt.Errorf("latest price presence mismatch for pool %s", replayed.PoolID)
	case !rp.Equal(*lp):
		return fmt.Errorf("latest price mismatch for pool %s: replayed %s, live %s",
			replayed.PoolID, rp, lp)
	}
	return nil
}

// buildEvents merges trades and orders into one sequence-ordered
// canonical stream.
func buildEvents(poolID string, trades []*domain.Trade, orders []*domain.OrderEvent) []*domain.CanonicalEvent {
	events := make([]*domain.CanonicalEvent, 0, len(trades)+len(orders))

	for _, t := range trades {
		events = append(events, &domain.CanonicalEvent{
			Kind:       domain.EventTrade,
			PoolID:     poolID,
			Seq:        t.Seq,
			ObservedAt: time.UnixMilli(t.Timestamp),
			Trade: &domain.TradeExec{
				Price:     t.Price,
				Volume:    t.Volume,
				Side:      t.Side,
				Timestamp: t.Timestamp,
			},
		})
	}

	for _, o := range orders {
		events = append(events, &domain.CanonicalEvent{
			Kind:       o.Kind,
			PoolID:     poolID,
			Seq:        o.Seq,
			ObservedAt: time.UnixMilli(o.Timestamp),
			Order: &domain.OrderUpdate{
				OrderID:   o.OrderID,
				Tick:      o.Tick,
				Side:      o.Side,
				Volume:    o.Volume,
				Timestamp: o.Timestamp,
			},
		})
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Seq.Cmp(events[j].Seq) < 0
	})
	return events
}
