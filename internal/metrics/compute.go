// Package metrics computes derived market metrics from the per-pool
// stores. Compute is pure: same stores, same inputs, same snapshot, so
// per-event and interval-driven recomputation converge on identical
// values.
package metrics

import (
	"time"

	"clob-market-engine/internal/book"
	"clob-market-engine/internal/domain"
)

// Compute derives a full market snapshot for a pool from its ladder
// and tape. asOf is the highest admitted sequence key, now anchors the
// rolling volume window.
func Compute(poolID string, ladder *book.Ladder, tape *book.Tape, asOf domain.SequenceKey, status domain.SnapshotStatus, now time.Time) *domain.MarketSnapshot {
	snap := &domain.MarketSnapshot{
		PoolID:     poolID,
		Volume24h:  tape.VolumeWithin(now),
		AsOfSeq:    asOf,
		Status:     status,
		ComputedAt: now,
	}

	if bid, ok := ladder.BestBid(); ok {
		b := bid
		snap.BestBid = &b
	}
	if ask, ok := ladder.BestAsk(); ok {
		a := ask
		snap.BestAsk = &a
	}

	// Spread is defined only when both sides have resting volume
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Tick - snap.BestBid.Tick
		snap.SpreadTicks = &spread
	}

	if price, ok := tape.LatestPrice(); ok {
		p := price
		snap.LatestPrice = &p
	}

	return snap
}

// Flatten converts a snapshot into the analytics history row shape.
func Flatten(s *domain.MarketSnapshot) *domain.SnapshotPoint {
	p := &domain.SnapshotPoint{
		PoolID:     s.PoolID,
		ComputedAt: s.ComputedAt.UnixMilli(),
		Volume24h:  s.Volume24h.InexactFloat64(),
		AsOfBlock:  s.AsOfSeq.Block,
		AsOfIndex:  s.AsOfSeq.Index,
		Status:     string(s.Status),
	}

	if s.BestBid != nil {
		tick := s.BestBid.Tick
		p.BestBidTick = &tick
	}
	if s.BestAsk != nil {
		tick := s.BestAsk.Tick
		p.BestAskTick = &tick
	}
	if s.SpreadTicks != nil {
		spread := *s.SpreadTicks
		p.SpreadTicks = &spread
	}
	if s.LatestPrice != nil {
		price := s.LatestPrice.InexactFloat64()
		p.LatestPrice = &price
	}

	return p
}
