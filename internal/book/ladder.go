// Package book holds the per-pool market-state stores: the price
// ladder (aggregated volume per tick) and the trade tape.
package book

import (
	"github.com/tidwall/btree"

	"clob-market-engine/internal/domain"
)

const ladderDegree = 32

// Ladder maintains aggregated volume per discrete price tick for each
// side of a pool's book. Tick updates carry absolute volume, so
// applying one replaces the stored volume (last admitted wins); a zero
// volume prunes the level.
//
// Ladder is not safe for concurrent use; all mutation goes through the
// engine's serialized admission path.
type Ladder struct {
	bids *btree.Map[int64, uint64]
	asks *btree.Map[int64, uint64]
}

// NewLadder creates an empty ladder.
func NewLadder() *Ladder {
	return &Ladder{
		bids: btree.NewMap[int64, uint64](ladderDegree),
		asks: btree.NewMap[int64, uint64](ladderDegree),
	}
}

// Apply sets the absolute volume at (side, tick). Volume 0 removes the
// level.
func (l *Ladder) Apply(side domain.Side, tick int64, volume uint64) {
	m := l.side(side)
	if volume == 0 {
		m.Delete(tick)
		return
	}
	m.Set(tick, volume)
}

// BestBid returns the highest-tick bid level with volume > 0.
// ok is false when the bid side is empty.
func (l *Ladder) BestBid() (domain.PriceLevel, bool) {
	tick, vol, ok := l.bids.Max()
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Tick: tick, Side: domain.SideBid, Volume: vol}, true
}

// BestAsk returns the lowest-tick ask level with volume > 0.
// ok is false when the ask side is empty.
func (l *Ladder) BestAsk() (domain.PriceLevel, bool) {
	tick, vol, ok := l.asks.Min()
	if !ok {
		return domain.PriceLevel{}, false
	}
	return domain.PriceLevel{Tick: tick, Side: domain.SideAsk, Volume: vol}, true
}

// Depth returns up to n levels from the top of the given side: bids
// descending from the best bid, asks ascending from the best ask.
func (l *Ladder) Depth(side domain.Side, n int) []domain.PriceLevel {
	if n <= 0 {
		return nil
	}

	levels := make([]domain.PriceLevel, 0, n)
	iter := func(tick int64, vol uint64) bool {
		levels = append(levels, domain.PriceLevel{Tick: tick, Side: side, Volume: vol})
		return len(levels) < n
	}

	if side == domain.SideBid {
		l.bids.Reverse(iter)
	} else {
		l.asks.Scan(iter)
	}
	return levels
}

// Volume returns the stored volume at (side, tick); 0 means the level
// is absent.
func (l *Ladder) Volume(side domain.Side, tick int64) uint64 {
	vol, _ := l.side(side).Get(tick)
	return vol
}

// Levels returns the total number of live levels across both sides.
func (l *Ladder) Levels() int {
	return l.bids.Len() + l.asks.Len()
}

// Crossed reports whether the book is crossed (best bid at or above
// best ask). A crossed ladder cannot occur on a matching CLOB and
// marks the pool state inconsistent.
func (l *Ladder) Crossed() bool {
	bidTick, _, okBid := l.bids.Max()
	askTick, _, okAsk := l.asks.Min()
	if !okBid || !okAsk {
		return false
	}
	return bidTick >= askTick
}

// Reset drops all levels on both sides.
func (l *Ladder) Reset() {
	l.bids = btree.NewMap[int64, uint64](ladderDegree)
	l.asks = btree.NewMap[int64, uint64](ladderDegree)
}

func (l *Ladder) side(side domain.Side) *btree.Map[int64, uint64] {
	if side == domain.SideBid {
		return l.bids
	}
	return l.asks
}
