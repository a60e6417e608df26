package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotStatus tells consumers whether a snapshot reflects live state
// or a pool whose ladder is being rebuilt after an invariant violation.
type SnapshotStatus string

const (
	StatusLive       SnapshotStatus = "LIVE"
	StatusRebuilding SnapshotStatus = "REBUILDING"
)

// MarketSnapshot is an immutable point-in-time view of a pool's market
// state. A new value is constructed and swapped in whole; it is never
// mutated after publication.
type MarketSnapshot struct {
	PoolID      string
	BestBid     *PriceLevel
	BestAsk     *PriceLevel
	SpreadTicks *int64 // set only when both sides are present
	LatestPrice *decimal.Decimal
	Volume24h   decimal.Decimal
	AsOfSeq     SequenceKey
	Status      SnapshotStatus
	ComputedAt  time.Time
}

// SnapshotPoint is a flattened snapshot row for the analytics history
// store. Decimal fields are downcast to float64; the history store is
// for trend analysis, not accounting.
type SnapshotPoint struct {
	PoolID      string
	ComputedAt  int64 // unix milliseconds
	BestBidTick *int64
	BestAskTick *int64
	SpreadTicks *int64
	LatestPrice *float64
	Volume24h   float64
	AsOfBlock   uint64
	AsOfIndex   uint32
	Status      string
}
