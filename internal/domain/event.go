package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies the variant of a CanonicalEvent.
type EventKind string

const (
	EventTickUpdate   EventKind = "TICK_UPDATE"
	EventTrade        EventKind = "TRADE"
	EventOrderPlaced  EventKind = "ORDER_PLACED"
	EventOrderMatched EventKind = "ORDER_MATCHED"
)

// Valid reports whether the kind is one of the known variants.
func (k EventKind) Valid() bool {
	switch k {
	case EventTickUpdate, EventTrade, EventOrderPlaced, EventOrderMatched:
		return true
	}
	return false
}

// Side is the order-book side a level or order belongs to.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Valid reports whether the side is BID or ASK.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// SequenceKey orders and deduplicates chain-derived events.
// Block is the block number, Index the intra-block position.
// The index is dense per (poolID, eventKind) stream: the first event
// a stream emits in a block carries index 0.
type SequenceKey struct {
	Block uint64
	Index uint32
}

// Cmp returns:
//   - negative if k < o
//   - zero if k == o
//   - positive if k > o
func (k SequenceKey) Cmp(o SequenceKey) int {
	if k.Block != o.Block {
		if k.Block < o.Block {
			return -1
		}
		return 1
	}
	if k.Index != o.Index {
		if k.Index < o.Index {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero reports whether the key is the zero value (no event admitted yet).
func (k SequenceKey) IsZero() bool {
	return k.Block == 0 && k.Index == 0
}

func (k SequenceKey) String() string {
	return fmt.Sprintf("%d/%d", k.Block, k.Index)
}

// CanonicalEvent is the single event type every transport payload is
// normalized into. Exactly one of Tick, Trade, Order is non-nil,
// matching Kind.
type CanonicalEvent struct {
	Kind       EventKind
	ChainID    int64
	PoolID     string
	Seq        SequenceKey
	ObservedAt time.Time // ingestion wall clock, diagnostic only

	Tick  *TickUpdate
	Trade *TradeExec
	Order *OrderUpdate
}

// TickUpdate carries the absolute aggregated volume resting at a tick.
// Applying it replaces the stored volume for (side, tick); volume 0
// removes the level.
type TickUpdate struct {
	Tick   int64
	Side   Side
	Volume uint64
}

// TradeExec is an executed trade observed on chain.
type TradeExec struct {
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Side      Side  // taker side
	Timestamp int64 // unix milliseconds, authoritative for the rolling window
}

// OrderUpdate is an order placement or match event. The engine records
// these in the order log; they do not mutate the ladder, which is
// derived from tick updates.
type OrderUpdate struct {
	OrderID   string
	Tick      int64
	Side      Side
	Volume    uint64
	Timestamp int64 // unix milliseconds
}
