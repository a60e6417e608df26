package domain

import "github.com/shopspring/decimal"

// Trade is an admitted, immutable trade execution for a pool.
type Trade struct {
	PoolID    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Side      Side
	Timestamp int64 // unix milliseconds
	Seq       SequenceKey
}

// OrderEvent is a flattened order placement/match record kept in the
// append-only order log.
type OrderEvent struct {
	PoolID    string
	OrderID   string
	Kind      EventKind // EventOrderPlaced or EventOrderMatched
	Tick      int64
	Side      Side
	Volume    uint64
	Timestamp int64 // unix milliseconds
	Seq       SequenceKey
}
