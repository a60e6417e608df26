// Package indexer provides the client for the external indexing
// service, the pull side of the event pipeline. Numeric fields arrive
// as strings and are passed through raw; normalization parses them.
package indexer

// TickRow is a raw tick update row as returned by the indexing service.
type TickRow struct {
	PoolID     string `json:"poolId"`
	ChainID    int64  `json:"chainId"`
	Block      uint64 `json:"block"`
	BlockIndex uint32 `json:"blockIndex"`
	Tick       int64  `json:"tick"`
	Side       string `json:"side"` // "bid" or "ask"
	Volume     string `json:"volume"`
}

// TradeRow is a raw trade row as returned by the indexing service.
type TradeRow struct {
	PoolID     string `json:"poolId"`
	ChainID    int64  `json:"chainId"`
	Block      uint64 `json:"block"`
	BlockIndex uint32 `json:"blockIndex"`
	Price      string `json:"price"`
	Volume     string `json:"volume"`
	Side       string `json:"side"`
	Timestamp  int64  `json:"timestamp"` // unix ms
}

// OrderRow is a raw order placement/match row as returned by the
// indexing service.
type OrderRow struct {
	PoolID     string `json:"poolId"`
	ChainID    int64  `json:"chainId"`
	Block      uint64 `json:"block"`
	BlockIndex uint32 `json:"blockIndex"`
	OrderID    string `json:"orderId"`
	Kind       string `json:"kind"` // "placed" or "matched"
	Tick       int64  `json:"tick"`
	Side       string `json:"side"`
	Volume     string `json:"volume"`
	Timestamp  int64  `json:"timestamp"`
}

// PoolRow is a raw pool metadata row as returned by the indexing service.
type PoolRow struct {
	PoolID        string `json:"poolId"`
	ChainID       int64  `json:"chainId"`
	BaseSymbol    string `json:"baseSymbol"`
	BaseDecimals  int32  `json:"baseDecimals"`
	QuoteSymbol   string `json:"quoteSymbol"`
	QuoteDecimals int32  `json:"quoteDecimals"`
	TickSize      string `json:"tickSize"`
	LotSize       string `json:"lotSize"`
	BookAddress   string `json:"bookAddress"`
}

// BalanceRow is a raw settlement balance row as returned by the
// indexing service.
type BalanceRow struct {
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	ChainID   int64  `json:"chainId"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
	Block     uint64 `json:"block"`
}
