package domain

import "github.com/shopspring/decimal"

// Pool is static reference metadata for a trading pair. It is created
// once when discovered via the indexing service and read-only for the
// engine afterwards.
type Pool struct {
	PoolID        string
	ChainID       int64
	BaseSymbol    string
	BaseDecimals  int
	QuoteSymbol   string
	QuoteDecimals int
	TickSize      decimal.Decimal // quote price increment per tick
	LotSize       decimal.Decimal // base volume unit
	BookAddress   string          // order-book contract address
}

// TickPrice converts a tick index into a quote price using the pool's
// tick size.
func (p *Pool) TickPrice(tick int64) decimal.Decimal {
	return p.TickSize.Mul(decimal.NewFromInt(tick))
}
