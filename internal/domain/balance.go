package domain

import "github.com/shopspring/decimal"

// SettlementBalance is an owner's per-token balance on the settlement
// layer, as of a block. Available funds can be withdrawn or used to
// place orders; locked funds back resting orders.
type SettlementBalance struct {
	Owner     string
	Token     string
	ChainID   int64
	Available decimal.Decimal
	Locked    decimal.Decimal
	Block     uint64
}

// Total returns available plus locked.
func (b SettlementBalance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
