package normalize

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/feed"
	"clob-market-engine/internal/indexer"
)

var observedAt = time.UnixMilli(1700000000000)

func TestFromTickRow(t *testing.T) {
	row := indexer.TickRow{
		PoolID:     "pool-1",
		ChainID:    8453,
		Block:      100,
		BlockIndex: 2,
		Tick:       250120,
		Side:       "bid",
		Volume:     "40",
	}

	ev, err := FromTickRow(row, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventTickUpdate, ev.Kind)
	assert.Equal(t, domain.SequenceKey{Block: 100, Index: 2}, ev.Seq)
	require.NotNil(t, ev.Tick)
	assert.Nil(t, ev.Trade)
	assert.Nil(t, ev.Order)
	assert.Equal(t, domain.SideBid, ev.Tick.Side)
	assert.Equal(t, uint64(40), ev.Tick.Volume)
}

func TestFromTickRow_UnknownSide(t *testing.T) {
	row := indexer.TickRow{Side: "buy", Volume: "1"}
	_, err := FromTickRow(row, observedAt)
	assert.ErrorIs(t, err, ErrUnrecognizedEventKind)
}

func TestFromTickRow_BadVolume(t *testing.T) {
	row := indexer.TickRow{Side: "ask", Volume: "-1"}
	_, err := FromTickRow(row, observedAt)
	assert.Error(t, err)
}

func TestFromTradeRow(t *testing.T) {
	row := indexer.TradeRow{
		PoolID:     "pool-1",
		ChainID:    8453,
		Block:      100,
		BlockIndex: 0,
		Price:      "2501.25",
		Volume:     "0.5",
		Side:       "ask",
		Timestamp:  1700000000123,
	}

	ev, err := FromTradeRow(row, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventTrade, ev.Kind)
	require.NotNil(t, ev.Trade)
	assert.True(t, ev.Trade.Price.Equal(decimal.RequireFromString("2501.25")))
	assert.Equal(t, domain.SideAsk, ev.Trade.Side)
	assert.Equal(t, int64(1700000000123), ev.Trade.Timestamp)
}

func TestFromOrderRow(t *testing.T) {
	row := indexer.OrderRow{
		PoolID:     "pool-1",
		ChainID:    8453,
		Block:      100,
		BlockIndex: 1,
		OrderID:    "ord-7",
		Kind:       "matched",
		Tick:       250125,
		Side:       "ask",
		Volume:     "10",
		Timestamp:  1700000000123,
	}

	ev, err := FromOrderRow(row, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventOrderMatched, ev.Kind)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ord-7", ev.Order.OrderID)
	assert.Equal(t, uint64(10), ev.Order.Volume)
}

func TestFromOrderRow_UnknownKind(t *testing.T) {
	row := indexer.OrderRow{Kind: "cancelled", Side: "bid", Volume: "1"}
	_, err := FromOrderRow(row, observedAt)
	assert.ErrorIs(t, err, ErrUnrecognizedEventKind)
}

func boolPtr(b bool) *bool { return &b }

func TestFromFeedMessage_Tick(t *testing.T) {
	msg := feed.EventMessage{
		Type:   feed.TypeTick,
		Pool:   "pool-1",
		Chain:  8453,
		Block:  100,
		Index:  0,
		Tick:   250120,
		IsBuy:  boolPtr(true),
		Volume: "40",
	}

	ev, err := FromFeedMessage(msg, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventTickUpdate, ev.Kind)
	require.NotNil(t, ev.Tick)
	// isBuy=true maps to the bid side
	assert.Equal(t, domain.SideBid, ev.Tick.Side)
}

func TestFromFeedMessage_Trade(t *testing.T) {
	msg := feed.EventMessage{
		Type:  feed.TypeTrade,
		Pool:  "pool-1",
		Chain: 8453,
		Block: 100,
		Index: 1,
		IsBuy: boolPtr(false),
		Price: "2501.25",
		Size:  "0.5",
		Ts:    1700000000123,
	}

	ev, err := FromFeedMessage(msg, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventTrade, ev.Kind)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, domain.SideAsk, ev.Trade.Side)
	assert.True(t, ev.Trade.Volume.Equal(decimal.RequireFromString("0.5")))
}

func TestFromFeedMessage_OrderPlaced(t *testing.T) {
	msg := feed.EventMessage{
		Type:    feed.TypeOrderPlaced,
		Pool:    "pool-1",
		Chain:   8453,
		Block:   100,
		Index:   2,
		Tick:    250120,
		IsBuy:   boolPtr(true),
		Volume:  "10",
		OrderID: "ord-1",
		Ts:      1700000000123,
	}

	ev, err := FromFeedMessage(msg, observedAt)
	require.NoError(t, err)

	assert.Equal(t, domain.EventOrderPlaced, ev.Kind)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ord-1", ev.Order.OrderID)
}

func TestFromFeedMessage_MissingIsBuy(t *testing.T) {
	msg := feed.EventMessage{
		Type:   feed.TypeTick,
		Volume: "40",
	}
	_, err := FromFeedMessage(msg, observedAt)
	assert.ErrorIs(t, err, ErrUnrecognizedEventKind)
}

func TestFromFeedMessage_UnknownType(t *testing.T) {
	msg := feed.EventMessage{Type: "liquidation"}
	_, err := FromFeedMessage(msg, observedAt)
	assert.ErrorIs(t, err, ErrUnrecognizedEventKind)
}

func TestFromFeedMessage_EquivalentToPullRow(t *testing.T) {
	// The same chain event observed on both transports must normalize
	// to the same canonical content
	fromPull, err := FromTradeRow(indexer.TradeRow{
		PoolID: "pool-1", ChainID: 8453, Block: 100, BlockIndex: 0,
		Price: "2501.25", Volume: "0.5", Side: "bid", Timestamp: 1700000000123,
	}, observedAt)
	require.NoError(t, err)

	fromPush, err := FromFeedMessage(feed.EventMessage{
		Type: feed.TypeTrade, Pool: "pool-1", Chain: 8453, Block: 100, Index: 0,
		Price: "2501.25", Size: "0.5", IsBuy: boolPtr(true), Ts: 1700000000123,
	}, observedAt)
	require.NoError(t, err)

	assert.Equal(t, fromPull, fromPush)
}

func TestFromPool(t *testing.T) {
	p, err := FromPool(indexer.PoolRow{
		PoolID:        "pool-1",
		ChainID:       8453,
		BaseSymbol:    "WETH",
		BaseDecimals:  18,
		QuoteSymbol:   "USDC",
		QuoteDecimals: 6,
		TickSize:      "0.01",
		LotSize:       "0.0001",
		BookAddress:   "0xaa",
	})
	require.NoError(t, err)

	assert.Equal(t, 18, p.BaseDecimals)
	assert.True(t, p.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, p.TickPrice(250125).Equal(decimal.RequireFromString("2501.25")))
}

func TestFromPool_BadTickSize(t *testing.T) {
	_, err := FromPool(indexer.PoolRow{TickSize: "abc", LotSize: "1"})
	assert.Error(t, err)
}
