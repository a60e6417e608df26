package replay

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage/memory"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedTrade(t *testing.T, archive *memory.TradeArchive, block uint64, index uint32, price string, volume string, ts int64) {
	t.Helper()
	err := archive.Insert(context.Background(), &domain.Trade{
		PoolID:    "pool-1",
		Price:     decimal.RequireFromString(price),
		Volume:    decimal.RequireFromString(volume),
		Side:      domain.SideBid,
		Timestamp: ts,
		Seq:       domain.SequenceKey{Block: block, Index: index},
	})
	require.NoError(t, err)
}

func seedOrder(t *testing.T, ol *memory.OrderLog, block uint64, index uint32, ts int64) {
	t.Helper()
	err := ol.Insert(context.Background(), &domain.OrderEvent{
		PoolID:    "pool-1",
		OrderID:   "o-1",
		Kind:      domain.EventOrderPlaced,
		Tick:      500,
		Side:      domain.SideBid,
		Volume:    10,
		Timestamp: ts,
		Seq:       domain.SequenceKey{Block: block, Index: index},
	})
	require.NoError(t, err)
}

func TestReplayPoolRebuildsTapeMetrics(t *testing.T) {
	archive := memory.NewTradeArchive()
	orderLog := memory.NewOrderLog()

	seedTrade(t, archive, 100, 0, "1.00", "5", 1000)
	seedTrade(t, archive, 100, 1, "1.05", "3", 2000)
	seedTrade(t, archive, 101, 0, "1.10", "2", 3000)
	seedOrder(t, orderLog, 100, 0, 1500)

	r := NewReplayer(Options{Archive: archive, OrderLog: orderLog, Logger: quietLogger()})
	result, err := r.ReplayPool(context.Background(), "pool-1", 0, 5000)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TradesReplayed)
	assert.Equal(t, 1, result.OrdersReplayed)

	require.NotNil(t, result.Snapshot)
	require.NotNil(t, result.Snapshot.LatestPrice)
	assert.True(t, result.Snapshot.LatestPrice.Equal(decimal.RequireFromString("1.10")),
		"latest price is the final trade in sequence order")
	assert.True(t, result.Snapshot.Volume24h.Equal(decimal.NewFromInt(10)))
	assert.Nil(t, result.Snapshot.BestBid, "book state is not archived")
}

func TestReplayPoolHonorsTimeRange(t *testing.T) {
	archive := memory.NewTradeArchive()

	seedTrade(t, archive, 100, 0, "1.00", "5", 1000)
	seedTrade(t, archive, 101, 0, "2.00", "3", 9000)

	r := NewReplayer(Options{Archive: archive, Logger: quietLogger()})
	result, err := r.ReplayPool(context.Background(), "pool-1", 0, 5000)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TradesReplayed)
	require.NotNil(t, result.Snapshot.LatestPrice)
	assert.True(t, result.Snapshot.LatestPrice.Equal(decimal.NewFromInt(1)))
}

func TestReplayEmptyArchive(t *testing.T) {
	r := NewReplayer(Options{Archive: memory.NewTradeArchive(), Logger: quietLogger()})

	result, err := r.ReplayPool(context.Background(), "pool-1", 0, 5000)
	require.NoError(t, err)

	assert.Zero(t, result.TradesReplayed)
	assert.Nil(t, result.Snapshot, "nothing admitted, nothing published")
}

func TestVerifyLatestPrice(t *testing.T) {
	archive := memory.NewTradeArchive()
	seedTrade(t, archive, 100, 0, "1.25", "5", 1000)

	r := NewReplayer(Options{Archive: archive, Logger: quietLogger()})
	result, err := r.ReplayPool(context.Background(), "pool-1", 0, 5000)
	require.NoError(t, err)

	match := decimal.RequireFromString("1.25")
	live := &domain.MarketSnapshot{PoolID: "pool-1", LatestPrice: &match}
	assert.NoError(t, VerifyLatestPrice(result, live))

	drift := decimal.RequireFromString("1.30")
	stale := &domain.MarketSnapshot{PoolID: "pool-1", LatestPrice: &drift}
	assert.ErrorContains(t, VerifyLatestPrice(result, stale), "latest price mismatch")
}
