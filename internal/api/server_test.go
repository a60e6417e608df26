package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/indexer"
	"clob-market-engine/internal/ingest"
	"clob-market-engine/internal/publish"
	"clob-market-engine/internal/refdata"
	"clob-market-engine/internal/storage/memory"
)

type fakeEngine struct {
	snapshots map[string]*domain.MarketSnapshot
	stats     ingest.Stats
}

func (f *fakeEngine) Snapshot(poolID string) *domain.MarketSnapshot { return f.snapshots[poolID] }
func (f *fakeEngine) WindowStats() ingest.Stats                     { return f.stats }

func (f *fakeEngine) PoolStatus(poolID string) (domain.SnapshotStatus, bool) {
	snap, ok := f.snapshots[poolID]
	if !ok {
		return "", false
	}
	return snap.Status, true
}

type fakeFetcher struct {
	pools    []indexer.PoolRow
	balances []indexer.BalanceRow
}

func (f *fakeFetcher) FetchPools(context.Context, int64) ([]indexer.PoolRow, error) {
	return f.pools, nil
}

func (f *fakeFetcher) FetchBalances(context.Context, string) ([]indexer.BalanceRow, error) {
	return f.balances, nil
}

func testSnapshot(poolID string) *domain.MarketSnapshot {
	spread := int64(5)
	price := decimal.RequireFromString("1.2345")
	return &domain.MarketSnapshot{
		PoolID:      poolID,
		BestBid:     &domain.PriceLevel{Tick: 500, Side: domain.SideBid, Volume: 10},
		BestAsk:     &domain.PriceLevel{Tick: 505, Side: domain.SideAsk, Volume: 7},
		SpreadTicks: &spread,
		LatestPrice: &price,
		Volume24h:   decimal.NewFromInt(42),
		AsOfSeq:     domain.SequenceKey{Block: 100, Index: 3},
		Status:      domain.StatusLive,
		ComputedAt:  time.Now(),
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine, *publish.Publisher) {
	t.Helper()

	eng := &fakeEngine{
		snapshots: map[string]*domain.MarketSnapshot{"pool-1": testSnapshot("pool-1")},
		stats:     ingest.Stats{Admitted: 10, Duplicates: 2},
	}

	pub := publish.NewPublisher()
	pub.Publish(eng.snapshots["pool-1"])

	fetcher := &fakeFetcher{
		pools: []indexer.PoolRow{{
			PoolID: "pool-1", ChainID: 1, BaseSymbol: "WETH", BaseDecimals: 18,
			QuoteSymbol: "USDC", QuoteDecimals: 6, TickSize: "0.01", LotSize: "0.0001",
			BookAddress: "0x00000000000000000000000000000000000000aa",
		}},
		balances: []indexer.BalanceRow{
			{Owner: "0xabc", Token: "USDC", ChainID: 1, Available: "100", Locked: "20", Block: 42},
		},
	}
	ref := refdata.NewService(fetcher, memory.NewPoolStore(), log.New(io.Discard, "", 0))
	_, err := ref.Discover(context.Background(), 1)
	require.NoError(t, err)

	srv := NewServer(Options{
		Engine:    eng,
		Publisher: pub,
		RefData:   ref,
		ChainID:   1,
		Logger:    log.New(io.Discard, "", 0),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, eng, pub
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", nil))
}

func TestSnapshotEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var got snapshotJSON
	status := getJSON(t, ts.URL+"/snapshot?pool=pool-1", &got)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "pool-1", got.PoolID)
	require.NotNil(t, got.BestBid)
	assert.Equal(t, int64(500), got.BestBid.Tick)
	require.NotNil(t, got.SpreadTicks)
	assert.Equal(t, int64(5), *got.SpreadTicks)
	assert.Equal(t, uint64(100), got.AsOfBlock)
	assert.Equal(t, "LIVE", got.Status)
}

func TestSnapshotEndpointErrors(t *testing.T) {
	ts, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/snapshot?pool=nope", nil))
}

func TestPoolsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var got []poolJSON
	status := getJSON(t, ts.URL+"/pools", &got)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, got, 1)
	assert.Equal(t, "WETH", got[0].BaseSymbol)
	assert.True(t, got[0].TickSize.Equal(decimal.RequireFromString("0.01")))
}

func TestBalancesEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var got []balanceJSON
	status := getJSON(t, ts.URL+"/balances?owner=0xabc", &got)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, got, 1)
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(120)))

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/balances", nil))
}

func TestStatusEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var got statusJSON
	status := getJSON(t, ts.URL+"/status", &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(10), got.Window.Admitted)
	require.Len(t, got.Pools, 1)
	assert.Equal(t, "LIVE", got.Pools[0].Status)
}

func TestStreamPushesPublishedSnapshots(t *testing.T) {
	ts, _, pub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream?pool=pool-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// A snapshot for another pool is filtered out, pool-1 comes through
	pub.Publish(testSnapshot("pool-2"))
	snap := testSnapshot("pool-1")
	snap.AsOfSeq = domain.SequenceKey{Block: 101, Index: 0}
	pub.Publish(snap)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got snapshotJSON
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "pool-1", got.PoolID)
	assert.Equal(t, uint64(101), got.AsOfBlock)
}
