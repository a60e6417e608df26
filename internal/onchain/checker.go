// Package onchain cross-checks published best prices against the order
// book contract itself. The contract is the source of truth; the check
// is advisory and log-only, it never mutates engine state.
package onchain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/observability"
	"clob-market-engine/internal/storage"
)

// bestPriceABI is the fragment of the book contract's interface the
// checker needs. Side is encoded as 0 for bid, 1 for ask.
const bestPriceABI = `[{"name":"getBestPrice","type":"function","stateMutability":"view","inputs":[{"name":"side","type":"uint8"}],"outputs":[{"name":"tick","type":"int64"},{"name":"exists","type":"bool"}]}]`

const (
	sideBid uint8 = 0
	sideAsk uint8 = 1
)

// ContractCaller is the read-only RPC surface the checker needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// SnapshotSource provides the latest published snapshot for a pool.
type SnapshotSource interface {
	Snapshot(poolID string) *domain.MarketSnapshot
}

// Options configures a Checker.
type Options struct {
	Caller    ContractCaller
	Pools     storage.PoolStore
	Snapshots SnapshotSource
	Metrics   *observability.Metrics
	Logger    *log.Logger
}

// Checker compares the engine's best bid/ask ticks against an eth_call
// to the pool's book contract.
type Checker struct {
	caller    ContractCaller
	pools     storage.PoolStore
	snapshots SnapshotSource
	obs       *observability.Metrics
	logger    *log.Logger
	bookABI   abi.ABI
}

// NewChecker creates a checker. The caller is typically a client from
// Dial.
func NewChecker(opts Options) (*Checker, error) {
	parsed, err := abi.JSON(strings.NewReader(bestPriceABI))
	if err != nil {
		return nil, fmt.Errorf("parse book abi: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Checker{
		caller:    opts.Caller,
		pools:     opts.Pools,
		snapshots: opts.Snapshots,
		obs:       opts.Metrics,
		logger:    logger,
		bookABI:   parsed,
	}, nil
}

// Dial connects to a chain RPC endpoint.
func Dial(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return client, nil
}

// Check compares the pool's published best prices with the contract.
// Mismatches are logged and counted, nothing else; a rebuilding pool is
// skipped since its ladder is known-stale.
func (c *Checker) Check(ctx context.Context, poolID string) {
	snap := c.snapshots.Snapshot(poolID)
	if snap == nil || snap.Status != domain.StatusLive {
		return
	}

	pool, err := c.pools.GetByID(ctx, poolID)
	if err != nil {
		c.logger.Printf("[onchain] pool %s lookup: %v", poolID, err)
		return
	}
	if pool.BookAddress == "" {
		return
	}

	if c.obs != nil {
		c.obs.CrossCheckRuns.Inc()
	}

	addr := common.HexToAddress(pool.BookAddress)

	var snapBid *int64
	if snap.BestBid != nil {
		snapBid = &snap.BestBid.Tick
	}
	c.checkSide(ctx, poolID, addr, sideBid, "bid", snapBid)

	var snapAsk *int64
	if snap.BestAsk != nil {
		snapAsk = &snap.BestAsk.Tick
	}
	c.checkSide(ctx, poolID, addr, sideAsk, "ask", snapAsk)
}

func (c *Checker) checkSide(ctx context.Context, poolID string, addr common.Address, side uint8, label string, snapTick *int64) {
	tick, exists, err := c.bestPrice(ctx, addr, side)
	if err != nil {
		c.logger.Printf("[onchain] pool %s %s call: %v", poolID, label, err)
		return
	}

	switch {
	case !exists && snapTick == nil:
		return
	case !exists:
		c.logger.Printf("[onchain] pool %s %s mismatch: contract empty, snapshot tick %d", poolID, label, *snapTick)
	case snapTick == nil:
		c.logger.Printf("[onchain] pool %s %s mismatch: contract tick %d, snapshot empty", poolID, label, tick)
	case tick != *snapTick:
		c.logger.Printf("[onchain] pool %s %s mismatch: contract tick %d, snapshot tick %d", poolID, label, tick, *snapTick)
	default:
		return
	}

	if c.obs != nil {
		c.obs.CrossCheckMismatches.WithLabelValues(label).Inc()
	}
}

// bestPrice executes the contract's getBestPrice view at head.
func (c *Checker) bestPrice(ctx context.Context, addr common.Address, side uint8) (int64, bool, error) {
	data, err := c.bookABI.Pack("getBestPrice", side)
	if err != nil {
		return 0, false, fmt.Errorf("pack getBestPrice: %w", err)
	}

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return 0, false, fmt.Errorf("call getBestPrice: %w", err)
	}

	vals, err := c.bookABI.Unpack("getBestPrice", out)
	if err != nil {
		return 0, false, fmt.Errorf("unpack getBestPrice: %w", err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("unpack getBestPrice: got %d values", len(vals))
	}

	tick, ok := vals[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("unpack getBestPrice: unexpected tick type %T", vals[0])
	}
	exists, ok := vals[1].(bool)
	if !ok {
		return 0, false, fmt.Errorf("unpack getBestPrice: unexpected exists type %T", vals[1])
	}
	return tick, exists, nil
}
