// Package refdata maintains pool reference metadata: discovery from
// the indexing service, a write-once store of pool parameters, and
// settlement balance lookups for the status surface.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/indexer"
	"clob-market-engine/internal/normalize"
	"clob-market-engine/internal/storage"
)

// Fetcher is the slice of the indexing service client the service
// uses.
type Fetcher interface {
	FetchPools(ctx context.Context, chainID int64) ([]indexer.PoolRow, error)
	FetchBalances(ctx context.Context, owner string) ([]indexer.BalanceRow, error)
}

// Service caches discovered pools and answers reference lookups.
type Service struct {
	fetcher Fetcher
	store   storage.PoolStore
	logger  *log.Logger
}

// NewService creates a reference data service backed by the given
// store.
func NewService(fetcher Fetcher, store storage.PoolStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{fetcher: fetcher, store: store, logger: logger}
}

// Discover fetches the chain's pools and stores the ones not seen
// before. Pool parameters are immutable on chain, so an existing row is
// left untouched. Returns the number of newly stored pools.
func (s *Service) Discover(ctx context.Context, chainID int64) (int, error) {
	rows, err := s.fetcher.FetchPools(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("fetch pools: %w", err)
	}

	added := 0
	for _, row := range rows {
		pool, err := normalize.FromPool(row)
		if err != nil {
			s.logger.Printf("[refdata] skipping pool %s: %v", row.PoolID, err)
			continue
		}

		if err := s.store.Insert(ctx, pool); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			return added, fmt.Errorf("store pool %s: %w", pool.PoolID, err)
		}
		added++
	}

	if added > 0 {
		s.logger.Printf("[refdata] discovered %d new pools on chain %d", added, chainID)
	}
	return added, nil
}

// Pool returns a pool's reference metadata.
func (s *Service) Pool(ctx context.Context, poolID string) (*domain.Pool, error) {
	return s.store.GetByID(ctx, poolID)
}

// Pools returns all known pools on a chain, ordered by pool ID.
func (s *Service) Pools(ctx context.Context, chainID int64) ([]*domain.Pool, error) {
	return s.store.GetByChain(ctx, chainID)
}

// PoolIDs returns the IDs of all known pools on a chain, used to seed
// ingestion when no explicit pool list is configured.
func (s *Service) PoolIDs(ctx context.Context, chainID int64) ([]string, error) {
	pools, err := s.store.GetByChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pools))
	for _, p := range pools {
		ids = append(ids, p.PoolID)
	}
	return ids, nil
}

// Balances fetches an owner's settlement balances. Rows that fail to
// parse are skipped with a log line; balances are display data, not
// accounting input.
func (s *Service) Balances(ctx context.Context, owner string) ([]*domain.SettlementBalance, error) {
	rows, err := s.fetcher.FetchBalances(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	out := make([]*domain.SettlementBalance, 0, len(rows))
	for _, row := range rows {
		bal, err := normalize.FromBalanceRow(row)
		if err != nil {
			s.logger.Printf("[refdata] skipping balance %s/%s: %v", row.Owner, row.Token, err)
			continue
		}
		out = append(out, bal)
	}
	return out, nil
}
