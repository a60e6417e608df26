package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Insert adds a new pool. Returns ErrDuplicateKey if pool_id exists.
func (s *PoolStore) Insert(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.PoolID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (
			pool_id, chain_id, base_symbol, base_decimals,
			quote_symbol, quote_decimals, tick_size, lot_size, book_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		p.PoolID,
		p.ChainID,
		p.BaseSymbol,
		p.BaseDecimals,
		p.QuoteSymbol,
		p.QuoteDecimals,
		p.TickSize.String(),
		p.LotSize.String(),
		p.BookAddress,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetByID retrieves a pool by its ID. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByID(ctx context.Context, poolID string) (*domain.Pool, error) {
	query := `
		SELECT pool_id, chain_id, base_symbol, base_decimals,
		       quote_symbol, quote_decimals, tick_size, lot_size, book_address
		FROM pools
		WHERE pool_id = $1
	`

	row := s.pool.QueryRow(ctx, query, poolID)

	p, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by id: %w", err)
	}
	return p, nil
}

// GetByChain retrieves all pools for a chain, ordered by pool_id ASC.
func (s *PoolStore) GetByChain(ctx context.Context, chainID int64) ([]*domain.Pool, error) {
	query := `
		SELECT pool_id, chain_id, base_symbol, base_decimals,
		       quote_symbol, quote_decimals, tick_size, lot_size, book_address
		FROM pools
		WHERE chain_id = $1
		ORDER BY pool_id ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("get pools by chain: %w", err)
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}

	return pools, nil
}

// scanPool scans a single pool row. Decimal columns are stored as TEXT
// and parsed on read.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	var (
		p        domain.Pool
		tickSize string
		lotSize  string
	)

	err := row.Scan(
		&p.PoolID,
		&p.ChainID,
		&p.BaseSymbol,
		&p.BaseDecimals,
		&p.QuoteSymbol,
		&p.QuoteDecimals,
		&tickSize,
		&lotSize,
		&p.BookAddress,
	)
	if err != nil {
		return nil, err
	}

	if p.TickSize, err = decimal.NewFromString(tickSize); err != nil {
		return nil, fmt.Errorf("parse tick_size %q: %w", tickSize, err)
	}
	if p.LotSize, err = decimal.NewFromString(lotSize); err != nil {
		return nil, fmt.Errorf("parse lot_size %q: %w", lotSize, err)
	}

	return &p, nil
}
