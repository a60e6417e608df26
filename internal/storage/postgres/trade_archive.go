package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"clob-market-engine/internal/domain"
	"clob-market-engine/internal/storage"
)

// TradeArchive implements storage.TradeArchive using PostgreSQL.
type TradeArchive struct {
	pool *Pool
}

// NewTradeArchive creates a new TradeArchive.
func NewTradeArchive(pool *Pool) *TradeArchive {
	return &TradeArchive{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeArchive = (*TradeArchive)(nil)

const insertTradeQuery = `
	INSERT INTO trade_archive (
		pool_id, block, block_index, price, volume, side, timestamp
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Insert adds a trade. Returns ErrDuplicateKey if (pool_id, block, index) exists.
func (s *TradeArchive) Insert(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.PoolID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeQuery,
		t.PoolID,
		t.Seq.Block,
		t.Seq.Index,
		t.Price.String(),
		t.Volume.String(),
		string(t.Side),
		t.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeArchive) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		if t == nil || t.PoolID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, insertTradeQuery,
			t.PoolID,
			t.Seq.Block,
			t.Seq.Index,
			t.Price.String(),
			t.Volume.String(),
			string(t.Side),
			t.Timestamp,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByPoolTimeRange retrieves trades for a pool with timestamp in
// [start, end] (inclusive), ordered by (timestamp, block, index) ASC.
func (s *TradeArchive) GetByPoolTimeRange(ctx context.Context, poolID string, start, end int64) ([]*domain.Trade, error) {
	query := `
		SELECT pool_id, block, block_index, price, volume, side, timestamp
		FROM trade_archive
		WHERE pool_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, block ASC, block_index ASC
	`

	rows, err := s.pool.Query(ctx, query, poolID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trades by pool/time range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var (
			t      domain.Trade
			price  string
			volume string
			side   string
		)

		err := rows.Scan(
			&t.PoolID,
			&t.Seq.Block,
			&t.Seq.Index,
			&price,
			&volume,
			&side,
			&t.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if t.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume %q: %w", volume, err)
		}
		t.Side = domain.Side(side)

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
