package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// TradeStore implements domain.TradeStore over trade_history.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, asset, side, price, amount, total, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.Asset, &side, &t.Price, &t.Amount, &t.Total, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes one trade. The insert trigger fans it out over NOTIFY.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trade_history (id, asset, side, price, amount, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, query,
		t.ID, t.Asset, string(t.Side), t.Price, t.Amount, t.Total, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecent returns the newest trades, optionally for one asset.
func (s *TradeStore) ListRecent(ctx context.Context, asset string, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if asset == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+tradeSelectCols+` FROM trade_history ORDER BY created_at DESC LIMIT $1`,
			limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+tradeSelectCols+` FROM trade_history WHERE asset = $1 ORDER BY created_at DESC LIMIT $2`,
			asset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns up to limit trades created before the cutoff, oldest
// first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trade_history WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// DeleteByIDs removes archived trades.
func (s *TradeStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_history WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
