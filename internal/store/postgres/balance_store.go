package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// SQLSTATE raised by apply_trade when a buy would overdraw the wallet.
const insufficientBalanceCode = "MX001"

// BalanceStore implements domain.BalanceStore over wallet_balance.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Get returns the wallet's balance, or domain.ErrNotFound.
func (s *BalanceStore) Get(ctx context.Context, wallet string) (domain.Balance, error) {
	var b domain.Balance
	err := s.pool.QueryRow(ctx,
		`SELECT wallet, usdt, updated_at FROM wallet_balance WHERE wallet = $1`, wallet,
	).Scan(&b.Wallet, &b.USDT, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balance{}, fmt.Errorf("postgres: balance %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.Balance{}, fmt.Errorf("postgres: get balance %s: %w", wallet, err)
	}
	return b, nil
}

// Set overwrites the balance, creating the wallet row if needed.
func (s *BalanceStore) Set(ctx context.Context, wallet string, usdt float64) error {
	if usdt < 0 {
		return fmt.Errorf("postgres: set balance %s: negative amount: %w", wallet, domain.ErrInvalidInput)
	}
	const query = `
		INSERT INTO wallet_balance (wallet, usdt, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (wallet) DO UPDATE SET usdt = EXCLUDED.usdt, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, wallet, usdt); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", wallet, err)
	}
	return nil
}

// ApplyTrade runs the apply_trade procedure.
func (s *BalanceStore) ApplyTrade(ctx context.Context, wallet string, side domain.TradeSide, total float64) (domain.Balance, error) {
	var b domain.Balance
	err := s.pool.QueryRow(ctx,
		`SELECT wallet, usdt, updated_at FROM apply_trade($1, $2, $3)`,
		wallet, string(side), total,
	).Scan(&b.Wallet, &b.USDT, &b.UpdatedAt)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: apply trade %s: %w", wallet, mapProcError(err))
	}
	return b, nil
}

func mapProcError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case insufficientBalanceCode:
			return domain.ErrInsufficientBalance
		case "22023":
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrInvalidInput)
		}
	}
	return err
}

// Compile-time interface check.
var _ domain.BalanceStore = (*BalanceStore)(nil)
