package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TradeStore persists simulated trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) error
	ListRecent(ctx context.Context, asset string, limit int) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// BalanceStore persists the demo wallet balance.
type BalanceStore interface {
	Get(ctx context.Context, wallet string) (Balance, error)
	Set(ctx context.Context, wallet string, usdt float64) error
	// ApplyTrade debits (buy) or credits (sell) total in one round trip via
	// the apply_trade stored procedure and returns the new balance.
	ApplyTrade(ctx context.Context, wallet string, side TradeSide, total float64) (Balance, error)
}

// TradeEventSource pushes a TradeEvent each time a trade row is inserted.
// The returned channel is closed when ctx is cancelled.
type TradeEventSource interface {
	Subscribe(ctx context.Context) (<-chan TradeEvent, error)
}
