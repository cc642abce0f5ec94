package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradeSide is the direction of a simulated trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Valid reports whether s is buy or sell.
func (s TradeSide) Valid() bool {
	return s == TradeBuy || s == TradeSell
}

// Trade is a simulated fill persisted in trade_history.
type Trade struct {
	ID        uuid.UUID `json:"id"`
	Asset     string    `json:"asset"`
	Side      TradeSide `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeEvent is emitted when a trade row is persisted. The book controller
// only uses it as a refresh trigger.
type TradeEvent struct {
	TradeID uuid.UUID `json:"id"`
	Asset   string    `json:"asset"`
	At      time.Time `json:"created_at"`
}

// Balance is the single wallet row of the demo account.
type Balance struct {
	Wallet    string    `json:"wallet"`
	USDT      float64   `json:"usdt"`
	UpdatedAt time.Time `json:"updated_at"`
}
