package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/mockexchange/internal/book"
	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/notify"
)

// Notifier is the notification hook used by services.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderRequest is a simulated market order from the terminal.
type OrderRequest struct {
	Asset  string           `json:"asset"`
	Side   domain.TradeSide `json:"side"`
	Price  float64          `json:"price"`
	Amount float64          `json:"amount"`
}

// Receipt is the outcome of a placed order.
type Receipt struct {
	Trade   domain.Trade   `json:"trade"`
	Balance domain.Balance `json:"balance"`
}

// TradeService places simulated orders against the demo wallet.
type TradeService struct {
	trades   domain.TradeStore
	balances domain.BalanceStore
	bus      domain.SignalBus
	notifier Notifier
	wallet   string
	now      func() time.Time
	logger   *slog.Logger
}

// NewTradeService creates a TradeService. bus and notifier may be nil.
func NewTradeService(
	trades domain.TradeStore,
	balances domain.BalanceStore,
	bus domain.SignalBus,
	notifier Notifier,
	wallet string,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		trades:   trades,
		balances: balances,
		bus:      bus,
		notifier: notifier,
		wallet:   wallet,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

func validateOrder(req OrderRequest) error {
	var problems []string
	if strings.TrimSpace(req.Asset) == "" {
		problems = append(problems, "asset is required")
	}
	if !req.Side.Valid() {
		problems = append(problems, fmt.Sprintf("side must be buy or sell, got %q", req.Side))
	}
	if !(req.Price > 0) || math.IsInf(req.Price, 0) {
		problems = append(problems, "price must be positive")
	}
	if !(req.Amount > 0) || math.IsInf(req.Amount, 0) {
		problems = append(problems, "amount must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("trade_service: %s: %w", strings.Join(problems, "; "), domain.ErrInvalidInput)
	}
	return nil
}

// PlaceOrder settles the order against the wallet and records the trade.
// The balance moves first so an overdraft never produces a trade row; if
// the insert then fails the balance change is reversed.
func (s *TradeService) PlaceOrder(ctx context.Context, req OrderRequest) (Receipt, error) {
	if err := validateOrder(req); err != nil {
		return Receipt{}, err
	}

	trade := domain.Trade{
		ID:        uuid.New(),
		Asset:     strings.TrimSpace(req.Asset),
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Total:     book.LineTotal(req.Price, req.Amount),
		CreatedAt: s.now(),
	}

	bal, err := s.balances.ApplyTrade(ctx, s.wallet, trade.Side, trade.Total)
	if err != nil {
		return Receipt{}, fmt.Errorf("trade_service: apply %s %s: %w", trade.Side, trade.Asset, err)
	}

	if err := s.trades.Insert(ctx, trade); err != nil {
		if _, rerr := s.balances.ApplyTrade(context.WithoutCancel(ctx), s.wallet, opposite(trade.Side), trade.Total); rerr != nil {
			s.logger.ErrorContext(ctx, "balance reversal failed",
				slog.String("trade_id", trade.ID.String()),
				slog.String("error", rerr.Error()),
			)
		}
		return Receipt{}, fmt.Errorf("trade_service: insert trade: %w", err)
	}

	s.logger.InfoContext(ctx, "trade placed",
		slog.String("trade_id", trade.ID.String()),
		slog.String("asset", trade.Asset),
		slog.String("side", string(trade.Side)),
		slog.Float64("total", trade.Total),
	)
	s.announce(ctx, trade)
	return Receipt{Trade: trade, Balance: bal}, nil
}

// announce publishes the trade on the bus and stream and notifies. Failures
// are logged only; the trade already stands.
func (s *TradeService) announce(ctx context.Context, trade domain.Trade) {
	if s.bus != nil {
		s.broadcast(ctx, trade)
	}
	if s.notifier != nil {
		msg := fmt.Sprintf("%s %g %s @ %g (total %.2f USDT)",
			trade.Side, trade.Amount, strings.ToUpper(trade.Asset), trade.Price, trade.Total)
		if err := s.notifier.Notify(ctx, notify.EventTradePlaced, "Order filled", msg); err != nil {
			s.logger.WarnContext(ctx, "trade notification failed", slog.String("error", err.Error()))
		}
	}
}

func (s *TradeService) broadcast(ctx context.Context, trade domain.Trade) {
	evt, err := json.Marshal(map[string]any{
		"type":  "trade",
		"trade": trade,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "encode trade event failed",
			slog.String("trade_id", trade.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelTrades, evt); err != nil {
		s.logger.WarnContext(ctx, "publish trade failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamTrades, evt); err != nil {
		s.logger.WarnContext(ctx, "append trade stream failed", slog.String("error", err.Error()))
	}
}

func opposite(side domain.TradeSide) domain.TradeSide {
	if side == domain.TradeBuy {
		return domain.TradeSell
	}
	return domain.TradeBuy
}

// RecentTrades lists the newest trades, optionally for one asset.
func (s *TradeService) RecentTrades(ctx context.Context, asset string, limit int) ([]domain.Trade, error) {
	if limit > 500 {
		limit = 500
	}
	trades, err := s.trades.ListRecent(ctx, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("trade_service: recent trades: %w", err)
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, nil
}

// Balance returns the demo wallet balance.
func (s *TradeService) Balance(ctx context.Context) (domain.Balance, error) {
	b, err := s.balances.Get(ctx, s.wallet)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Balance{Wallet: s.wallet}, nil
		}
		return domain.Balance{}, fmt.Errorf("trade_service: balance: %w", err)
	}
	return b, nil
}
