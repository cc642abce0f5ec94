package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// TradeInsertChannel is the NOTIFY channel the trade_history trigger uses.
const TradeInsertChannel = "trade_history_insert"

const (
	minListenBackoff = 500 * time.Millisecond
	maxListenBackoff = 30 * time.Second
)

// TradeListener implements domain.TradeEventSource with LISTEN on a
// dedicated pooled connection, reconnecting with backoff when it drops.
type TradeListener struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTradeListener creates a TradeListener.
func NewTradeListener(pool *pgxpool.Pool, logger *slog.Logger) *TradeListener {
	return &TradeListener{
		pool:   pool,
		logger: logger.With(slog.String("component", "trade_listener")),
	}
}

// Subscribe starts listening. The first LISTEN happens before Subscribe
// returns so inserts after that point are not missed.
func (l *TradeListener) Subscribe(ctx context.Context) (<-chan domain.TradeEvent, error) {
	conn, err := l.listen(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.TradeEvent, 64)
	go func() {
		defer close(out)
		backoff := minListenBackoff
		for {
			if conn != nil {
				err := l.pump(ctx, conn, out)
				conn.Release()
				conn = nil
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("trade listener dropped", slog.String("error", err.Error()))
				backoff = minListenBackoff
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if conn, err = l.listen(ctx); err != nil {
				l.logger.Warn("trade listener reconnect failed",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", backoff),
				)
				backoff = min(backoff*2, maxListenBackoff)
			}
		}
	}()
	return out, nil
}

func (l *TradeListener) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+TradeInsertChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres: listen %s: %w", TradeInsertChannel, err)
	}
	return conn, nil
}

// pump forwards notifications until the connection fails or ctx ends.
func (l *TradeListener) pump(ctx context.Context, conn *pgxpool.Conn, out chan<- domain.TradeEvent) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := ParseTradeEvent([]byte(n.Payload))
		if err != nil {
			l.logger.Warn("bad trade notification",
				slog.String("payload", n.Payload),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ParseTradeEvent decodes a trade_history_insert payload.
func ParseTradeEvent(payload []byte) (domain.TradeEvent, error) {
	var ev domain.TradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.TradeEvent{}, fmt.Errorf("postgres: decode trade event: %w: %v", domain.ErrDecode, err)
	}
	if ev.Asset == "" {
		return domain.TradeEvent{}, fmt.Errorf("postgres: trade event without asset: %w", domain.ErrDecode)
	}
	return ev, nil
}

// Compile-time interface check.
var _ domain.TradeEventSource = (*TradeListener)(nil)
