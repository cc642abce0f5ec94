package domain

import (
	"context"
	"time"
)

// PriceCache stores raw upstream price payloads per asset.
type PriceCache interface {
	SetRaw(ctx context.Context, assetID string, raw []byte, ts time.Time) error
	GetRaw(ctx context.Context, assetID string) ([]byte, time.Time, error)
}

// BookCache stores the latest published book view per asset.
type BookCache interface {
	SetView(ctx context.Context, view BookView) error
	GetView(ctx context.Context, assetID string) (BookView, error)
}

// MarketCache stores the markets listing.
type MarketCache interface {
	SetMarkets(ctx context.Context, markets []MarketSummary, ttl time.Duration) error
	GetMarkets(ctx context.Context) ([]MarketSummary, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelBookPrefix = "ch:book:"
	ChannelNotify     = "ch:notify"
	ChannelTrades     = "trades"
	ChannelSelect     = "ch:select"
	StreamTrades      = "stream:trades"
)

// BookChannel returns the pub/sub channel carrying book views for assetID.
func BookChannel(assetID string) string {
	return ChannelBookPrefix + assetID
}
