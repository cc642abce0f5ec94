package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/redis/go-redis/v9"
)

const marketsKey = "markets:top"

// MarketCache implements domain.MarketCache. The whole listing is one JSON
// value so a refresh replaces it atomically.
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

// SetMarkets stores the listing for ttl.
func (mc *MarketCache) SetMarkets(ctx context.Context, markets []domain.MarketSummary, ttl time.Duration) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return fmt.Errorf("redis: marshal markets: %w", err)
	}
	if err := mc.rdb.Set(ctx, marketsKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set markets: %w", err)
	}
	return nil
}

// GetMarkets returns the cached listing, or domain.ErrNotFound once it
// has expired.
func (mc *MarketCache) GetMarkets(ctx context.Context) ([]domain.MarketSummary, error) {
	data, err := mc.rdb.Get(ctx, marketsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get markets: %w", err)
	}
	var markets []domain.MarketSummary
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, fmt.Errorf("redis: unmarshal markets: %w", err)
	}
	return markets, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
