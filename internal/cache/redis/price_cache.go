package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PriceCache implements domain.PriceCache. Each asset's latest upstream
// payload lives in the hash "price:{assetID}" with fields "raw" and "ts"
// (unix nanoseconds); the hash expires after ttl.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(assetID string) string {
	return "price:" + assetID
}

// SetRaw stores the payload and its fetch time.
func (pc *PriceCache) SetRaw(ctx context.Context, assetID string, raw []byte, ts time.Time) error {
	key := priceKey(assetID)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"raw": raw,
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetRaw returns the cached payload and when it was fetched, or
// domain.ErrNotFound.
func (pc *PriceCache) GetRaw(ctx context.Context, assetID string) ([]byte, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(assetID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	return decodePriceHash(assetID, vals)
}

func decodePriceHash(assetID string, vals map[string]string) ([]byte, time.Time, error) {
	raw, ok := vals["raw"]
	if !ok || raw == "" {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", assetID, err)
	}
	return []byte(raw), time.Unix(0, tsNano).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
