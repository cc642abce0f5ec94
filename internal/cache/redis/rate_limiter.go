package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWait bounds how often Wait retries when the window is nearly free.
const minWait = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter as a sliding window over a Redis
// sorted set, evaluated atomically in Lua. It is shared by every replica, so
// the upstream price API budget and per-IP HTTP limits hold cluster-wide.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// take counts one request against key. When it does not fit, retry is how
// long until the oldest request leaves the window.
func (rl *RateLimiter) take(ctx context.Context, key string, limit int, window time.Duration) (ok bool, retry time.Duration, err error) {
	result, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rateLimitKey(key)},
		rl.now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(result) < 3 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, time.Duration(result[2]) * time.Microsecond, nil
}

// Allow reports whether one more request fits within limit per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	ok, _, err := rl.take(ctx, key, limit, window)
	return ok, err
}

// Wait blocks until a slot opens or ctx is done. It sleeps until the oldest
// request expires rather than polling.
func (rl *RateLimiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	if limit <= 0 {
		return nil
	}
	for {
		ok, retry, err := rl.take(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(retryDelay(retry, window))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// retryDelay clamps the script's retry hint to [minWait, window].
func retryDelay(retry, window time.Duration) time.Duration {
	if retry < minWait {
		return minWait
	}
	if window > minWait && retry > window {
		return window
	}
	return retry
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
