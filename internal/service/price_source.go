package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// RawPriceFetcher fetches the upstream simple price payload.
type RawPriceFetcher interface {
	SimplePriceRaw(ctx context.Context, ids ...string) ([]byte, error)
}

// PriceSourceConfig tunes caching and coordination.
type PriceSourceConfig struct {
	// MaxAge is how long a cached payload is served without refetching.
	MaxAge time.Duration
	// LockTTL bounds how long one replica may hold the fetch lock.
	LockTTL time.Duration
	// PeerWait is how long to wait for another replica's fetch to land in
	// the cache before fetching anyway.
	PeerWait time.Duration
}

// PriceSource serves raw price payloads with a Redis cache in front of the
// upstream API. Concurrent callers for one asset share a single fetch, and
// a Redis lock keeps replicas from polling upstream for the same asset at
// once.
type PriceSource struct {
	cfg     PriceSourceConfig
	fetcher RawPriceFetcher
	cache   domain.PriceCache
	locks   domain.LockManager
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

// NewPriceSource creates a PriceSource. cache and locks may be nil.
func NewPriceSource(cfg PriceSourceConfig, fetcher RawPriceFetcher, cache domain.PriceCache, locks domain.LockManager, logger *slog.Logger) *PriceSource {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.PeerWait <= 0 {
		cfg.PeerWait = 2 * time.Second
	}
	return &PriceSource{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   cache,
		locks:   locks,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With(slog.String("component", "price_source")),
	}
}

// FetchPriceRaw returns the simple price payload for assetID.
func (p *PriceSource) FetchPriceRaw(ctx context.Context, assetID string) ([]byte, error) {
	if assetID == "" {
		return nil, fmt.Errorf("price_source: empty asset id: %w", domain.ErrInvalidInput)
	}
	// The shared fetch outlives any single caller's cancellation.
	ch := p.group.DoChan(assetID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.LockTTL)
		defer cancel()
		return p.fetch(fctx, assetID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("price_source: %s: %w", assetID, ctx.Err())
	}
}

func (p *PriceSource) fetch(ctx context.Context, assetID string) ([]byte, error) {
	if raw, ok := p.fresh(ctx, assetID); ok {
		return raw, nil
	}

	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, "price:"+assetID, p.cfg.LockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			if raw, ok := p.waitForPeer(ctx, assetID); ok {
				return raw, nil
			}
		default:
			p.logger.WarnContext(ctx, "price lock unavailable, fetching directly",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}

	raw, err := p.fetcher.SimplePriceRaw(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("price_source: fetch %s: %w", assetID, err)
	}
	if p.cache != nil {
		if err := p.cache.SetRaw(ctx, assetID, raw, p.now()); err != nil {
			p.logger.WarnContext(ctx, "price cache write failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
	}
	return raw, nil
}

// fresh returns the cached payload when it is younger than MaxAge.
func (p *PriceSource) fresh(ctx context.Context, assetID string) ([]byte, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, ts, err := p.cache.GetRaw(ctx, assetID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "price cache read failed",
				slog.String("asset", assetID),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	if p.now().Sub(ts) > p.cfg.MaxAge {
		return nil, false
	}
	return raw, true
}

func (p *PriceSource) waitForPeer(ctx context.Context, assetID string) ([]byte, bool) {
	deadline := p.now().Add(p.cfg.PeerWait)
	poll := p.cfg.PeerWait / 10
	for p.now().Before(deadline) {
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		if raw, ok := p.fresh(ctx, assetID); ok {
			return raw, true
		}
	}
	return nil, false
}
