package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/market"
	"github.com/alanyoungcy/mockexchange/internal/worker"
)

// MarketFetcher is the upstream markets and candles API.
type MarketFetcher interface {
	Markets(ctx context.Context, perPage int) ([]domain.MarketSummary, error)
	OHLCRaw(ctx context.Context, id string, days int) ([]byte, error)
}

// PriceFeed returns raw price payloads.
type PriceFeed interface {
	FetchPriceRaw(ctx context.Context, assetID string) ([]byte, error)
}

// Decoder runs a request on the book worker and waits for the answer.
type Decoder interface {
	Call(ctx context.Context, msg worker.Message) (worker.Message, error)
}

// MarketServiceConfig tunes the markets listing.
type MarketServiceConfig struct {
	PerPage     int
	CacheTTL    time.Duration
	DefaultDays int
}

// MarketService serves the markets listing, price quotes and candles.
type MarketService struct {
	cfg       MarketServiceConfig
	fetcher   MarketFetcher
	cache     domain.MarketCache
	prices    PriceFeed
	decoder   Decoder
	selection *market.Selection
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	cfg MarketServiceConfig,
	fetcher MarketFetcher,
	cache domain.MarketCache,
	prices PriceFeed,
	decoder Decoder,
	selection *market.Selection,
	logger *slog.Logger,
) *MarketService {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 20
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 90
	}
	return &MarketService{
		cfg:       cfg,
		fetcher:   fetcher,
		cache:     cache,
		prices:    prices,
		decoder:   decoder,
		selection: selection,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// Markets returns the top markets with favorites marked, from cache when
// possible.
func (s *MarketService) Markets(ctx context.Context) ([]domain.MarketSummary, error) {
	if s.cache != nil {
		markets, err := s.cache.GetMarkets(ctx)
		if err == nil {
			return s.selection.MarkFavorites(markets), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "markets cache read failed", slog.String("error", err.Error()))
		}
	}
	markets, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return s.selection.MarkFavorites(markets), nil
}

func (s *MarketService) refresh(ctx context.Context) ([]domain.MarketSummary, error) {
	markets, err := s.fetcher.Markets(ctx, s.cfg.PerPage)
	if err != nil {
		return nil, fmt.Errorf("market_service: markets: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetMarkets(ctx, markets, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "markets cache write failed", slog.String("error", err.Error()))
		}
	}
	return markets, nil
}

// RunRefresh keeps the markets cache warm until ctx is done.
func (s *MarketService) RunRefresh(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CacheTTL)
	defer ticker.Stop()
	for {
		if _, err := s.refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "markets refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PriceRaw returns the upstream price payload for coin, unmodified.
func (s *MarketService) PriceRaw(ctx context.Context, coin string) ([]byte, error) {
	coin = normaliseCoin(coin)
	raw, err := s.prices.FetchPriceRaw(ctx, coin)
	if err != nil {
		return nil, fmt.Errorf("market_service: price %s: %w", coin, err)
	}
	return raw, nil
}

// Candles returns OHLC bars for coin. Decoding runs on the book worker.
func (s *MarketService) Candles(ctx context.Context, coin string, days int) ([]domain.Candle, error) {
	coin = normaliseCoin(coin)
	if days <= 0 {
		days = s.cfg.DefaultDays
	}
	raw, err := s.fetcher.OHLCRaw(ctx, coin, days)
	if err != nil {
		return nil, fmt.Errorf("market_service: candles %s: %w", coin, err)
	}
	resp, err := s.decoder.Call(ctx, worker.NewProcessCandles("", coin, raw))
	if err != nil {
		return nil, fmt.Errorf("market_service: candles %s: %w", coin, err)
	}
	out, err := worker.DecodeCandlesReady(resp)
	if err != nil {
		return nil, fmt.Errorf("market_service: candles %s: %w", coin, err)
	}
	return out.Candles, nil
}

func normaliseCoin(coin string) string {
	coin = strings.ToLower(strings.TrimSpace(coin))
	if coin == "" {
		return market.DefaultAsset.ID
	}
	return coin
}
