package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/mockexchange/internal/blob/s3"
	"github.com/alanyoungcy/mockexchange/internal/cache/redis"
	"github.com/alanyoungcy/mockexchange/internal/config"
	"github.com/alanyoungcy/mockexchange/internal/domain"
	"github.com/alanyoungcy/mockexchange/internal/notify"
	"github.com/alanyoungcy/mockexchange/internal/platform/coingecko"
	"github.com/alanyoungcy/mockexchange/internal/server/handler"
	"github.com/alanyoungcy/mockexchange/internal/store/postgres"
)

// Dependencies bundles the infrastructure the run modes build on. It is
// constructed by Wire and torn down by the returned cleanup function. Fields
// for infrastructure the mode does not use are nil.
type Dependencies struct {
	// Stores
	TradeStore    domain.TradeStore
	BalanceStore  domain.BalanceStore
	TradeListener domain.TradeEventSource

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.BookCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Upstream
	CoinGecko *coingecko.Client

	// Notifications
	Notifier *notify.Notifier

	// Health probes for /api/health.
	Checks []handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (only for modes that serve trades) ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.BalanceStore = postgres.NewBalanceStore(pool)
		deps.TradeListener = postgres.NewTradeListener(pool, logger)
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Ping: pgClient.Ping})
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// Cached prices outlive their freshness window so a failing upstream
	// still has something recent to fall back on.
	deps.PriceCache = redis.NewPriceCache(redisClient, 10*cfg.CoinGecko.PriceMaxAge.Duration)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Ping: redisClient.Ping})

	// --- S3 (only when archiving) ---
	if cfg.Archive.Enabled && deps.TradeStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
			BatchSize:         cfg.Archive.BatchSize,
			DeleteAfterUpload: cfg.Archive.DeleteAfterUpload,
		}, writer, reader, deps.TradeStore, logger)
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Ping: s3Client.Health})
	}

	// --- CoinGecko ---
	deps.CoinGecko = coingecko.NewClient(coingecko.Config{
		BaseURL:         cfg.CoinGecko.BaseURL,
		APIKey:          cfg.CoinGecko.APIKey,
		Timeout:         cfg.CoinGecko.Timeout.Duration,
		RateLimit:       cfg.CoinGecko.RateLimit,
		RateLimitWindow: cfg.CoinGecko.RateLimitWindow.Duration,
	}, deps.RateLimiter)

	// --- Notifications ---
	senders := []notify.Sender{notify.NewBusSender(deps.SignalBus)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
