// Package config defines the top-level configuration for the mock exchange
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MOCKEX_* environment variables.
type Config struct {
	Supabase  SupabaseConfig  `toml:"supabase"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Book      BookConfig      `toml:"book"`
	Live      LiveConfig      `toml:"live"`
	Trading   TradingConfig   `toml:"trading"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CoinGeckoConfig holds the market data API settings. RateLimit is shared
// by every replica through Redis.
type CoinGeckoConfig struct {
	BaseURL         string   `toml:"base_url"`
	APIKey          string   `toml:"api_key"`
	Timeout         duration `toml:"timeout"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	MarketsPerPage  int      `toml:"markets_per_page"`
	MarketsTTL      duration `toml:"markets_ttl"`
	PriceMaxAge     duration `toml:"price_max_age"`
}

// BookConfig sizes the synthetic book and its worker.
type BookConfig struct {
	Rows             int `toml:"rows"`
	WorkerGoroutines int `toml:"worker_goroutines"`
	QueueSize        int `toml:"queue_size"`
}

// LiveConfig holds the live refresh controller timings.
type LiveConfig struct {
	InitialAsset         string   `toml:"initial_asset"`
	Favorites            []string `toml:"favorites"`
	MutationInterval     duration `toml:"mutation_interval"`
	AnimationDuration    duration `toml:"animation_duration"`
	FetchTimeout         duration `toml:"fetch_timeout"`
	PriceRefreshInterval duration `toml:"price_refresh_interval"`
}

// TradingConfig holds the demo account settings.
type TradingConfig struct {
	Wallet string `toml:"wallet"`
}

// ArchiveConfig controls moving old trades to object storage.
type ArchiveConfig struct {
	Enabled           bool     `toml:"enabled"`
	Interval          duration `toml:"interval"`
	// Cron is a 5-field schedule ("0 3 * * *"). When set it replaces Interval.
	Cron              string   `toml:"cron"`
	Retention         duration `toml:"retention"`
	BatchSize         int      `toml:"batch_size"`
	DeleteAfterUpload bool     `toml:"delete_after_upload"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "1.2s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// event names are delivered; empty means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mockexchange-archive",
			ForcePathStyle: true,
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL:         "https://api.coingecko.com/api/v3",
			Timeout:         duration{10 * time.Second},
			RateLimit:       25,
			RateLimitWindow: duration{time.Minute},
			MarketsPerPage:  20,
			MarketsTTL:      duration{30 * time.Second},
			PriceMaxAge:     duration{5 * time.Second},
		},
		Book: BookConfig{
			Rows:             12,
			WorkerGoroutines: 1,
			QueueSize:        16,
		},
		Live: LiveConfig{
			InitialAsset:         "bitcoin",
			Favorites:            []string{"bitcoin", "ethereum"},
			MutationInterval:     duration{1200 * time.Millisecond},
			AnimationDuration:    duration{400 * time.Millisecond},
			FetchTimeout:         duration{10 * time.Second},
			PriceRefreshInterval: duration{30 * time.Second},
		},
		Trading: TradingConfig{
			Wallet: "demo",
		},
		Archive: ArchiveConfig{
			Enabled:           false,
			Interval:          duration{24 * time.Hour},
			Retention:         duration{30 * 24 * time.Hour},
			BatchSize:         5000,
			DeleteAfterUpload: true,
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"fetch_failed", "decode_failed", "trade_placed", "archive_done"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Run modes.
const (
	ModeFull      = "full"
	ModeServer    = "server"
	ModeSimulator = "simulator"
)

var validModes = map[string]bool{
	ModeFull:      true,
	ModeServer:    true,
	ModeSimulator: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether the mode serves trades.
func (c *Config) NeedsPostgres() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeFull || m == ModeServer
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, simulator)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.NeedsPostgres() {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
		if strings.TrimSpace(c.Trading.Wallet) == "" {
			errs = append(errs, "trading: wallet must not be empty")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.CoinGecko.BaseURL == "" {
		errs = append(errs, "coingecko: base_url must not be empty")
	}
	if c.CoinGecko.RateLimit < 0 {
		errs = append(errs, "coingecko: rate_limit must be >= 0")
	}
	if c.CoinGecko.RateLimit > 0 && c.CoinGecko.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "coingecko: rate_limit_window must be > 0 when rate_limit is set")
	}

	if c.Book.Rows < 1 {
		errs = append(errs, "book: rows must be >= 1")
	}
	if c.Book.WorkerGoroutines < 1 {
		errs = append(errs, "book: worker_goroutines must be >= 1")
	}

	if c.Mode != ModeServer {
		if c.Live.InitialAsset == "" {
			errs = append(errs, "live: initial_asset must not be empty")
		}
		if c.Live.MutationInterval.Duration <= 0 {
			errs = append(errs, "live: mutation_interval must be > 0")
		}
		if c.Live.AnimationDuration.Duration <= 0 || c.Live.AnimationDuration.Duration >= c.Live.MutationInterval.Duration {
			errs = append(errs, "live: animation_duration must be > 0 and shorter than mutation_interval")
		}
		if c.Live.FetchTimeout.Duration <= 0 {
			errs = append(errs, "live: fetch_timeout must be > 0")
		}
		if c.Live.PriceRefreshInterval.Duration < 0 {
			errs = append(errs, "live: price_refresh_interval must be >= 0")
		}
	}

	if c.Archive.Enabled {
		if c.Mode != ModeFull {
			errs = append(errs, "archive: only runs in full mode")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Cron == "" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
	}

	if c.Mode != ModeSimulator {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
