package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MOCKEX_* environment variable overrides, and
// returns the final Config. A missing file is not an error; defaults and the
// environment are enough for local runs. The returned Config has NOT been
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		default:
			if undec := md.Undecoded(); len(undec) > 0 {
				keys := make([]string, len(undec))
				for i, k := range undec {
					keys[i] = k.String()
				}
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known MOCKEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "MOCKEX_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Supabase.Host, "MOCKEX_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "MOCKEX_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "MOCKEX_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "MOCKEX_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "MOCKEX_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "MOCKEX_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "MOCKEX_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "MOCKEX_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "MOCKEX_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MOCKEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MOCKEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MOCKEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MOCKEX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MOCKEX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MOCKEX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MOCKEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MOCKEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "MOCKEX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MOCKEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MOCKEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MOCKEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MOCKEX_S3_FORCE_PATH_STYLE")

	// ── CoinGecko ──
	setStr(&cfg.CoinGecko.BaseURL, "MOCKEX_COINGECKO_BASE_URL")
	setStr(&cfg.CoinGecko.APIKey, "MOCKEX_COINGECKO_API_KEY")
	setDuration(&cfg.CoinGecko.Timeout, "MOCKEX_COINGECKO_TIMEOUT")
	setInt(&cfg.CoinGecko.RateLimit, "MOCKEX_COINGECKO_RATE_LIMIT")
	setDuration(&cfg.CoinGecko.RateLimitWindow, "MOCKEX_COINGECKO_RATE_LIMIT_WINDOW")
	setInt(&cfg.CoinGecko.MarketsPerPage, "MOCKEX_COINGECKO_MARKETS_PER_PAGE")
	setDuration(&cfg.CoinGecko.MarketsTTL, "MOCKEX_COINGECKO_MARKETS_TTL")
	setDuration(&cfg.CoinGecko.PriceMaxAge, "MOCKEX_COINGECKO_PRICE_MAX_AGE")

	// ── Book ──
	setInt(&cfg.Book.Rows, "MOCKEX_BOOK_ROWS")
	setInt(&cfg.Book.WorkerGoroutines, "MOCKEX_BOOK_WORKER_GOROUTINES")
	setInt(&cfg.Book.QueueSize, "MOCKEX_BOOK_QUEUE_SIZE")

	// ── Live ──
	setStr(&cfg.Live.InitialAsset, "MOCKEX_LIVE_INITIAL_ASSET")
	setStringSlice(&cfg.Live.Favorites, "MOCKEX_LIVE_FAVORITES")
	setDuration(&cfg.Live.MutationInterval, "MOCKEX_LIVE_MUTATION_INTERVAL")
	setDuration(&cfg.Live.AnimationDuration, "MOCKEX_LIVE_ANIMATION_DURATION")
	setDuration(&cfg.Live.FetchTimeout, "MOCKEX_LIVE_FETCH_TIMEOUT")
	setDuration(&cfg.Live.PriceRefreshInterval, "MOCKEX_LIVE_PRICE_REFRESH_INTERVAL")

	// ── Trading ──
	setStr(&cfg.Trading.Wallet, "MOCKEX_TRADING_WALLET")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MOCKEX_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MOCKEX_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Cron, "MOCKEX_ARCHIVE_CRON")
	setDuration(&cfg.Archive.Retention, "MOCKEX_ARCHIVE_RETENTION")
	setInt(&cfg.Archive.BatchSize, "MOCKEX_ARCHIVE_BATCH_SIZE")
	setBool(&cfg.Archive.DeleteAfterUpload, "MOCKEX_ARCHIVE_DELETE_AFTER_UPLOAD")

	// ── Server ──
	setInt(&cfg.Server.Port, "MOCKEX_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "MOCKEX_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MOCKEX_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MOCKEX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "MOCKEX_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MOCKEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MOCKEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MOCKEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MOCKEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MOCKEX_MODE")
	setStr(&cfg.LogLevel, "MOCKEX_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
