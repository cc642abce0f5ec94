package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1200*time.Millisecond, cfg.Live.MutationInterval.Duration)
	assert.Equal(t, 400*time.Millisecond, cfg.Live.AnimationDuration.Duration)
	assert.Equal(t, 12, cfg.Book.Rows)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Redis.Addr = ""
	cfg.Live.AnimationDuration.Duration = 2 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "trade"`)
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "animation_duration")
}

func TestValidateArchiveNeedsFullMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeSimulator
	cfg.Archive.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: only runs in full mode")
}

func TestSimulatorSkipsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeSimulator
	cfg.Supabase.Host = ""
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.NeedsPostgres())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "Server"

[live]
mutation_interval = "2s"

[coingecko]
rate_limit = 10
`), 0o600))

	t.Setenv("MOCKEX_REDIS_ADDR", "redis:6380")
	t.Setenv("MOCKEX_LIVE_FAVORITES", "solana, ,cardano")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeServer, cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.Live.MutationInterval.Duration)
	assert.Equal(t, 10, cfg.CoinGecko.RateLimit)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"solana", "cardano"}, cfg.Live.Favorites)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[wallet]\nprivate_key = \"x\"\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, ModeFull, cfg.Mode)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "pw"
	cfg.CoinGecko.APIKey = "cg"
	cfg.Server.APIKey = ""

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.CoinGecko.APIKey)
	assert.Empty(t, out.Server.APIKey)
	assert.Equal(t, "pw", cfg.Supabase.Password)

	out.Live.Favorites[0] = "changed"
	assert.Equal(t, "bitcoin", cfg.Live.Favorites[0])
}
