package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModePaper, cfg.App.Mode)
	assert.Equal(t, 20, cfg.Signal.MinTicksForSignals)
	assert.Equal(t, 60, cfg.Ramp.MinTicksForFullAlloc)
	assert.Equal(t, 3, cfg.Hysteresis.ConfirmTicks)
	assert.Equal(t, 0.90, cfg.Sellability.SellAmountFraction)
	assert.Equal(t, 2.0, cfg.Sellability.SellSlippageMultiplier)
	assert.Equal(t, 10.0, cfg.Watchdog.StaleMinutes)
	assert.Equal(t, 3, cfg.Watchdog.MaxBuyAttempts)
	assert.Equal(t, 5.0, cfg.Watchdog.BaseBackoffMinutes)
	assert.Equal(t, time.Minute, cfg.Schedule.TickInterval)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "tradecore.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ModeLive, cfg.App.Mode)
	assert.Equal(t, "127.0.0.1:9191", cfg.App.HTTPAddr)
	require.Len(t, cfg.App.Universe, 2)
	assert.Equal(t, "BONK", cfg.App.Universe[1].Symbol)
	assert.Equal(t, "debug", cfg.App.Log.Level)

	assert.Equal(t, 1.2, cfg.Signal.TrendThreshold)
	assert.Equal(t, 0.25, cfg.Signal.MomentumFactor, "unset keys keep defaults")
	assert.Equal(t, 90, cfg.Ramp.MinTicksForFullAlloc)
	assert.True(t, cfg.Ramp.HardCapBeforeFull)
	assert.True(t, cfg.Ramp.AllocationRampEnabled)
	assert.Equal(t, 4, cfg.Hysteresis.ConfirmTicks)
	assert.Equal(t, 0.9, cfg.Sellability.MinRoundTripRatio)
	assert.Equal(t, 0.90, cfg.Sellability.SellAmountFraction)
	assert.Equal(t, 150, cfg.Sellability.SlippageBps)
	assert.Equal(t, 15.0, cfg.Watchdog.StaleMinutes)
	assert.Equal(t, 5*time.Second, cfg.Jupiter.Timeout)
	assert.Equal(t, time.Minute, cfg.Jupiter.BreakerCooldown)
	assert.Equal(t, 30*time.Second, cfg.Schedule.TickInterval)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().App, cfg.App)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://bot@db/queue")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("JUPITER_BASE_URL", "http://jup.local")
	t.Setenv("TRADECORE_LOG_LEVEL", "warn")
	t.Setenv("TRADECORE_MODE", "LIVE")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "postgres://bot@db/queue", cfg.Database.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "http://jup.local", cfg.Jupiter.BaseURL)
	assert.Equal(t, "warn", cfg.App.Log.Level)
	assert.Equal(t, ModeLive, cfg.App.Mode)
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.App.Mode = "sim" }, "app.mode"},
		{"bad level", func(c *Config) { c.App.Log.Level = "chatty" }, "invalid log level"},
		{"empty mint", func(c *Config) { c.App.Universe = []Asset{{Symbol: "X"}} }, "mint is required"},
		{"duplicate mint", func(c *Config) { c.App.Universe = []Asset{{Mint: "M"}, {Mint: "M"}} }, "duplicate mint"},
		{"zero tick", func(c *Config) { c.Schedule.TickInterval = 0 }, "tick_interval"},
		{"zero sweep", func(c *Config) { c.Schedule.SweepInterval = 0 }, "sweep_interval"},
		{"no native mint", func(c *Config) { c.Sellability.NativeMint = "" }, "native_mint"},
		{"no probe", func(c *Config) { c.Sellability.ProbeLamports = 0 }, "probe_lamports"},
		{"db without dsn", func(c *Config) { c.Database.Enabled = true }, "database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
