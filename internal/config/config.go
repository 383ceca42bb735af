// Package config loads the tradecore YAML configuration and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradecore/internal/data/bars"
	"github.com/sawpanic/tradecore/internal/domain/ramp"
	"github.com/sawpanic/tradecore/internal/domain/signal"
	"github.com/sawpanic/tradecore/internal/gates"
	"github.com/sawpanic/tradecore/internal/infrastructure/db"
	tlog "github.com/sawpanic/tradecore/internal/log"
	"github.com/sawpanic/tradecore/internal/providers/jupiter"
	"github.com/sawpanic/tradecore/internal/sellability"
	"github.com/sawpanic/tradecore/internal/watchdog"
)

// Run modes
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config is the complete process configuration
type Config struct {
	App         AppConfig              `yaml:"app"`
	Signal      signal.Config          `yaml:"signal"`
	Ramp        ramp.Settings          `yaml:"ramp"`
	Hysteresis  gates.HysteresisConfig `yaml:"hysteresis"`
	Sellability SellabilityConfig      `yaml:"sellability"`
	Watchdog    watchdog.Config        `yaml:"watchdog"`
	Jupiter     jupiter.Config         `yaml:"jupiter"`
	Database    db.Config              `yaml:"database"`
	Redis       bars.Config            `yaml:"redis"`
	Schedule    ScheduleConfig         `yaml:"schedule"`
}

// Asset is one tracked token
type Asset struct {
	Mint   string `yaml:"mint"`
	Symbol string `yaml:"symbol"`
}

// AppConfig holds process-level settings
type AppConfig struct {
	Mode         string       `yaml:"mode"`          // Default: paper
	HTTPAddr     string       `yaml:"http_addr"`     // Default: :9090; empty disables diagnostics
	PortfolioUSD float64      `yaml:"portfolio_usd"` // Default: 1000
	MaxGrossPct  float64      `yaml:"max_gross_pct"` // Default: 1.0
	Universe     []Asset      `yaml:"universe"`
	Log          tlog.Options `yaml:"log"`
}

// SellabilityConfig adds the probe sizing used by the engine
type SellabilityConfig struct {
	sellability.Config `yaml:",inline"`
	SlippageBps        int   `yaml:"slippage_bps"`   // Default: 100
	ProbeLamports      int64 `yaml:"probe_lamports"` // Default: 50000000 (0.05 SOL)
}

// ScheduleConfig drives the two periodic loops
type ScheduleConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`  // Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval"` // Default: 1m
	BarsLimit     int           `yaml:"bars_limit"`     // Default: 120
}

// Default returns a configuration with every threshold filled in
func Default() *Config {
	return &Config{
		App: AppConfig{
			Mode:         ModePaper,
			HTTPAddr:     ":9090",
			PortfolioUSD: 1000,
			MaxGrossPct:  1.0,
			Log:          tlog.Options{Level: "info"},
		},
		Signal:     signal.DefaultConfig(),
		Ramp:       ramp.DefaultSettings(),
		Hysteresis: gates.DefaultHysteresisConfig(),
		Sellability: SellabilityConfig{
			Config:        sellability.DefaultConfig(),
			SlippageBps:   100,
			ProbeLamports: 50_000_000,
		},
		Watchdog: watchdog.DefaultConfig(),
		Jupiter:  jupiter.DefaultConfig(),
		Database: db.DefaultConfig(),
		Redis:    bars.DefaultConfig(),
		Schedule: ScheduleConfig{
			TickInterval:  time.Minute,
			SweepInterval: time.Minute,
			BarsLimit:     120,
		},
	}
}

// Load overlays the YAML file at path (when present) and the environment onto the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults plus environment
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays deployment settings from the environment
func (c *Config) ApplyEnvOverrides() {
	c.Database.ApplyEnvOverrides()

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("JUPITER_BASE_URL"); v != "" {
		c.Jupiter.BaseURL = v
	}
	if v := os.Getenv("JUPITER_API_KEY"); v != "" {
		c.Jupiter.APIKey = v
	}
	if v := os.Getenv("TRADECORE_LOG_LEVEL"); v != "" {
		c.App.Log.Level = v
	}
	if v := os.Getenv("TRADECORE_MODE"); v != "" {
		c.App.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("TRADECORE_HTTP_ADDR"); v != "" {
		c.App.HTTPAddr = v
	}
}

// Validate performs structural checks. Threshold values are trusted as configured.
func (c *Config) Validate() error {
	if c.App.Mode != ModePaper && c.App.Mode != ModeLive {
		return fmt.Errorf("app.mode must be %q or %q, got %q", ModePaper, ModeLive, c.App.Mode)
	}
	if _, err := tlog.ParseLevel(c.App.Log.Level); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.App.Universe))
	for i, a := range c.App.Universe {
		if a.Mint == "" {
			return fmt.Errorf("app.universe[%d]: mint is required", i)
		}
		if seen[a.Mint] {
			return fmt.Errorf("app.universe: duplicate mint %s", a.Mint)
		}
		seen[a.Mint] = true
	}

	if c.Schedule.TickInterval <= 0 {
		return fmt.Errorf("schedule.tick_interval must be positive")
	}
	if c.Schedule.SweepInterval <= 0 {
		return fmt.Errorf("schedule.sweep_interval must be positive")
	}
	if c.Sellability.NativeMint == "" {
		return fmt.Errorf("sellability.native_mint is required")
	}
	if c.Sellability.ProbeLamports <= 0 {
		return fmt.Errorf("sellability.probe_lamports must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}
