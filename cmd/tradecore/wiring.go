package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/config"
	"github.com/sawpanic/tradecore/internal/data/bars"
	"github.com/sawpanic/tradecore/internal/infrastructure/db"
	tlog "github.com/sawpanic/tradecore/internal/log"
	"github.com/sawpanic/tradecore/internal/metrics"
	"github.com/sawpanic/tradecore/internal/persistence"
	"github.com/sawpanic/tradecore/internal/providers/jupiter"
	"github.com/sawpanic/tradecore/internal/sellability"
	"github.com/sawpanic/tradecore/internal/watchdog"
)

// app bundles everything a command may need; close releases it
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	db      *db.Manager
	bars    *bars.RedisStore
	quotes  *jupiter.Client
	checker *sellability.Checker

	closers []io.Closer
}

func bootstrap(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.App.Log.Level = flags.logLevel
	}

	logger, logCloser, err := tlog.Setup(cfg.App.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(),
		closers: []io.Closer{logCloser},
	}

	a.db, err = db.NewManager(ctx, cfg.Database)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect work queue: %w", err)
	}
	a.closers = append(a.closers, a.db)
	if !a.db.IsEnabled() {
		logger.Warn().Msg("work queue database disabled; watchdog and positions unavailable")
	}

	a.bars = bars.NewRedisStore(cfg.Redis)
	a.closers = append(a.closers, a.bars)

	a.quotes = jupiter.NewClient(cfg.Jupiter, logger)
	a.checker = sellability.NewChecker(a.quotes, cfg.Sellability.Config, logger)

	logger.Info().
		Str("mode", cfg.App.Mode).
		Int("universe", len(cfg.App.Universe)).
		Bool("database", a.db.IsEnabled()).
		Msg("tradecore initialised")
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

func (a *app) positions() persistence.PositionsRepo {
	if repos := a.db.Repository(); repos != nil {
		return repos.Positions
	}
	return noPositions{}
}

func (a *app) watchdog() *watchdog.Watchdog {
	repos := a.db.Repository()
	if repos == nil {
		return nil
	}
	return watchdog.New(repos.Claims, a.cfg.Watchdog, a.logger).WithRecorder(a.metrics)
}

func (a *app) engine(run *engine.RunContext) *engine.Engine {
	cfg := a.cfg
	universe := make([]engine.Asset, 0, len(cfg.App.Universe))
	for _, u := range cfg.App.Universe {
		universe = append(universe, engine.Asset{Mint: u.Mint, Symbol: u.Symbol})
	}

	return engine.New(engine.Config{
		Universe:      universe,
		PortfolioUSD:  cfg.App.PortfolioUSD,
		MaxGrossPct:   cfg.App.MaxGrossPct,
		BarsLimit:     cfg.Schedule.BarsLimit,
		SlippageBps:   cfg.Sellability.SlippageBps,
		ProbeLamports: cfg.Sellability.ProbeLamports,
		Signal:        cfg.Signal,
		Ramp:          cfg.Ramp,
		Hysteresis:    cfg.Hysteresis,
	}, run, a.bars, a.positions(), a.checker, a.logger).WithRecorder(a.metrics)
}

// noPositions stands in for the portfolio when no database is configured
type noPositions struct{}

func (noPositions) List(ctx context.Context) ([]persistence.Position, error) {
	return nil, nil
}
