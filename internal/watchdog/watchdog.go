// Package watchdog repairs buy claims left in BUYING by a stalled or crashed worker.
package watchdog

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/tradecore/internal/persistence"
)

// maxBackoff is the largest delay time.Duration can hold
const maxBackoff = time.Duration(math.MaxInt64)

// Config controls staleness and retry policy
type Config struct {
	StaleMinutes       float64 `yaml:"stale_minutes"`        // Default: 10
	MaxBuyAttempts     int     `yaml:"max_buy_attempts"`     // Default: 3
	BaseBackoffMinutes float64 `yaml:"base_backoff_minutes"` // Default: 5
}

// DefaultConfig returns the standard retry policy
func DefaultConfig() Config {
	return Config{
		StaleMinutes:       10,
		MaxBuyAttempts:     3,
		BaseBackoffMinutes: 5,
	}
}

// Recorder receives per-claim and per-sweep outcomes
type Recorder interface {
	RecordWatchdogClaim(action string)
	RecordWatchdogSweep(status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWatchdogClaim(string) {}
func (nopRecorder) RecordWatchdogSweep(string) {}

// SweepResult summarises one sweep
type SweepResult struct {
	RunID        string   `json:"run_id,omitempty"`
	Scanned      int      `json:"scanned"`
	ResetCount   int      `json:"reset_count"`
	SkippedCount int      `json:"skipped_count"`
	Reset        []string `json:"reset"`
	Skipped      []string `json:"skipped"`
	Contended    []string `json:"contended,omitempty"`
	Busy         bool     `json:"busy,omitempty"`
}

// Watchdog sweeps the work queue for stale claims. Sweeps never overlap.
type Watchdog struct {
	claims   persistence.ClaimsRepo
	config   Config
	logger   zerolog.Logger
	recorder Recorder
	now      func() time.Time
	running  atomic.Bool
}

// New creates a watchdog over the given claims repository
func New(claims persistence.ClaimsRepo, config Config, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		claims:   claims,
		config:   config,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// WithRecorder attaches a metrics recorder
func (w *Watchdog) WithRecorder(r Recorder) *Watchdog {
	if r != nil {
		w.recorder = r
	}
	return w
}

// Backoff returns base * 2^attempts minutes, saturating at the largest time.Duration
func (w *Watchdog) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	ns := w.config.BaseBackoffMinutes * math.Pow(2, float64(attempts)) * float64(time.Minute)
	if ns >= float64(maxBackoff) || math.IsNaN(ns) {
		return maxBackoff
	}
	return time.Duration(ns)
}

// Sweep resets or retires every stale claim once. An overlapping call returns Busy without
// touching the queue. On a read or write error the counts gathered so far are returned with it.
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug().Msg("sweep already in progress")
		w.recorder.RecordWatchdogSweep("busy")
		return SweepResult{Busy: true}, nil
	}
	defer w.running.Store(false)

	res := SweepResult{
		RunID:   uuid.NewString(),
		Reset:   []string{},
		Skipped: []string{},
	}
	logger := w.logger.With().Str("run_id", res.RunID).Logger()

	now := w.now()
	cutoff := now.Add(-time.Duration(w.config.StaleMinutes * float64(time.Minute)))

	stale, err := w.claims.ListStale(ctx, cutoff)
	if err != nil {
		w.recorder.RecordWatchdogSweep("error")
		return res, fmt.Errorf("failed to list stale claims: %w", err)
	}
	if len(stale) == 0 {
		w.recorder.RecordWatchdogSweep("ok")
		return res, nil
	}

	seen := make(map[string]struct{}, len(stale))
	for _, claim := range stale {
		if _, dup := seen[claim.Mint]; dup {
			continue
		}
		seen[claim.Mint] = struct{}{}
		res.Scanned++

		if err := w.repair(ctx, logger, claim, now, &res); err != nil {
			w.recorder.RecordWatchdogSweep("error")
			return res, err
		}
	}

	logger.Info().
		Int("scanned", res.Scanned).
		Int("reset", res.ResetCount).
		Int("skipped", res.SkippedCount).
		Int("contended", len(res.Contended)).
		Msg("stale claim sweep complete")
	w.recorder.RecordWatchdogSweep("ok")
	return res, nil
}

func (w *Watchdog) repair(ctx context.Context, logger zerolog.Logger, claim persistence.Claim, now time.Time, res *SweepResult) error {
	if claim.BuyAttempts >= w.config.MaxBuyAttempts {
		ok, err := w.claims.MarkSkipped(ctx, claim, persistence.NoteStaleClaimMaxRetries)
		if err != nil {
			return fmt.Errorf("failed to skip stale claim %s: %w", claim.Mint, err)
		}
		if !ok {
			w.contended(logger, claim, res)
			return nil
		}
		res.SkippedCount++
		res.Skipped = append(res.Skipped, claim.Mint)
		w.recorder.RecordWatchdogClaim("skipped")
		logger.Warn().Str("mint", claim.Mint).Str("symbol", claim.Symbol).
			Int("buy_attempts", claim.BuyAttempts).Msg("stale claim retired after max retries")
		return nil
	}

	next := now.Add(w.Backoff(claim.BuyAttempts))
	ok, err := w.claims.ResetToPending(ctx, claim, next, persistence.NoteStaleClaimReset)
	if err != nil {
		return fmt.Errorf("failed to reset stale claim %s: %w", claim.Mint, err)
	}
	if !ok {
		w.contended(logger, claim, res)
		return nil
	}
	res.ResetCount++
	res.Reset = append(res.Reset, claim.Mint)
	w.recorder.RecordWatchdogClaim("reset")
	logger.Info().Str("mint", claim.Mint).Str("symbol", claim.Symbol).
		Int("buy_attempts", claim.BuyAttempts+1).Time("next_attempt_at", next).Msg("stale claim reset")
	return nil
}

func (w *Watchdog) contended(logger zerolog.Logger, claim persistence.Claim, res *SweepResult) {
	res.Contended = append(res.Contended, claim.Mint)
	w.recorder.RecordWatchdogClaim("contended")
	logger.Debug().Str("mint", claim.Mint).Msg("claim moved by another worker")
}
