package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/watchdog"
)

// Job names
const (
	JobCycle = "cycle"
	JobSweep = "sweep"
)

// Cycler runs one decision cycle
type Cycler interface {
	Cycle(ctx context.Context) (engine.CycleReport, error)
}

// Sweeper runs one stale-claim sweep
type Sweeper interface {
	Sweep(ctx context.Context) (watchdog.SweepResult, error)
}

// Config sets the two loop intervals
type Config struct {
	TickInterval  time.Duration
	SweepInterval time.Duration
	// RunImmediately fires both jobs once at start instead of waiting a full interval
	RunImmediately bool
}

// JobResult is the outcome of one job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Status reports scheduler liveness
type Status struct {
	Running bool                 `json:"running"`
	Uptime  time.Duration        `json:"uptime"`
	LastRun map[string]JobResult `json:"last_run"`
}

// Scheduler drives the decision loop and the watchdog on independent tickers.
// Each loop is sequential, so a job never overlaps itself.
type Scheduler struct {
	cfg     Config
	cycler  Cycler
	sweeper Sweeper
	logger  zerolog.Logger

	mu        sync.Mutex
	running   bool
	startTime time.Time
	last      map[string]JobResult
}

// New creates a scheduler. A nil sweeper disables the watchdog loop.
func New(cfg Config, cycler Cycler, sweeper Sweeper, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		cycler:  cycler,
		sweeper: sweeper,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		last:    make(map[string]JobResult),
	}
}

// Start blocks until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if s.sweeper != nil && s.cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Dur("tick_interval", s.cfg.TickInterval).
		Dur("sweep_interval", s.cfg.SweepInterval).
		Bool("watchdog", s.sweeper != nil).
		Msg("scheduler starting")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx, JobCycle, s.cfg.TickInterval)
	}()
	if s.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, JobSweep, s.cfg.SweepInterval)
		}()
	}
	wg.Wait()

	s.logger.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job string, every time.Duration) {
	if s.cfg.RunImmediately {
		_, _ = s.RunJob(ctx, job)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// errors are logged in RunJob; the next tick retries
			_, _ = s.RunJob(ctx, job)
		}
	}
}

// RunJob executes one job immediately
func (s *Scheduler) RunJob(ctx context.Context, job string) (*JobResult, error) {
	res := &JobResult{JobName: job, StartTime: time.Now()}

	var err error
	switch job {
	case JobCycle:
		var rep engine.CycleReport
		rep, err = s.cycler.Cycle(ctx)
		if err == nil && rep.Failed > 0 {
			s.logger.Warn().Int("failed", rep.Failed).Str("run_id", rep.RunID).Msg("cycle finished with asset failures")
		}
	case JobSweep:
		if s.sweeper == nil {
			return nil, fmt.Errorf("watchdog not configured")
		}
		var sweep watchdog.SweepResult
		sweep, err = s.sweeper.Sweep(ctx)
		if err == nil && sweep.Busy {
			s.logger.Debug().Msg("sweep skipped, previous sweep still running")
		}
	default:
		return nil, fmt.Errorf("unknown job: %s", job)
	}

	res.Duration = time.Since(res.StartTime)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		s.logger.Error().Err(err).Str("job", job).Msg("job failed")
	}

	s.mu.Lock()
	s.last[job] = *res
	s.mu.Unlock()

	return res, err
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, LastRun: make(map[string]JobResult, len(s.last))}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	for k, v := range s.last {
		st.LastRun[k] = v
	}
	return st
}
