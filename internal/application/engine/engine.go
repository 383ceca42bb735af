// Package engine runs one decision cycle: signal, target, ramp, rebalance gate and sellability.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/tradecore/internal/data/bars"
	"github.com/sawpanic/tradecore/internal/domain/ramp"
	"github.com/sawpanic/tradecore/internal/domain/signal"
	"github.com/sawpanic/tradecore/internal/gates"
	"github.com/sawpanic/tradecore/internal/persistence"
	"github.com/sawpanic/tradecore/internal/sellability"
)

// Action is what the cycle wants done for an asset
type Action string

const (
	ActionHold    Action = "hold"
	ActionBuy     Action = "buy"
	ActionSell    Action = "sell"
	ActionBlocked Action = "blocked"
)

// Asset is a tracked token
type Asset struct {
	Mint   string
	Symbol string
}

// Config carries the thresholds a cycle needs
type Config struct {
	Universe      []Asset
	PortfolioUSD  float64
	MaxGrossPct   float64
	BarsLimit     int
	SlippageBps   int
	ProbeLamports int64

	Signal     signal.Config
	Ramp       ramp.Settings
	Hysteresis gates.HysteresisConfig
}

// SellabilityChecker vets a token before a new buy
type SellabilityChecker interface {
	Check(ctx context.Context, mint string, buyAmount decimal.Decimal, slippageBps int) sellability.Result
}

// Recorder receives cycle telemetry
type Recorder interface {
	RecordSignal(regime string)
	RecordRampReduction(reason string)
	RecordGate(outcome string)
	RecordSellability(result string)
	ObserveCycle(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSignal(string) {}
func (nopRecorder) RecordRampReduction(string) {}
func (nopRecorder) RecordGate(string) {}
func (nopRecorder) RecordSellability(string) {}
func (nopRecorder) ObserveCycle(time.Duration) {}

// Decision is the per-asset outcome of a cycle
type Decision struct {
	Mint        string              `json:"mint"`
	Symbol      string              `json:"symbol,omitempty"`
	Action      Action              `json:"action"`
	Reason      string              `json:"reason,omitempty"`
	CurrentPct  float64             `json:"current_pct"`
	TargetPct   float64             `json:"target_pct"`
	Signal      signal.Signal       `json:"signal"`
	Ramp        ramp.Result         `json:"ramp"`
	Gate        *gates.GateDecision `json:"gate,omitempty"`
	Sellability *sellability.Result `json:"sellability,omitempty"`
}

// CycleReport summarises one cycle. Per-asset failures are listed, not swallowed.
type CycleReport struct {
	RunID     string            `json:"run_id"`
	Mode      string            `json:"mode"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Evaluated int               `json:"evaluated"`
	Failed    int               `json:"failed"`
	Decisions []Decision        `json:"decisions"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Engine evaluates the tracked universe against the current portfolio
type Engine struct {
	cfg         Config
	run         *RunContext
	bars        bars.Store
	positions   persistence.PositionsRepo
	sellability SellabilityChecker
	recorder    Recorder
	logger      zerolog.Logger

	cycleMu sync.Mutex
}

// New creates an engine bound to one RunContext
func New(cfg Config, run *RunContext, store bars.Store, positions persistence.PositionsRepo, checker SellabilityChecker, logger zerolog.Logger) *Engine {
	if cfg.MaxGrossPct <= 0 {
		cfg.MaxGrossPct = 1
	}
	return &Engine{
		cfg:         cfg,
		run:         run,
		bars:        store,
		positions:   positions,
		sellability: checker,
		recorder:    nopRecorder{},
		logger:      logger.With().Str("component", "engine").Str("mode", run.Mode).Logger(),
	}
}

// WithRecorder attaches a metrics recorder
func (e *Engine) WithRecorder(r Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// Run returns the engine's run context
func (e *Engine) Run() *RunContext {
	return e.run
}

type observation struct {
	asset    Asset
	position persistence.Position
	held     bool
	signal   signal.Signal
}

// Cycle evaluates every tracked or held asset once. It only fails outright when the
// portfolio cannot be read; per-asset problems land in CycleReport.Errors.
func (e *Engine) Cycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := e.run.now()
	rep := CycleReport{
		RunID:     uuid.NewString(),
		Mode:      e.run.Mode,
		StartedAt: start,
		Decisions: []Decision{},
		Errors:    map[string]string{},
	}
	logger := e.logger.With().Str("run_id", rep.RunID).Logger()

	positions, err := e.positions.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("failed to load positions: %w", err)
	}

	var obs []observation
	for _, asset := range e.assets(positions) {
		o, err := e.observe(ctx, asset)
		if err != nil {
			rep.Failed++
			rep.Errors[asset.Mint] = err.Error()
			logger.Warn().Err(err).Str("mint", asset.Mint).Msg("asset skipped this cycle")
			continue
		}
		if p, ok := findPosition(positions, asset.Mint); ok {
			o.position = p
			o.held = p.CurrentPct > 0
		}
		obs = append(obs, o)
	}

	targets := e.targets(obs)
	ramped := ramp.ApplyBatch(targets, e.run.Ticks, e.cfg.Ramp)

	for i, rt := range ramped {
		if rt.RampInfo.Reportable() {
			e.recorder.RecordRampReduction(string(rt.RampInfo.Reason))
			logger.Info().
				Str("event", "ramp_reduction").
				Str("mint", rt.Mint).
				Str("symbol", rt.Symbol).
				Float64("raw_pct", rt.RampInfo.RawTargetPct).
				Float64("effective_pct", rt.RampInfo.EffectiveTargetPct).
				Float64("confidence", rt.RampInfo.Confidence).
				Int("ticks", rt.RampInfo.TicksObserved).
				Str("reason", string(rt.RampInfo.Reason)).
				Msg("allocation ramp reduced target")
		}

		d := e.decide(ctx, obs[i], rt)
		rep.Decisions = append(rep.Decisions, d)
		rep.Evaluated++
	}

	rep.Duration = e.run.now().Sub(start)
	e.recorder.ObserveCycle(rep.Duration)
	e.run.setLast(rep)

	logger.Info().
		Int("evaluated", rep.Evaluated).
		Int("failed", rep.Failed).
		Dur("duration", rep.Duration).
		Msg("cycle complete")
	return rep, nil
}

// assets is the configured universe followed by any other held positions, sorted by mint
func (e *Engine) assets(positions []persistence.Position) []Asset {
	seen := make(map[string]bool, len(e.cfg.Universe)+len(positions))
	out := make([]Asset, 0, len(e.cfg.Universe)+len(positions))
	for _, a := range e.cfg.Universe {
		if seen[a.Mint] {
			continue
		}
		seen[a.Mint] = true
		out = append(out, a)
	}

	var extra []Asset
	for _, p := range positions {
		if seen[p.Mint] {
			continue
		}
		seen[p.Mint] = true
		extra = append(extra, Asset{Mint: p.Mint, Symbol: p.Symbol})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Mint < extra[j].Mint })
	return append(out, extra...)
}

func (e *Engine) observe(ctx context.Context, asset Asset) (observation, error) {
	history, err := e.bars.Recent(ctx, asset.Mint, e.cfg.BarsLimit)
	if err != nil {
		return observation{}, err
	}
	n, err := e.bars.Len(ctx, asset.Mint)
	if err != nil {
		return observation{}, err
	}
	e.run.observe(asset.Mint, n)

	sig := signal.Compute(history, e.cfg.Signal)
	e.recorder.RecordSignal(sig.Regime.String())
	return observation{asset: asset, signal: sig}, nil
}

// targets turns scores into raw allocations. Each positive score is weighted by
// score/maxScore (capped at 1) and the weights are scaled down when they sum past one,
// so the gross allocation never exceeds MaxGrossPct.
func (e *Engine) targets(obs []observation) []ramp.Target {
	const maxScore = 3.0

	weights := make([]float64, len(obs))
	sum := 0.0
	for i, o := range obs {
		if o.signal.Score > 0 {
			weights[i] = math.Min(o.signal.Score/maxScore, 1)
			sum += weights[i]
		}
	}
	scale := e.cfg.MaxGrossPct
	if sum > 1 {
		scale /= sum
	}

	out := make([]ramp.Target, len(obs))
	for i, o := range obs {
		out[i] = ramp.Target{Mint: o.asset.Mint, Symbol: o.asset.Symbol, RawPct: weights[i] * scale}
	}
	return out
}

func (e *Engine) decide(ctx context.Context, o observation, rt ramp.RampedTarget) Decision {
	current := o.position.CurrentPct
	target := rt.EffectivePct

	d := Decision{
		Mint:       rt.Mint,
		Symbol:     rt.Symbol,
		Action:     ActionHold,
		CurrentPct: current,
		TargetPct:  target,
		Signal:     o.signal,
		Ramp:       rt.RampInfo,
	}

	if current <= 0 && target <= 0 {
		e.run.Tracker.ClearTargetState(rt.Mint)
		d.Reason = "flat"
		return d
	}

	e.run.Tracker.UpdateTargetState(rt.Mint, target, current)

	switch {
	case target < current:
		in := gates.RebalanceSellInput{
			Asset:                rt.Mint,
			TargetPct:            target,
			CurrentPct:           current,
			EstimatedProceedsUSD: e.proceeds(o.position, target),
		}
		if o.position.EntryTime != nil {
			in.EntryTime = *o.position.EntryTime
		}
		gate := e.run.Tracker.EvaluateRebalanceSell(in, e.cfg.Hysteresis)
		d.Gate = &gate
		if gate.Allowed {
			d.Action = ActionSell
			e.recorder.RecordGate("allowed")
		} else {
			d.Action = ActionBlocked
			d.Reason = string(gate.Reason)
			e.recorder.RecordGate(string(gate.Reason))
		}

	case target > current && !o.held:
		res := e.sellability.Check(ctx, rt.Mint, decimal.NewFromInt(e.cfg.ProbeLamports), e.cfg.SlippageBps)
		d.Sellability = &res
		if res.Pass {
			d.Action = ActionBuy
			e.recorder.RecordSellability("pass")
		} else {
			d.Action = ActionBlocked
			d.Reason = string(res.FailReason)
			e.recorder.RecordSellability(string(res.FailReason))
		}

	case target > current:
		d.Action = ActionBuy
	}
	return d
}

// proceeds estimates the USD value of trimming from current to target
func (e *Engine) proceeds(p persistence.Position, target float64) float64 {
	trim := p.CurrentPct - target
	if trim <= 0 {
		return 0
	}
	if p.ValueUSD > 0 && p.CurrentPct > 0 {
		return p.ValueUSD * trim / p.CurrentPct
	}
	return e.cfg.PortfolioUSD * trim
}

func findPosition(positions []persistence.Position, mint string) (persistence.Position, bool) {
	for _, p := range positions {
		if p.Mint == mint {
			return p, true
		}
	}
	return persistence.Position{}, false
}
