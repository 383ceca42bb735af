package gates

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// StateKind tags the two hysteresis states an asset can be in
type StateKind int

const (
	// Stable means the target is not below the current allocation
	Stable StateKind = iota
	// Dropping means the target has been below current for ConsecutiveTicksBelow observations
	Dropping
)

func (k StateKind) String() string {
	switch k {
	case Stable:
		return "stable"
	case Dropping:
		return "dropping"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in diagnostics output
func (k StateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TargetState is the per-asset hysteresis record. Kind is Stable iff ConsecutiveTicksBelow is 0.
type TargetState struct {
	Kind                  StateKind `json:"kind"`
	ConsecutiveTicksBelow int       `json:"consecutive_ticks_below"`
	LastUpdatedAt         time.Time `json:"last_updated_at"`
}

func stable(at time.Time) TargetState {
	return TargetState{Kind: Stable, LastUpdatedAt: at}
}

func dropping(n int, at time.Time) TargetState {
	return TargetState{Kind: Dropping, ConsecutiveTicksBelow: n, LastUpdatedAt: at}
}

// next applies one observation to the state
func (s TargetState) next(below bool, at time.Time) TargetState {
	if !below {
		return stable(at)
	}
	return dropping(s.ConsecutiveTicksBelow+1, at)
}

// GateReason names the first rebalance-sell gate that denied
type GateReason string

const (
	ReasonNone              GateReason = ""
	ReasonMinHold           GateReason = "MIN_HOLD_BEFORE_REBALANCE_SELL"
	ReasonDropNotPersistent GateReason = "TARGET_DROP_NOT_PERSISTENT"
	ReasonTrimTooSmall      GateReason = "TRIM_TOO_SMALL"
)

// HysteresisConfig holds the rebalance-sell thresholds
type HysteresisConfig struct {
	MinHoldMinutes float64 `yaml:"min_hold_minutes"` // Default: 30
	ConfirmTicks   int     `yaml:"confirm_ticks"`    // Default: 3
	MinTrimUSD     float64 `yaml:"min_trim_usd"`     // Default: 5
}

// DefaultHysteresisConfig returns the thresholds used when nothing is configured
func DefaultHysteresisConfig() HysteresisConfig {
	return HysteresisConfig{
		MinHoldMinutes: 30,
		ConfirmTicks:   3,
		MinTrimUSD:     5,
	}
}

// RebalanceSellInput describes a proposed trim of an existing position
type RebalanceSellInput struct {
	Asset                string
	EntryTime            time.Time // zero when unknown, treated as held forever
	TargetPct            float64
	CurrentPct           float64
	EstimatedProceedsUSD float64
}

// GateDecision is the outcome of EvaluateRebalanceSell
type GateDecision struct {
	Allowed            bool       `json:"allowed"`
	Reason             GateReason `json:"reason,omitempty"`
	PositionAgeMinutes float64    `json:"position_age_minutes"`
	ConsecutiveTicks   int        `json:"consecutive_ticks"`
}

// MarshalJSON writes an unknown (infinite) position age as null
func (d GateDecision) MarshalJSON() ([]byte, error) {
	type plain GateDecision
	out := struct {
		plain
		PositionAgeMinutes *float64 `json:"position_age_minutes"`
	}{plain: plain(d)}
	if !math.IsInf(d.PositionAgeMinutes, 0) && !math.IsNaN(d.PositionAgeMinutes) {
		age := d.PositionAgeMinutes
		out.PositionAgeMinutes = &age
	}
	return json.Marshal(out)
}

// Tracker owns hysteresis state for one trading context
type Tracker struct {
	mu     sync.Mutex
	states map[string]TargetState
	now    func() time.Time
}

// NewTracker creates an empty tracker using the wall clock
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates an empty tracker with an injected clock
func NewTrackerWithClock(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		states: make(map[string]TargetState),
		now:    now,
	}
}

// UpdateTargetState records one observation of target vs current allocation.
// State is created lazily on the first drop; a non-drop on an unknown asset is a no-op.
func (t *Tracker) UpdateTargetState(asset string, targetPct, currentPct float64) TargetState {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := t.now()
	below := targetPct < currentPct
	cur, ok := t.states[asset]
	if !ok && !below {
		return stable(at)
	}
	next := cur.next(below, at)
	t.states[asset] = next
	return next
}

// EvaluateRebalanceSell checks min-hold, persistence and trim size, in that order
func (t *Tracker) EvaluateRebalanceSell(in RebalanceSellInput, cfg HysteresisConfig) GateDecision {
	t.mu.Lock()
	state := t.states[in.Asset]
	now := t.now()
	t.mu.Unlock()

	age := math.Inf(1)
	if !in.EntryTime.IsZero() {
		age = now.Sub(in.EntryTime).Minutes()
	}

	decision := GateDecision{
		PositionAgeMinutes: age,
		ConsecutiveTicks:   state.ConsecutiveTicksBelow,
	}

	switch {
	case age < cfg.MinHoldMinutes:
		decision.Reason = ReasonMinHold
	case state.ConsecutiveTicksBelow < cfg.ConfirmTicks:
		decision.Reason = ReasonDropNotPersistent
	case in.EstimatedProceedsUSD < cfg.MinTrimUSD:
		decision.Reason = ReasonTrimTooSmall
	default:
		decision.Allowed = true
	}
	return decision
}

// State returns the current state for an asset
func (t *Tracker) State(asset string) (TargetState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[asset]
	return s, ok
}

// ClearTargetState forgets an asset, used when its position closes
func (t *Tracker) ClearTargetState(asset string) {
	t.mu.Lock()
	delete(t.states, asset)
	t.mu.Unlock()
}

// ClearAllTargetStates resets every asset
func (t *Tracker) ClearAllTargetStates() {
	t.mu.Lock()
	t.states = make(map[string]TargetState)
	t.mu.Unlock()
}

// Snapshot returns a copy of all states for diagnostics
func (t *Tracker) Snapshot() map[string]TargetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]TargetState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
