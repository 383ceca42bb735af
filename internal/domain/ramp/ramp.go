// Package ramp scales target allocations down for assets with too little observed history.
package ramp

import "math"

// Reason explains why the effective target differs from the raw target
type Reason string

const (
	ReasonNone    Reason = "none"
	ReasonRamp    Reason = "ramp"
	ReasonHardCap Reason = "hard_cap"
)

// ReportThreshold is the smallest reduction (one percentage point) worth a telemetry event
const ReportThreshold = 0.01

const tolerance = 1e-12

// Settings is the per-tick ramp configuration. Percentages are portfolio fractions (0.25 = 25%).
type Settings struct {
	AllocationRampEnabled  bool    `yaml:"allocation_ramp_enabled"`
	MinTicksForFullAlloc   int     `yaml:"min_ticks_for_full_alloc"`   // Default: 60
	PreFullAllocMaxPct     float64 `yaml:"pre_full_alloc_max_pct"`     // Default: 0.10
	SmoothRamp             bool    `yaml:"smooth_ramp"`                // sqrt confidence curve
	HardCapBeforeFull      bool    `yaml:"hard_cap_before_full"`
	MaxPositionPctPerAsset float64 `yaml:"max_position_pct_per_asset"` // Default: 0.35
}

// DefaultSettings returns the ramp configuration used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		AllocationRampEnabled:  true,
		MinTicksForFullAlloc:   60,
		PreFullAllocMaxPct:     0.10,
		SmoothRamp:             true,
		HardCapBeforeFull:      false,
		MaxPositionPctPerAsset: 0.35,
	}
}

// Result describes one ramp evaluation
type Result struct {
	EffectiveTargetPct float64 `json:"effective_target_pct"`
	RawTargetPct       float64 `json:"raw_target_pct"`
	TicksObserved      int     `json:"ticks_observed"`
	Confidence         float64 `json:"confidence"`
	WasReduced         bool    `json:"was_reduced"`
	Reason             Reason  `json:"reason"`
}

// Reduction is how much allocation the ramp withheld
func (r Result) Reduction() float64 {
	return r.RawTargetPct - r.EffectiveTargetPct
}

// Reportable is true when the reduction is large enough to be worth logging
func (r Result) Reportable() bool {
	return r.Reduction() >= ReportThreshold-tolerance
}

// Calculate converts a raw target into a confidence-weighted effective target
func Calculate(rawPct float64, ticks int, s Settings) Result {
	if !s.AllocationRampEnabled || s.MinTicksForFullAlloc <= 0 {
		effective := capped(rawPct, rawPct, s)
		return Result{
			EffectiveTargetPct: effective,
			RawTargetPct:       rawPct,
			TicksObserved:      ticks,
			Confidence:         1,
			WasReduced:         effective < rawPct-tolerance,
			Reason:             ReasonNone,
		}
	}

	confidence := clamp(float64(ticks)/float64(s.MinTicksForFullAlloc), 0, 1)
	if s.SmoothRamp {
		confidence = math.Sqrt(confidence)
	}

	effective := rawPct * confidence
	reason := ReasonNone
	if confidence < 1 {
		reason = ReasonRamp
	}

	if s.HardCapBeforeFull && ticks < s.MinTicksForFullAlloc && effective > s.PreFullAllocMaxPct {
		effective = s.PreFullAllocMaxPct
		reason = ReasonHardCap
	}

	effective = capped(effective, rawPct, s)

	return Result{
		EffectiveTargetPct: effective,
		RawTargetPct:       rawPct,
		TicksObserved:      ticks,
		Confidence:         confidence,
		WasReduced:         effective < rawPct-tolerance,
		Reason:             reason,
	}
}

// capped applies the per-asset ceiling, which holds whether or not the ramp is active
func capped(effective, rawPct float64, s Settings) float64 {
	return math.Max(0, math.Min(effective, math.Min(rawPct, s.MaxPositionPctPerAsset)))
}

// Target is a raw allocation produced by portfolio construction
type Target struct {
	Mint   string  `json:"mint"`
	Symbol string  `json:"symbol"`
	RawPct float64 `json:"raw_pct"`
}

// RampedTarget is a Target with its ramp outcome attached
type RampedTarget struct {
	Target
	EffectivePct float64 `json:"effective_pct"`
	RampInfo     Result  `json:"ramp_info"`
}

// ApplyBatch ramps every target using a per-asset tick count lookup
func ApplyBatch(targets []Target, ticks func(mint string) int, s Settings) []RampedTarget {
	out := make([]RampedTarget, 0, len(targets))
	for _, t := range targets {
		n := 0
		if ticks != nil {
			n = ticks(t.Mint)
		}
		res := Calculate(t.RawPct, n, s)
		out = append(out, RampedTarget{Target: t, EffectivePct: res.EffectiveTargetPct, RampInfo: res})
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
