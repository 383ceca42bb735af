package signal

import (
	"math"
	"time"
)

// Regime classifies recent price behaviour and selects the scoring rule
type Regime int

const (
	RegimeRange Regime = iota
	RegimeTrend
)

func (r Regime) String() string {
	switch r {
	case RegimeTrend:
		return "trend"
	case RegimeRange:
		return "range"
	default:
		return "unknown"
	}
}

// MarshalText renders the regime by name in JSON/YAML output
func (r Regime) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Bar is a single price observation
type Bar struct {
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
}

// Signal is recomputed every tick from the bar window and never persisted
type Signal struct {
	Score    float64            `json:"score"`
	Regime   Regime             `json:"regime"`
	Features map[string]float64 `json:"features"`
}

// Feature keys reported in Signal.Features
const (
	FeatureInsufficientTicks = "insufficient_ticks"
	FeatureTicks             = "ticks"
	FeatureRet1              = "ret1"
	FeatureRet5              = "ret5"
	FeatureRet30             = "ret30"
	FeatureFastMA            = "fast_ma"
	FeatureSlowMA            = "slow_ma"
	FeatureVolatility        = "volatility"
	FeatureTrendStrength     = "trend_strength"
	FeatureDeviation         = "mr_deviation"
	FeatureMomentum          = "momentum"
	FeatureSuppressed        = "suppressed"
)

const (
	fastWindow = 10
	slowWindow = 60
	volWindow  = 30

	maxScore    = 3.0
	maxMomentum = 2.0
	volEpsilon  = 1e-9
)

// Config holds the engine thresholds
type Config struct {
	TrendThreshold     float64 `yaml:"trend_threshold"`       // Default: 1.0
	MomentumFactor     float64 `yaml:"momentum_factor"`       // Default: 0.25
	Band               float64 `yaml:"band"`                  // Default: 0.3 dead-zone
	MinTicksForSignals int     `yaml:"min_ticks_for_signals"` // Default: 20
}

// DefaultConfig returns the thresholds used when nothing is configured
func DefaultConfig() Config {
	return Config{
		TrendThreshold:     1.0,
		MomentumFactor:     0.25,
		Band:               0.3,
		MinTicksForSignals: 20,
	}
}

// Compute derives a Signal from an oldest-first bar sequence. It is pure given cfg.
func Compute(bars []Bar, cfg Config) Signal {
	n := len(bars)
	if n < cfg.MinTicksForSignals || n < 2 {
		return Signal{
			Score:  0,
			Regime: RegimeRange,
			Features: map[string]float64{
				FeatureInsufficientTicks: 1,
				FeatureTicks:             float64(n),
			},
		}
	}

	prices := make([]float64, n)
	for i, b := range bars {
		prices[i] = b.Price
	}
	last := prices[n-1]

	ret1 := logReturn(prices, 1)
	ret5 := ret1
	if n > 5 {
		ret5 = logReturn(prices, 5)
	}
	ret30 := ret5
	if n > 30 {
		ret30 = logReturn(prices, 30)
	}

	fastMA := mean(prices[n-min(fastWindow, n):])
	slowMA := mean(prices[n-min(slowWindow, n):])
	vol := realizedVol(prices[n-min(volWindow, n):])

	trend := normalized(fastMA-slowMA, slowMA, vol)
	deviation := normalized(last-slowMA, slowMA, vol)

	regime := RegimeRange
	if math.Abs(trend) > cfg.TrendThreshold {
		regime = RegimeTrend
	}

	var score float64
	suppressed := false
	switch regime {
	case RegimeTrend:
		if math.Abs(trend) <= cfg.Band {
			suppressed = true
		} else {
			score = clamp(trend, -maxScore, maxScore)
		}
	default:
		if math.Abs(deviation) <= cfg.Band {
			suppressed = true
		} else {
			// mean reversion pulls toward the slow average
			score = clamp(-deviation, -maxScore, maxScore)
		}
	}

	var momentum float64
	if !suppressed {
		momentum = cfg.MomentumFactor * clamp(ret5/math.Max(vol, volEpsilon), -maxMomentum, maxMomentum)
		score += momentum
	}

	return Signal{
		Score:  score,
		Regime: regime,
		Features: map[string]float64{
			FeatureTicks:         float64(n),
			FeatureRet1:          ret1,
			FeatureRet5:          ret5,
			FeatureRet30:         ret30,
			FeatureFastMA:        fastMA,
			FeatureSlowMA:        slowMA,
			FeatureVolatility:    vol,
			FeatureTrendStrength: trend,
			FeatureDeviation:     deviation,
			FeatureMomentum:      momentum,
			FeatureSuppressed:    boolFeature(suppressed),
		},
	}
}

// logReturn is ln(p[n-1]/p[n-1-lag]); non-positive prices yield 0
func logReturn(prices []float64, lag int) float64 {
	n := len(prices)
	if lag >= n {
		return 0
	}
	cur, prev := prices[n-1], prices[n-1-lag]
	if cur <= 0 || prev <= 0 {
		return 0
	}
	return math.Log(cur / prev)
}

// realizedVol is the population standard deviation of consecutive log-returns
func realizedVol(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] <= 0 || prices[i-1] <= 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, math.Log(prices[i]/prices[i-1]))
	}
	mu := mean(rets)
	var ss float64
	for _, r := range rets {
		d := r - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)))
}

// normalized divides by base*vol, returning 0 instead of NaN or Inf
func normalized(diff, base, vol float64) float64 {
	denom := base * vol
	if vol == 0 || base == 0 || denom == 0 {
		return 0
	}
	out := diff / denom
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
