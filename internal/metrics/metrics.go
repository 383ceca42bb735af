// Package metrics holds the Prometheus collectors for the decision loop and the watchdog.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns its own prometheus.Registry so tests and parallel runs never share state
type Registry struct {
	reg *prometheus.Registry

	Signals          *prometheus.CounterVec
	RampReductions   *prometheus.CounterVec
	RebalanceGate    *prometheus.CounterVec
	SellabilityCheck *prometheus.CounterVec
	WatchdogClaims   *prometheus.CounterVec
	WatchdogSweeps   *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
}

// NewRegistry creates and registers every collector
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_signals_total",
				Help: "Signals computed by regime",
			},
			[]string{"regime"},
		),

		RampReductions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_ramp_reductions_total",
				Help: "Reportable allocation ramp reductions by reason",
			},
			[]string{"reason"},
		),

		RebalanceGate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_rebalance_gate_total",
				Help: "Rebalance sell gate decisions by outcome",
			},
			[]string{"outcome"},
		),

		SellabilityCheck: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_sellability_checks_total",
				Help: "Sellability checks by result",
			},
			[]string{"result"},
		),

		WatchdogClaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_watchdog_claims_total",
				Help: "Stale claims handled by the watchdog by action",
			},
			[]string{"action"},
		),

		WatchdogSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_watchdog_sweeps_total",
				Help: "Watchdog sweeps by status",
			},
			[]string{"status"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tradecore_cycle_duration_seconds",
				Help:    "Duration of one decision cycle",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	r.reg.MustRegister(
		r.Signals,
		r.RampReductions,
		r.RebalanceGate,
		r.SellabilityCheck,
		r.WatchdogClaims,
		r.WatchdogSweeps,
		r.CycleDuration,
	)
	return r
}

// Handler serves this registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RecordSignal(regime string) {
	r.Signals.WithLabelValues(regime).Inc()
}

func (r *Registry) RecordRampReduction(reason string) {
	r.RampReductions.WithLabelValues(reason).Inc()
}

// RecordGate counts a gate outcome; allowed decisions use "allowed", denials their reason
func (r *Registry) RecordGate(outcome string) {
	r.RebalanceGate.WithLabelValues(outcome).Inc()
}

// RecordSellability counts "pass" or the fail reason
func (r *Registry) RecordSellability(result string) {
	r.SellabilityCheck.WithLabelValues(result).Inc()
}

func (r *Registry) RecordWatchdogClaim(action string) {
	r.WatchdogClaims.WithLabelValues(action).Inc()
}

func (r *Registry) RecordWatchdogSweep(status string) {
	r.WatchdogSweeps.WithLabelValues(status).Inc()
}

func (r *Registry) ObserveCycle(d time.Duration) {
	r.CycleDuration.Observe(d.Seconds())
}
