package engine

import (
	"sync"
	"time"

	"github.com/sawpanic/tradecore/internal/gates"
)

// RunContext is the mutable state of one trading context (paper or live).
// Two contexts never share hysteresis counters or tick observations.
type RunContext struct {
	Mode    string
	Tracker *gates.Tracker

	mu    sync.RWMutex
	ticks map[string]int
	last  *CycleReport
	now   func() time.Time
}

// NewRunContext creates an empty context for mode
func NewRunContext(mode string, now func() time.Time) *RunContext {
	if now == nil {
		now = time.Now
	}
	return &RunContext{
		Mode:    mode,
		Tracker: gates.NewTrackerWithClock(now),
		ticks:   make(map[string]int),
		now:     now,
	}
}

// Ticks returns the last observed bar count for mint
func (r *RunContext) Ticks(mint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ticks[mint]
}

func (r *RunContext) observe(mint string, n int) {
	r.mu.Lock()
	r.ticks[mint] = n
	r.mu.Unlock()
}

// LastReport returns the most recent cycle report, or nil before the first cycle
func (r *RunContext) LastReport() *CycleReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *RunContext) setLast(rep CycleReport) {
	r.mu.Lock()
	r.last = &rep
	r.mu.Unlock()
}
