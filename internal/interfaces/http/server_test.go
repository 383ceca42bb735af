package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradecore/internal/application/engine"
	"github.com/sawpanic/tradecore/internal/domain/signal"
	"github.com/sawpanic/tradecore/internal/metrics"
	"github.com/sawpanic/tradecore/internal/persistence"
	"github.com/sawpanic/tradecore/internal/scheduler"
	"github.com/sawpanic/tradecore/internal/sellability"
)

type stubHealth struct{ healthy bool }

func (h stubHealth) Health(ctx context.Context) persistence.HealthCheck {
	return persistence.HealthCheck{Healthy: h.healthy, LastCheck: time.Now()}
}
func (h stubHealth) Ping(ctx context.Context) error { return nil }
func (h stubHealth) Stats(ctx context.Context) map[string]interface{} { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type emptyStore struct{}

func (emptyStore) Recent(ctx context.Context, mint string, limit int) ([]signal.Bar, error) {
	return nil, nil
}
func (emptyStore) Len(ctx context.Context, mint string) (int, error) { return 0, nil }

type noPositions struct{}

func (noPositions) List(ctx context.Context) ([]persistence.Position, error) { return nil, nil }

type passChecker struct{}

func (passChecker) Check(ctx context.Context, mint string, amount decimal.Decimal, slippageBps int) sellability.Result {
	return sellability.Result{Mint: mint, Pass: true}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_Health(t *testing.T) {
	run := engine.NewRunContext("paper", nil)
	srv := NewServer(DefaultServerConfig(), Sources{
		Health:    stubHealth{healthy: true},
		Runs:      map[string]*engine.RunContext{"paper": run},
		Scheduler: func() scheduler.Status { return scheduler.Status{Running: true} },
	}, zerolog.Nop())

	rec, body := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"paper"}, body["modes"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_HealthDegraded(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), Sources{Health: stubHealth{healthy: false}}, zerolog.Nop())

	rec, body := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_HealthReportsBarStore(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), Sources{
		Health: stubHealth{healthy: true},
		Bars:   stubPinger{},
	}, zerolog.Nop())

	rec, body := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	bars, ok := body["bars"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, bars["healthy"])

	srv = NewServer(DefaultServerConfig(), Sources{
		Health: stubHealth{healthy: true},
		Bars:   stubPinger{err: errors.New("dial tcp: connection refused")},
	}, zerolog.Nop())

	rec, body = get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	bars, ok = body["bars"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, bars["healthy"])
	assert.Equal(t, "dial tcp: connection refused", bars["error"])
}

func TestServer_Hysteresis(t *testing.T) {
	paper := engine.NewRunContext("paper", nil)
	live := engine.NewRunContext("live", nil)
	paper.Tracker.UpdateTargetState("MintA", 0.1, 0.3)

	srv := NewServer(DefaultServerConfig(), Sources{
		Runs: map[string]*engine.RunContext{"paper": paper, "live": live},
	}, zerolog.Nop())

	rec, body := get(t, srv.Handler(), "/debug/hysteresis?mode=paper")
	require.Equal(t, http.StatusOK, rec.Code)
	states := body["states"].(map[string]interface{})
	require.Contains(t, states, "MintA")
	state := states["MintA"].(map[string]interface{})
	assert.Equal(t, "dropping", state["kind"])

	rec, body = get(t, srv.Handler(), "/debug/hysteresis?mode=live")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["states"])

	rec, _ = get(t, srv.Handler(), "/debug/hysteresis")
	assert.Equal(t, http.StatusNotFound, rec.Code, "mode required with several contexts")
}

func TestServer_LastCycle(t *testing.T) {
	run := engine.NewRunContext("paper", nil)
	eng := engine.New(engine.Config{Universe: []engine.Asset{{Mint: "MintA"}}, ProbeLamports: 1},
		run, emptyStore{}, noPositions{}, passChecker{}, zerolog.Nop())

	srv := NewServer(DefaultServerConfig(), Sources{Runs: map[string]*engine.RunContext{"paper": run}}, zerolog.Nop())

	rec, _ := get(t, srv.Handler(), "/debug/cycle")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := eng.Cycle(context.Background())
	require.NoError(t, err)

	rec, body := get(t, srv.Handler(), "/debug/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, float64(1), body["evaluated"])
}

func TestServer_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.RecordWatchdogSweep("ok")

	srv := NewServer(DefaultServerConfig(), Sources{Metrics: reg.Handler()}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tradecore_watchdog_sweeps_total{status="ok"} 1`)
}

func TestServer_NotFound(t *testing.T) {
	srv := NewServer(DefaultServerConfig(), Sources{}, zerolog.Nop())

	rec, body := get(t, srv.Handler(), "/candidates")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", body["error"])
}
