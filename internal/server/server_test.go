package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/domain/eligibility"
	"github.com/sawpanic/tradegate/internal/domain/execalgo"
	"github.com/sawpanic/tradegate/internal/domain/safemode"
	"github.com/sawpanic/tradegate/internal/domain/slippage"
	"github.com/sawpanic/tradegate/internal/domain/trade"
	"github.com/sawpanic/tradegate/internal/pipeline"
)

func newTestServer(t *testing.T) (*Server, *slippage.Tracker) {
	t.Helper()

	tracker := slippage.NewTracker(slippage.DefaultConfig(), nil)
	elig := eligibility.DefaultConfig()
	p := &pipeline.Pipeline{
		EligibilityCfg: &elig,
		Slippage:       tracker,
		Planner:        execalgo.NewPlanner(execalgo.DefaultConfig()),
	}
	deps := Deps{
		Pipeline: p,
		SafeMode: safemode.NewMonitor(safemode.DefaultConfig(), nil, nil),
		Slippage: tracker,
		Registry: prometheus.NewRegistry(),
	}
	return New(":0", deps), tracker
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStateEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/state/safe_mode", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/state/nonsense", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Configured in Deps but nil: 404, not a crash.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/state/throttle", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := trade.Request{
		Symbol:     "BTC-USD",
		Side:       trade.Buy,
		Qty:        10,
		Strategy:   "momentum_core",
		Regime:     trade.RegimeDirectionalExpansion,
		Confidence: 80,
		Quote:      trade.Quote{Bid: 99.99, Ask: 100.01},
		Timestamp:  time.Date(2026, 8, 31, 16, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/evaluate", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var sig pipeline.Signal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sig))
	assert.Equal(t, "BTC-USD", sig.Symbol)
	assert.Equal(t, trade.ActionAllow, sig.Action)
	assert.NotEmpty(t, sig.ID)
}

func TestEvaluateRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/evaluate", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFillEndpointFeedsMonitors(t *testing.T) {
	s, tracker := newTestServer(t)

	rep := pipeline.FillReport{
		Symbol:        "BTC-USD",
		Side:          trade.Buy,
		Qty:           10,
		ExpectedPrice: 100,
		FillPrice:     100.10,
	}
	body, err := json.Marshal(rep)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/fill", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var out pipeline.FillOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Slippage)
	assert.InDelta(t, 10, out.Slippage.SlippageBps, 0.01)

	// The tracker accumulated the cost: 10bps on a $1000 notional.
	assert.InDelta(t, 1, tracker.Snapshot().DailyUSD, 0.01)
}

func TestFillRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/fill", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeClearsKillSwitch(t *testing.T) {
	s, tracker := newTestServer(t)
	tracker.RecordFill(slippage.FillCost{
		Side: trade.Buy, ExpectedPrice: 100, FillPrice: 100.60, Qty: 10, Equity: 1_000_000,
	}, time.Now())
	paused, _ := tracker.Paused()
	require.True(t, paused)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/resume", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["was_paused"])

	paused, _ = tracker.Paused()
	assert.False(t, paused)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
