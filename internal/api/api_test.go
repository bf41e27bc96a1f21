package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/paper"
	"github.com/marketvigil/vigil/internal/state"
)

func newServerForTest(t *testing.T) (*Server, *state.SystemState, *fsm.Machine, *paper.Ledger) {
	t.Helper()
	log := zerolog.Nop()
	sys := state.New(log)
	machine := fsm.New(log, fsm.DefaultConfig(), sys)
	registry := guardian.NewModuleRegistry(log)
	guard := guardian.New(log, registry, machine, sys)
	ledger := paper.NewLedger(log, sys, nil, 10000)

	srv := NewServer(Config{
		Host:     "127.0.0.1",
		Port:     0,
		Sys:      sys,
		Machine:  machine,
		Guardian: guard,
		Ledger:   ledger,
	})
	return srv, sys, machine, ledger
}

func getJSON(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return rec.Code, body
}

func TestHealthzRunning(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	sys.Heartbeat()

	code, body := getJSON(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "RUNNING", body["fsm_state"])
}

func TestHealthzFatal(t *testing.T) {
	srv, sys, machine, _ := newServerForTest(t)
	sys.Heartbeat()

	require.True(t, machine.TransitionTo(fsm.StateFatal, "unrecoverable", "test", nil))

	code, body := getJSON(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "fatal", body["status"])
}

func TestStatusReportsPerformance(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	sys.RecordCycle(80*time.Millisecond, 2, 1, 0)

	code, body := getJSON(t, srv, "/api/v1/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "RUNNING", body["status"])

	perf, ok := body["performance"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), perf["cycles_total"])
	assert.Equal(t, float64(2), perf["signals_emitted"])
	assert.Equal(t, float64(1), perf["signals_blocked"])
}

func TestFSMAndTransitions(t *testing.T) {
	srv, _, machine, _ := newServerForTest(t)
	require.True(t, machine.TransitionTo(fsm.StateDegraded, "fetch failures", "cycle_loop", nil))

	code, body := getJSON(t, srv, "/api/v1/fsm")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DEGRADED", body["state"])

	code, body = getJSON(t, srv, "/api/v1/fsm/transitions")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	transitions, ok := body["transitions"].([]any)
	require.True(t, ok)
	first := transitions[0].(map[string]any)
	assert.Equal(t, "RUNNING", first["from"])
	assert.Equal(t, "DEGRADED", first["to"])
	assert.Equal(t, "fetch failures", first["reason"])
}

func TestRegimeView(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	sys.SetRegime(marketstate.Regime{
		Trend:      marketstate.TrendUp,
		Volatility: marketstate.VolatilityNormal,
		Sentiment:  marketstate.SentimentRiskOn,
		Confidence: 0.8,
	})

	code, body := getJSON(t, srv, "/api/v1/state/regime")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "TREND_UP", body["trend"])
	assert.Equal(t, "NORMAL", body["volatility"])
	assert.Equal(t, "RISK_ON", body["sentiment"])
	assert.Equal(t, 0.8, body["confidence"])
	assert.Equal(t, false, body["degraded"])
}

func TestExposureView(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	sys.SetExposure(state.RiskExposure{
		TotalExposureUSD: 500,
		LongExposureUSD:  300,
		ShortExposureUSD: 200,
		RiskBudgetUSD:    1000,
		UsedRiskUSD:      500,
		UpdatedAt:        time.Now(),
	})

	code, body := getJSON(t, srv, "/api/v1/state/exposure")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(500), body["total_exposure_usd"])
	assert.Equal(t, 0.5, body["used_ratio"])
}

func TestOpportunitiesSortedByScore(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	sys.SetOpportunity(state.Opportunity{Symbol: "ETHUSDT", Score: 0.4, Direction: marketstate.DirectionUp})
	sys.SetOpportunity(state.Opportunity{Symbol: "BTCUSDT", Score: 0.9, Direction: marketstate.DirectionUp})

	code, body := getJSON(t, srv, "/api/v1/state/opportunities")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	opps := body["opportunities"].([]any)
	first := opps[0].(map[string]any)
	assert.Equal(t, "BTCUSDT", first["symbol"])
	assert.Equal(t, 0.9, first["score"])
}

func TestGateView(t *testing.T) {
	srv, _, _, _ := newServerForTest(t)

	// The fixture attaches no critical modules, so the guardian fails
	// closed and names the first missing one.
	code, body := getJSON(t, srv, "/api/v1/gate")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "decision_core", body["blocked_by"])
	assert.Contains(t, body["reason"], "not attached")
}

func TestPositionsAndTrades(t *testing.T) {
	srv, _, _, ledger := newServerForTest(t)

	require.NoError(t, ledger.Open(context.Background(), state.PositionSnapshot{
		Symbol:      "BTCUSDT",
		Long:        true,
		SizeUSD:     100,
		EntryPrice:  50000,
		StopPrice:   49000,
		TargetPrice: 52000,
		Leverage:    3,
		EntryState:  marketstate.StateRejection,
		Confidence:  0.7,
		Entropy:     0.2,
		OpenedAt:    time.Now(),
	}))

	code, body := getJSON(t, srv, "/api/v1/positions")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	pos := body["positions"].([]any)[0].(map[string]any)
	assert.Equal(t, "BTCUSDT", pos["symbol"])
	assert.Equal(t, "LONG", pos["side"])
	assert.Equal(t, "D", pos["entry_state"])

	// Close at target and check the trades view.
	_, closed := ledger.Mark(context.Background(), "BTCUSDT", 52100)
	require.True(t, closed)

	code, body = getJSON(t, srv, "/api/v1/trades")
	assert.Equal(t, http.StatusOK, code)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["closed"])
	assert.Equal(t, float64(1), summary["wins"])

	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, paper.CloseTarget, trades[0].(map[string]any)["close_reason"])
}

func TestRecentSignalsLimit(t *testing.T) {
	srv, sys, _, _ := newServerForTest(t)
	for i := 0; i < 5; i++ {
		sys.PushRecentSignal(state.RecentSignal{
			Timestamp: time.Now(),
			Symbol:    "BTCUSDT",
			State:     marketstate.StateImpulse,
			Decision:  "OBSERVE",
			Score:     6,
		})
	}

	code, body := getJSON(t, srv, "/api/v1/signals/recent?limit=3")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["count"])

	sig := body["signals"].([]any)[0].(map[string]any)
	assert.Equal(t, "A", sig["state"])
	assert.Equal(t, "OBSERVE", sig["decision"])
}
