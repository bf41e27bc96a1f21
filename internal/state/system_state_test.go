package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/marketstate"
)

func newTestState() *SystemState {
	return New(zerolog.Nop())
}

func TestIsNewSignalDeduplication(t *testing.T) {
	s := newTestState()

	// First observation is always new.
	assert.True(t, s.IsNewSignal("BTCUSDT", marketstate.StateRejection))
	// Same anchor state again is a duplicate.
	assert.False(t, s.IsNewSignal("BTCUSDT", marketstate.StateRejection))
	// State change re-arms.
	assert.True(t, s.IsNewSignal("BTCUSDT", marketstate.StateImpulse))
	// Other instruments are independent.
	assert.True(t, s.IsNewSignal("ETHUSDT", marketstate.StateRejection))
}

func TestRecentSignalsCap(t *testing.T) {
	s := newTestState()
	for i := 0; i < 75; i++ {
		s.PushRecentSignal(RecentSignal{Symbol: "BTCUSDT", Score: i})
	}
	all := s.RecentSignals(0)
	require.Len(t, all, 50)
	// Oldest retained entry is #25, newest is #74.
	assert.Equal(t, 25, all[0].Score)
	assert.Equal(t, 74, all[49].Score)

	last5 := s.RecentSignals(5)
	require.Len(t, last5, 5)
	assert.Equal(t, 70, last5[0].Score)
}

func TestPortfolioAggregation(t *testing.T) {
	s := newTestState()
	s.SetPortfolio(PortfolioState{
		RiskBudgetUSD: 1000,
		UsedRiskUSD:   400,
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Long: true, SizeUSD: 600, EntryPrice: 50000, EntryState: marketstate.StateImpulse, Confidence: 0.8, Entropy: 0.2},
			{Symbol: "ETHUSDT", Long: false, SizeUSD: 200, EntryPrice: 3000, EntryState: marketstate.StateImpulse, Confidence: 0.6, Entropy: 0.4},
			{Symbol: "SOLUSDT", Long: true, SizeUSD: 200, EntryPrice: 150, EntryState: marketstate.StateRejection, Confidence: 0.7, Entropy: 0.3},
		},
	})

	p := s.Portfolio()
	assert.InDelta(t, 1000.0, p.TotalExposure, 1e-9)
	assert.InDelta(t, 800.0, p.LongExposure, 1e-9)
	assert.InDelta(t, 200.0, p.ShortExposure, 1e-9)
	assert.InDelta(t, 600.0, p.NetExposure, 1e-9)
	assert.InDelta(t, 0.7, p.AvgConfidence(), 1e-9)

	dominant, share := p.DominantState()
	assert.Equal(t, marketstate.StateImpulse, dominant)
	assert.InDelta(t, 0.8, share, 1e-9)
}

func TestSetPortfolioDropsInvalidPositions(t *testing.T) {
	s := newTestState()
	s.SetPortfolio(PortfolioState{
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", SizeUSD: 100, Confidence: 0.5},
			{Symbol: "BAD", SizeUSD: -5, Confidence: 0.5},
			{Symbol: "WORSE", SizeUSD: 10, Confidence: 1.5},
		},
	})
	p := s.Portfolio()
	require.Len(t, p.Positions, 1)
	assert.Equal(t, "BTCUSDT", p.Positions[0].Symbol)
}

func TestErrorCounter(t *testing.T) {
	s := newTestState()
	assert.Equal(t, 1, s.RecordError())
	assert.Equal(t, 2, s.RecordError())
	s.ResetErrors()
	assert.Equal(t, 0, s.ConsecutiveErrors())
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestState()
	s.SetPortfolio(PortfolioState{
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Long: true, SizeUSD: 500, EntryPrice: 50000, EntryState: marketstate.StateRejection, Confidence: 0.7, Entropy: 0.3, OpenedAt: time.Now().Truncate(time.Second)},
		},
	})
	for i := 0; i < 30; i++ {
		s.PushRecentSignal(RecentSignal{Symbol: "BTCUSDT", State: marketstate.StateRejection, Decision: "ENTER", Score: i})
	}
	require.True(t, s.IsNewSignal("BTCUSDT", marketstate.StateRejection))
	s.RecordCycle(time.Second, 1, 0, 0)
	// Ephemeral slices populated but not persisted.
	s.SetRegime(marketstate.Regime{Trend: marketstate.TrendUp, Confidence: 0.9})
	s.SetCognitive(CognitiveState{Confidence: 0.8, Entropy: 0.1})

	cp := s.CreateCheckpoint()
	assert.Len(t, cp.RecentSignals, 20) // capped at last 20
	assert.Len(t, cp.OpenPositions, 1)
	assert.Equal(t, "D", cp.SignalCache["BTCUSDT"])

	restored := Restore(zerolog.Nop(), cp)

	// Persisted fields reproduced.
	p := restored.Portfolio()
	require.Len(t, p.Positions, 1)
	assert.Equal(t, marketstate.StateRejection, p.Positions[0].EntryState)
	assert.Equal(t, int64(1), restored.Perf().CyclesTotal)
	assert.Len(t, restored.RecentSignals(0), 20)
	// Dedup cache survives: same anchor state is still a duplicate.
	assert.False(t, restored.IsNewSignal("BTCUSDT", marketstate.StateRejection))

	// Ephemeral fields remain empty.
	assert.Equal(t, marketstate.TrendUnknown, restored.Regime().Trend)
	assert.Zero(t, restored.Cognitive().Confidence)
	assert.Empty(t, restored.Opportunities())
}
