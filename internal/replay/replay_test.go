package replay

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/snapshot"
)

func testConfig() Config {
	return Config{
		BalanceUSD:        10000,
		InitialBalanceUSD: 10000,
		BaseRiskPct:       2.0,
		RiskBudgetUSD:     10000,
	}
}

func makeRecord(t *testing.T, mutate func(*snapshot.Params)) snapshot.Record {
	t.Helper()
	p := snapshot.Params{
		Timestamp:       time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
		Symbol:          "BTCUSDT",
		AnchorTimeframe: "15m",
		States: map[string]marketstate.State{
			"1h":  marketstate.StateAcceptance,
			"15m": marketstate.StateRejection,
			"5m":  marketstate.StateRejection,
		},
		Regime: marketstate.Regime{
			Trend:      marketstate.TrendUp,
			Volatility: marketstate.VolatilityNormal,
			Confidence: 0.8,
		},
		Volatility: marketstate.VolatilityNormal,
		Score:      85,
		ScoreMax:   100,
		Confidence: 0.7,
		Entropy:    0.25,
		Risk:       marketstate.RiskMedium,
		Entry:      50000,
		TakeProfit: 52000,
		StopLoss:   49000,
		Decision:   snapshot.DecisionEnter,
	}
	if mutate != nil {
		mutate(&p)
	}
	snap, err := snapshot.New(p)
	require.NoError(t, err)
	return snap.ToRecord()
}

func TestReplayHappyPathAgrees(t *testing.T) {
	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{makeRecord(t, nil)})

	require.Equal(t, 1, rep.Total)
	assert.Equal(t, 1, rep.Emitted)
	assert.Equal(t, 0, rep.Changed)

	res := rep.Results[0]
	assert.True(t, res.Emitted)
	assert.Greater(t, res.FinalSizeUSD, 0.0)
	assert.False(t, res.Changed)
}

func TestReplayScratchChainClearsGuardian(t *testing.T) {
	// The scratch chain attaches the four CRITICAL modules; a clean record
	// must get past the guardian to the substantive validators.
	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{makeRecord(t, nil)})

	require.Len(t, rep.Results, 1)
	assert.NotEqual(t, "system_guardian", rep.Results[0].BlockedBy)
	assert.Zero(t, rep.ByStage["system_guardian"])
}

func TestReplayDisagreementIsCounted(t *testing.T) {
	// Recorded as ENTER, but today's meta brain hard-blocks this cognitive
	// picture.
	rec := makeRecord(t, func(p *snapshot.Params) {
		p.Confidence = 0.3
		p.Entropy = 0.8
	})

	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{rec})

	require.Equal(t, 1, rep.Blocked)
	assert.Equal(t, 1, rep.Changed)
	assert.Equal(t, 1, rep.ByStage["meta_decision_brain"])

	res := rep.Results[0]
	assert.Equal(t, "meta_decision_brain", res.BlockedBy)
	assert.True(t, res.Changed)
}

func TestReplayBlockedRecordAgreeing(t *testing.T) {
	rec := makeRecord(t, func(p *snapshot.Params) {
		p.Confidence = 0.3
		p.Entropy = 0.8
		p.Decision = snapshot.DecisionBlock
	})

	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{rec})

	require.Equal(t, 1, rep.Blocked)
	assert.Equal(t, 0, rep.Changed)
}

func TestReplayParseFailure(t *testing.T) {
	rec := makeRecord(t, nil)
	rec.Confidence = 5 // out of range, snapshot construction rejects it

	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{rec})

	require.Equal(t, 1, rep.ParseFails)
	assert.NotEmpty(t, rep.Results[0].ParseError)
	// A recorded ENTER that cannot even be reconstructed counts as changed.
	assert.Equal(t, 1, rep.Changed)
}

func TestReplayCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(ctx, []snapshot.Record{makeRecord(t, nil), makeRecord(t, nil)})

	assert.Equal(t, 0, rep.Total)
}

func TestReportRender(t *testing.T) {
	e := NewEngine(zerolog.Nop(), testConfig())
	rep := e.Run(context.Background(), []snapshot.Record{
		makeRecord(t, nil),
		makeRecord(t, func(p *snapshot.Params) {
			p.Confidence = 0.3
			p.Entropy = 0.8
		}),
	})

	out := rep.Render()
	assert.Contains(t, out, "replayed 2 records")
	assert.Contains(t, out, "meta_decision_brain")
}
