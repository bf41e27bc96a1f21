package brains

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/exchange"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/state"
)

// seriesFromCloses builds a series with a fixed half-point range per bar.
func seriesFromCloses(closes []float64) exchange.Series {
	out := make(exchange.Series, len(closes))
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = exchange.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   100,
		}
	}
	return out
}

func risingCloses(n int, start float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func choppyCloses(n int, level float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
		if i%2 == 1 {
			out[i] = level + 2
		}
	}
	return out
}

func TestRegimeBrainTrendingBasket(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewMarketRegimeBrain(zerolog.Nop(), sys)

	data := MarketData{
		"BTCUSDT": {"1h": seriesFromCloses(risingCloses(60, 100))},
		"ETHUSDT": {"1h": seriesFromCloses(risingCloses(60, 50))},
	}
	require.NoError(t, b.Analyze(context.Background(), data))

	regime := sys.Regime()
	assert.Equal(t, marketstate.TrendUp, regime.Trend)
	assert.Equal(t, marketstate.SentimentRiskOn, regime.Sentiment)
	assert.False(t, regime.Degraded())
	assert.InDelta(t, 1.0, regime.Confidence, 0.01)
}

func TestRegimeBrainNoDataKeepsPriorSlice(t *testing.T) {
	sys := state.New(zerolog.Nop())
	prior := marketstate.Regime{Trend: marketstate.TrendRange, Volatility: marketstate.VolatilityNormal, Confidence: 0.6}
	sys.SetRegime(prior)

	b := NewMarketRegimeBrain(zerolog.Nop(), sys)
	err := b.Analyze(context.Background(), MarketData{"BTCUSDT": {"1h": nil}})
	require.Error(t, err)
	assert.Equal(t, prior, sys.Regime())
}

func TestExposureBrainFoldsPortfolio(t *testing.T) {
	sys := state.New(zerolog.Nop())
	book := state.PortfolioState{Positions: []state.PositionSnapshot{
		{Symbol: "BTCUSDT", Long: true, SizeUSD: 300, EntryState: marketstate.StateImpulse},
		{Symbol: "ETHUSDT", Long: false, SizeUSD: 200, EntryState: marketstate.StateAcceptance},
	}, UsedRiskUSD: 50}
	book.Aggregate()
	sys.SetPortfolio(book)

	b := NewRiskExposureBrain(zerolog.Nop(), sys, 10000)
	require.NoError(t, b.Analyze(context.Background()))

	exp := sys.Exposure()
	assert.Equal(t, 500.0, exp.TotalExposureUSD)
	assert.Equal(t, 300.0, exp.LongExposureUSD)
	assert.Equal(t, 200.0, exp.ShortExposureUSD)
	assert.Equal(t, 50.0, exp.UsedRiskUSD)
	assert.Equal(t, 10000.0, exp.RiskBudgetUSD)

	require.NoError(t, b.HealthCheck(context.Background()))
	require.NoError(t, b.ValidateData(context.Background()))
}

func TestExposureBrainHealthCheckRejectsBadBudget(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewRiskExposureBrain(zerolog.Nop(), sys, 0)
	require.Error(t, b.HealthCheck(context.Background()))
}

func TestExposureBrainHealthCheckRejectsStaleSlice(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewRiskExposureBrain(zerolog.Nop(), sys, 10000)
	require.NoError(t, b.Analyze(context.Background()))

	b.now = func() time.Time { return time.Now().Add(exposureMaxAge + time.Minute) }
	require.Error(t, b.HealthCheck(context.Background()))
}

func TestExposureBrainValidateDataCatchesDivergence(t *testing.T) {
	sys := state.New(zerolog.Nop())
	sys.SetExposure(state.RiskExposure{TotalExposureUSD: 100, LongExposureUSD: 80, ShortExposureUSD: 10})

	b := NewRiskExposureBrain(zerolog.Nop(), sys, 10000)
	err := b.ValidateData(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverge")
}

func TestCognitiveBrainBlendsRecentSignals(t *testing.T) {
	sys := state.New(zerolog.Nop())
	sys.SetRegime(marketstate.Regime{Trend: marketstate.TrendUp, Confidence: 0.5})
	for i := 0; i < 4; i++ {
		sys.PushRecentSignal(state.RecentSignal{Symbol: "BTCUSDT", Confidence: 0.8, Entropy: 0.2})
	}

	b := NewCognitiveBrain(zerolog.Nop(), sys)
	require.NoError(t, b.Analyze(context.Background()))

	cog := sys.Cognitive()
	assert.InDelta(t, 0.75, cog.Confidence, 0.001)
	assert.InDelta(t, 0.25, cog.Entropy, 0.001)
}

func TestCognitiveBrainColdStartFallsBackToRegime(t *testing.T) {
	sys := state.New(zerolog.Nop())
	sys.SetRegime(marketstate.Regime{Trend: marketstate.TrendUp, Confidence: 0.6})

	b := NewCognitiveBrain(zerolog.Nop(), sys)
	require.NoError(t, b.Analyze(context.Background()))

	cog := sys.Cognitive()
	// recent term falls back to regime confidence: 0.5*0.6 + 0.3*0.6 + 0.2*1.
	assert.InDelta(t, 0.68, cog.Confidence, 0.001)
}

func TestCognitiveBrainErrorsRaiseEntropy(t *testing.T) {
	sys := state.New(zerolog.Nop())
	sys.SetRegime(marketstate.Regime{Trend: marketstate.TrendUp, Confidence: 0.6})

	b := NewCognitiveBrain(zerolog.Nop(), sys)
	require.NoError(t, b.Analyze(context.Background()))
	calm := sys.Cognitive()

	for i := 0; i < 3; i++ {
		sys.RecordError()
	}
	require.NoError(t, b.Analyze(context.Background()))
	stressed := sys.Cognitive()

	assert.Greater(t, stressed.Entropy, calm.Entropy)
	assert.Less(t, stressed.Confidence, calm.Confidence)
}

func TestCognitiveBrainSetDriftPreservesMetrics(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewCognitiveBrain(zerolog.Nop(), sys)
	require.NoError(t, b.Analyze(context.Background()))
	before := sys.Cognitive()

	b.SetDrift("MEDIUM")
	after := sys.Cognitive()
	assert.Equal(t, "MEDIUM", after.DriftLevel)
	assert.Equal(t, before.Confidence, after.Confidence)
	assert.Equal(t, before.Entropy, after.Entropy)
}

func TestOpportunityBrainScoresTrendingSymbol(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewOpportunityBrain(zerolog.Nop(), sys)

	data := MarketData{"BTCUSDT": {"15m": seriesFromCloses(risingCloses(60, 100))}}
	require.NoError(t, b.Analyze(context.Background(), data))

	opps := sys.Opportunities()
	require.Contains(t, opps, "BTCUSDT")
	opp := opps["BTCUSDT"]
	assert.Equal(t, marketstate.DirectionUp, opp.Direction)
	assert.Greater(t, opp.Score, 0.4)
}

func TestOpportunityBrainSkipsShortSeries(t *testing.T) {
	sys := state.New(zerolog.Nop())
	b := NewOpportunityBrain(zerolog.Nop(), sys)

	err := b.Analyze(context.Background(), MarketData{"BTCUSDT": {"15m": seriesFromCloses(risingCloses(5, 100))}})
	require.Error(t, err)
	assert.Empty(t, sys.Opportunities())
}

func TestCorrelationMatrix(t *testing.T) {
	sys := state.New(zerolog.Nop())
	c := NewCorrelationAnalyzer(zerolog.Nop(), sys)

	inPhase := make([]float64, 40)
	antiPhase := make([]float64, 40)
	for i := range inPhase {
		inPhase[i] = 100
		antiPhase[i] = 101
		if i%2 == 1 {
			inPhase[i] = 101
			antiPhase[i] = 100
		}
	}
	data := MarketData{
		"AAAUSDT": {"15m": seriesFromCloses(inPhase)},
		"BBBUSDT": {"15m": seriesFromCloses(inPhase)},
		"CCCUSDT": {"15m": seriesFromCloses(antiPhase)},
	}
	require.NoError(t, c.Analyze(context.Background(), data))

	assert.InDelta(t, 1.0, sys.Correlation("AAAUSDT", "BBBUSDT"), 0.01)
	assert.InDelta(t, -1.0, sys.Correlation("AAAUSDT", "CCCUSDT"), 0.01)
	assert.Equal(t, 1.0, sys.Correlation("AAAUSDT", "AAAUSDT"))
	assert.NotZero(t, sys.MarketCorrelation("AAAUSDT"))
}

func TestCorrelationNoDataKeepsPriorMatrix(t *testing.T) {
	sys := state.New(zerolog.Nop())
	sys.SetCorrelations(map[string]map[string]float64{"BTCUSDT": {"MARKET": 0.9}})

	c := NewCorrelationAnalyzer(zerolog.Nop(), sys)
	require.Error(t, c.Analyze(context.Background(), MarketData{}))
	assert.Equal(t, 0.9, sys.MarketCorrelation("BTCUSDT"))
}

func TestClassifyImpulseUp(t *testing.T) {
	read, ok := Classify(seriesFromCloses(risingCloses(60, 100)))
	require.True(t, ok)
	assert.Equal(t, marketstate.StateImpulse, read.State)
	assert.Equal(t, marketstate.DirectionUp, read.Direction)
}

func TestClassifyRejectionAfterFailedBreakout(t *testing.T) {
	closes := choppyCloses(60, 100)
	series := seriesFromCloses(closes)
	last := &series[len(series)-1]
	last.Open = 102
	last.High = 106
	last.Low = 99.5
	last.Close = 100

	read, ok := Classify(series)
	require.True(t, ok)
	assert.Equal(t, marketstate.StateRejection, read.State)
	assert.Equal(t, marketstate.DirectionDown, read.Direction)
}

func TestClassifyAcceptanceInQuietRange(t *testing.T) {
	read, ok := Classify(seriesFromCloses(choppyCloses(60, 100)))
	require.True(t, ok)
	assert.Equal(t, marketstate.StateAcceptance, read.State)
}

func TestClassifyLossOfControlOnVolumeSpike(t *testing.T) {
	series := seriesFromCloses(choppyCloses(60, 100))
	series[len(series)-1].Volume = 1000

	read, ok := Classify(series)
	require.True(t, ok)
	assert.Equal(t, marketstate.StateLossOfControl, read.State)
}

func TestClassifyTooShort(t *testing.T) {
	_, ok := Classify(seriesFromCloses(risingCloses(10, 100)))
	assert.False(t, ok)
}

func TestRunBoundedTimeout(t *testing.T) {
	err := RunBounded(context.Background(), zerolog.Nop(), "slow", 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunBoundedPanicRecovery(t *testing.T) {
	err := RunBounded(context.Background(), zerolog.Nop(), "crashy", time.Second, func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRunBoundedPassesThroughError(t *testing.T) {
	sentinel := errors.New("analysis failed")
	err := RunBounded(context.Background(), zerolog.Nop(), "failing", time.Second, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
