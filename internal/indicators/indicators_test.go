package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingPrices(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestRSINeutralOnShortInput(t *testing.T) {
	assert.Equal(t, NeutralRSI, RSI(nil, 14))
	assert.Equal(t, NeutralRSI, RSI([]float64{1, 2, 3}, 14))
}

func TestRSIRisingMarket(t *testing.T) {
	rsi := RSI(risingPrices(50), 14)
	assert.Greater(t, rsi, 70.0, "monotone rise should read overbought")
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestEMAFollowsTrend(t *testing.T) {
	ema, ok := EMA(risingPrices(50), 10)
	require.True(t, ok)
	assert.Greater(t, ema, 130.0)
	assert.Less(t, ema, 150.0)

	_, ok = EMA([]float64{1, 2}, 10)
	assert.False(t, ok)
}

func TestMACDPositiveInUptrend(t *testing.T) {
	macdVal, signal, ok := MACD(risingPrices(80))
	require.True(t, ok)
	assert.Greater(t, macdVal, 0.0)
	assert.Greater(t, signal, 0.0)
}

func TestMACDShortInput(t *testing.T) {
	_, _, ok := MACD(risingPrices(10))
	assert.False(t, ok)
}

func TestBollingerOrdering(t *testing.T) {
	upper, middle, lower, ok := Bollinger(risingPrices(40), 20)
	require.True(t, ok)
	assert.Greater(t, upper, middle)
	assert.Greater(t, middle, lower)
}

func TestATRConstantRange(t *testing.T) {
	n := 30
	high := make([]float64, n)
	low := make([]float64, n)
	closing := make([]float64, n)
	for i := 0; i < n; i++ {
		closing[i] = 100
		high[i] = 101
		low[i] = 99
	}
	atr, ok := ATR(high, low, closing, 14)
	require.True(t, ok)
	assert.InDelta(t, 2.0, atr, 1e-9)
}

func TestADXStrongTrend(t *testing.T) {
	n := 60
	high := make([]float64, n)
	low := make([]float64, n)
	closing := make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)*2
		low[i] = base - 1
		high[i] = base + 1
		closing[i] = base
	}
	adx, ok := ADX(high, low, closing, 14)
	require.True(t, ok)
	assert.Greater(t, adx, ADXWeak, "steady directional move should trend strongly")
}

func TestStochasticTopOfRange(t *testing.T) {
	prices := risingPrices(30)
	high := make([]float64, len(prices))
	low := make([]float64, len(prices))
	for i, p := range prices {
		high[i] = p + 0.5
		low[i] = p - 0.5
	}
	k, d, ok := Stochastic(high, low, prices)
	require.True(t, ok)
	assert.Greater(t, k, 80.0)
	assert.Greater(t, d, 80.0)
	assert.False(t, math.IsNaN(k))
}

func TestVolumeRatio(t *testing.T) {
	vols := []float64{100, 100, 100, 100, 300}
	assert.InDelta(t, 3.0, VolumeRatio(vols, 4), 1e-9)
	assert.Equal(t, 1.0, VolumeRatio([]float64{5}, 4))
}
