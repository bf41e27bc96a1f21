// Package indicators wraps the channel-based cinar/indicator primitives in
// slice-in, value-out helpers sized for the classification pipeline. Missing
// or short input degrades to a neutral value instead of an error wherever a
// neutral value exists.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/rs/zerolog/log"
)

// NeutralRSI is returned when there is not enough data to compute RSI.
const NeutralRSI = 50.0

// Default MACD periods.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastOf(ch <-chan float64) (float64, bool) {
	var v float64
	ok := false
	for x := range ch {
		v = x
		ok = true
	}
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// lastOf2 drains two synchronized indicator channels in lockstep and
// returns the final pair. Draining one channel to completion before the
// other would deadlock the producer.
func lastOf2(a, b <-chan float64) (va, vb float64, ok bool) {
	for {
		x, xok := <-a
		y, yok := <-b
		if !xok || !yok {
			break
		}
		va, vb, ok = x, y, true
	}
	if !ok || math.IsNaN(va) || math.IsNaN(vb) {
		return 0, 0, false
	}
	return va, vb, true
}

func lastOf3(a, b, c <-chan float64) (va, vb, vc float64, ok bool) {
	for {
		x, xok := <-a
		y, yok := <-b
		z, zok := <-c
		if !xok || !yok || !zok {
			break
		}
		va, vb, vc, ok = x, y, z, true
	}
	if !ok || math.IsNaN(va) || math.IsNaN(vb) || math.IsNaN(vc) {
		return 0, 0, 0, false
	}
	return va, vb, vc, true
}

// RSI returns the latest RSI over period. Insufficient data yields the
// neutral 50.
func RSI(prices []float64, period int) float64 {
	if period < 1 || len(prices) <= period {
		log.Warn().Int("prices", len(prices)).Int("period", period).Msg("Not enough data for RSI, using neutral")
		return NeutralRSI
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	v, ok := lastOf(rsi.Compute(sliceToChan(prices)))
	if !ok {
		return NeutralRSI
	}
	return v
}

// EMA returns the latest exponential moving average over period, false when
// the input is too short.
func EMA(prices []float64, period int) (float64, bool) {
	if period < 1 || len(prices) < period {
		return 0, false
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return lastOf(ema.Compute(sliceToChan(prices)))
}

// MACD returns the latest MACD and signal line values with the standard
// 12/26/9 periods.
func MACD(prices []float64) (macdVal, signal float64, ok bool) {
	if len(prices) < MACDSlow+MACDSignal {
		return 0, 0, false
	}
	m := trend.NewMacdWithPeriod[float64](MACDFast, MACDSlow, MACDSignal)
	macdCh, signalCh := m.Compute(sliceToChan(prices))
	return lastOf2(macdCh, signalCh)
}

// Bollinger returns the latest band values over period, two standard
// deviations.
func Bollinger(prices []float64, period int) (upper, middle, lower float64, ok bool) {
	if period < 1 || len(prices) < period {
		return 0, 0, 0, false
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upperCh, middleCh, lowerCh := bb.Compute(sliceToChan(prices))
	uv, mv, lv, ok := lastOf3(upperCh, middleCh, lowerCh)
	return uv, mv, lv, ok
}

// ATR returns the latest Wilder-smoothed average true range.
func ATR(high, low, closing []float64, period int) (float64, bool) {
	n := len(closing)
	if period < 1 || n < period+1 || len(high) != n || len(low) != n {
		return 0, false
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closing[i-1]), math.Abs(low[i]-closing[i-1])))
		trs = append(trs, tr)
	}
	atr := avg(trs[:period])
	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}
	return atr, true
}

// Stochastic returns the latest %K and %D over the standard 14/3 windows.
func Stochastic(high, low, closing []float64) (k, d float64, ok bool) {
	const kPeriod, dPeriod = 14, 3
	n := len(closing)
	if n < kPeriod+dPeriod-1 || len(high) != n || len(low) != n {
		return 0, 0, false
	}
	ks := make([]float64, 0, n-kPeriod+1)
	for i := kPeriod - 1; i < n; i++ {
		hh, ll := high[i], low[i]
		for j := i - kPeriod + 1; j <= i; j++ {
			hh = math.Max(hh, high[j])
			ll = math.Min(ll, low[j])
		}
		if hh == ll {
			ks = append(ks, 50)
			continue
		}
		ks = append(ks, 100*(closing[i]-ll)/(hh-ll))
	}
	k = ks[len(ks)-1]
	d = avg(ks[len(ks)-dPeriod:])
	return k, d, true
}

// VolumeRatio compares the most recent volume to the average of the prior
// window. Values above 1 mean elevated participation. Returns 1 on short
// input.
func VolumeRatio(volumes []float64, window int) float64 {
	if window < 1 || len(volumes) <= window {
		return 1
	}
	recent := volumes[len(volumes)-1]
	prior := volumes[len(volumes)-1-window : len(volumes)-1]
	a := avg(prior)
	if a <= 0 {
		return 1
	}
	return recent / a
}
