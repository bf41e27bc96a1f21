package indicators

import "math"

// ADX trend strength tiers.
const (
	ADXWeak       = 25.0
	ADXVeryStrong = 50.0
)

// ADX returns the latest average directional index. cinar/indicator v2 has
// no ADX, so the smoothing is implemented here.
func ADX(high, low, closing []float64, period int) (float64, bool) {
	n := len(closing)
	if period < 1 || n < period*2 || len(high) != n || len(low) != n {
		return 0, false
	}

	trs := make([]float64, 0, n-1)
	plusDMs := make([]float64, 0, n-1)
	minusDMs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closing[i-1]), math.Abs(low[i]-closing[i-1])))
		trs = append(trs, tr)

		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		plusDMs = append(plusDMs, plusDM)
		minusDMs = append(minusDMs, minusDM)
	}

	smoothedTR := sum(trs[:period])
	smoothedPlus := sum(plusDMs[:period])
	smoothedMinus := sum(minusDMs[:period])

	var dxs []float64
	for i := period; i < len(trs); i++ {
		smoothedTR = smoothedTR - smoothedTR/float64(period) + trs[i]
		smoothedPlus = smoothedPlus - smoothedPlus/float64(period) + plusDMs[i]
		smoothedMinus = smoothedMinus - smoothedMinus/float64(period) + minusDMs[i]
		if smoothedTR == 0 {
			continue
		}
		plusDI := 100 * smoothedPlus / smoothedTR
		minusDI := 100 * smoothedMinus / smoothedTR
		if plusDI+minusDI == 0 {
			continue
		}
		dxs = append(dxs, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}
	if len(dxs) == 0 {
		return 0, false
	}

	// Wilder smoothing of DX into ADX.
	first := period
	if len(dxs) < first {
		first = len(dxs)
	}
	adx := avg(dxs[:first])
	for i := period; i < len(dxs); i++ {
		adx = (adx*float64(period-1) + dxs[i]) / float64(period)
	}
	return adx, true
}

func sum(v []float64) float64 {
	t := 0.0
	for _, x := range v {
		t += x
	}
	return t
}

func avg(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}
