package brains

import (
	"github.com/marketvigil/vigil/internal/exchange"
	"github.com/marketvigil/vigil/internal/indicators"
	"github.com/marketvigil/vigil/internal/marketstate"
)

// Classification thresholds. Rejection is recognized from the last bar alone
// (traded beyond a band, closed back inside); loss of control from range
// expansion with no directional conviction.
const (
	classifyMinBars    = 30
	classifyBollPeriod = 20
	classifyATRPeriod  = 14
	classifyRSIPeriod  = 14
	classifyChaosATR   = 0.03
	classifyChaosVol   = 2.5
)

// Read is one timeframe's classified view of an instrument.
type Read struct {
	State     marketstate.State
	Direction marketstate.Direction
}

// Classify maps a single-timeframe series onto the four-state regime model.
// Returns false when the series is too short to classify; the caller treats
// that timeframe as absent.
//
// Priority when rules overlap: rejection beats impulse (a failed breakout is
// the more actionable read), chaos beats both.
func Classify(series exchange.Series) (Read, bool) {
	if len(series) < classifyMinBars {
		return Read{}, false
	}
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()

	upper, _, lower, okB := indicators.Bollinger(closes, classifyBollPeriod)
	atr, okA := indicators.ATR(highs, lows, closes, classifyATRPeriod)
	if !okB || !okA {
		return Read{}, false
	}
	adx, _ := indicators.ADX(highs, lows, closes, classifyATRPeriod)
	rsi := indicators.RSI(closes, classifyRSIPeriod)
	volRatio := indicators.VolumeRatio(series.Volumes(), classifyBollPeriod)
	last := series[len(series)-1]

	dir := direction(closes)

	// Loss of control: violent range expansion without a directional read.
	chaosRange := last.Close > 0 && atr/last.Close >= classifyChaosATR
	chaosVolume := volRatio >= classifyChaosVol
	if (chaosRange || chaosVolume) && adx < indicators.ADXWeak {
		return Read{State: marketstate.StateLossOfControl, Direction: marketstate.DirectionFlat}, true
	}

	// Rejection: the bar traded beyond a band and closed back inside.
	if last.High > upper && last.Close < upper {
		return Read{State: marketstate.StateRejection, Direction: marketstate.DirectionDown}, true
	}
	if last.Low < lower && last.Close > lower {
		return Read{State: marketstate.StateRejection, Direction: marketstate.DirectionUp}, true
	}

	// Impulse: trending with momentum confirming the direction.
	if adx >= indicators.ADXWeak {
		if dir == marketstate.DirectionUp && rsi > indicators.NeutralRSI {
			return Read{State: marketstate.StateImpulse, Direction: marketstate.DirectionUp}, true
		}
		if dir == marketstate.DirectionDown && rsi < indicators.NeutralRSI {
			return Read{State: marketstate.StateImpulse, Direction: marketstate.DirectionDown}, true
		}
	}

	// Everything else is acceptance: price being absorbed inside the range.
	return Read{State: marketstate.StateAcceptance, Direction: dir}, true
}

func direction(closes []float64) marketstate.Direction {
	fast, okF := indicators.EMA(closes, regimeEMAFast)
	slow, okS := indicators.EMA(closes, regimeEMASlow)
	if !okF || !okS || slow == 0 {
		return marketstate.DirectionFlat
	}
	// Within 5bp of each other reads as flat.
	switch gap := (fast - slow) / slow; {
	case gap > 0.0005:
		return marketstate.DirectionUp
	case gap < -0.0005:
		return marketstate.DirectionDown
	default:
		return marketstate.DirectionFlat
	}
}
