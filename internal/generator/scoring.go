package generator

import (
	"fmt"
	"sort"

	"github.com/marketvigil/vigil/internal/brains"
	"github.com/marketvigil/vigil/internal/marketstate"
)

// Mode is the per-symbol market mode derived from the scored reads. STOP
// suppresses the symbol for the whole cycle; the other modes still produce a
// snapshot so the decision chain (and the audit trail) sees every evaluation.
type Mode int

const (
	ModeStop Mode = iota
	ModeCaution
	ModeObserve
	ModeTrade
)

func (m Mode) String() string {
	switch m {
	case ModeTrade:
		return "TRADE"
	case ModeObserve:
		return "OBSERVE"
	case ModeCaution:
		return "CAUTION"
	default:
		return "STOP"
	}
}

// ScoreMax is the denominator of every symbol score.
const ScoreMax = 100

// Per-state base points. Rejection outscores impulse: a failed breakout on
// the anchor timeframe is the setup this engine is built around.
var statePoints = map[marketstate.State]int{
	marketstate.StateImpulse:       14,
	marketstate.StateAcceptance:    6,
	marketstate.StateLossOfControl: 0,
	marketstate.StateRejection:     18,
}

const (
	alignmentBonus   = 12 // all classified timeframes agree on direction
	anchorBonus      = 8  // anchor timeframe carries an actionable state
	diversifyBonus   = 10 // |market correlation| below corrDiversified
	crowdedPenalty   = 10 // |market correlation| above corrCrowded
	corrDiversified  = 0.4
	corrCrowded      = 0.85
	extremeVolVeto   = 20
	modeTradeFloor   = 60
	modeObserveFloor = 40
)

var volatilityPoints = map[marketstate.VolatilityLevel]int{
	marketstate.VolatilityLow:     4,
	marketstate.VolatilityNormal:  10,
	marketstate.VolatilityHigh:    0,
	marketstate.VolatilityExtreme: -extremeVolVeto,
}

// scoreSymbol aggregates per-timeframe reads into a single 0..ScoreMax score.
// Pure function: everything it needs arrives as arguments.
func scoreSymbol(reads map[string]brains.Read, anchorTF string, vol marketstate.VolatilityLevel, marketCorr float64) (int, []string) {
	score := 0
	details := make([]string, 0, len(reads)+3)

	tfs := make([]string, 0, len(reads))
	for tf := range reads {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)
	for _, tf := range tfs {
		r := reads[tf]
		pts := statePoints[r.State]
		score += pts
		details = append(details, fmt.Sprintf("%s=%s(%+d)", tf, r.State, pts))
	}

	if anchor, ok := reads[anchorTF]; ok {
		if anchor.State == marketstate.StateRejection || anchor.State == marketstate.StateImpulse {
			score += anchorBonus
			details = append(details, fmt.Sprintf("anchor %s actionable (%+d)", anchorTF, anchorBonus))
		}
	}

	if dir, aligned := alignedDirection(reads); aligned {
		score += alignmentBonus
		details = append(details, fmt.Sprintf("all timeframes %s (%+d)", dir, alignmentBonus))
	}

	if pts, ok := volatilityPoints[vol]; ok {
		score += pts
		details = append(details, fmt.Sprintf("volatility %s (%+d)", vol, pts))
	}

	abs := marketCorr
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs > 0 && abs < corrDiversified:
		score += diversifyBonus
		details = append(details, fmt.Sprintf("decorrelated from market (%+d)", diversifyBonus))
	case abs > corrCrowded:
		score -= crowdedPenalty
		details = append(details, fmt.Sprintf("crowded with market (%+d)", -crowdedPenalty))
	}

	if score < 0 {
		score = 0
	}
	if score > ScoreMax {
		score = ScoreMax
	}
	return score, details
}

// alignedDirection reports the shared direction when at least two timeframes
// are classified and none disagrees. FLAT reads neither confirm nor break
// alignment.
func alignedDirection(reads map[string]brains.Read) (marketstate.Direction, bool) {
	dir := marketstate.DirectionFlat
	classified := 0
	for _, r := range reads {
		classified++
		if r.Direction == marketstate.DirectionFlat {
			continue
		}
		if dir == marketstate.DirectionFlat {
			dir = r.Direction
			continue
		}
		if r.Direction != dir {
			return marketstate.DirectionFlat, false
		}
	}
	return dir, classified >= 2 && dir != marketstate.DirectionFlat
}

// marketMode collapses score, regime and volatility into a mode. STOP fires
// on conditions no score can buy back; CAUTION covers the readable-but-hostile
// band in between.
func marketMode(score int, regime marketstate.Regime, vol marketstate.VolatilityLevel, spiked bool) Mode {
	if vol == marketstate.VolatilityExtreme {
		return ModeStop
	}
	if regime.Degraded() && score < modeTradeFloor {
		return ModeStop
	}
	if spiked {
		return ModeCaution
	}
	if regime.Sentiment == marketstate.SentimentRiskOff && vol == marketstate.VolatilityHigh {
		return ModeCaution
	}
	switch {
	case score >= modeTradeFloor:
		return ModeTrade
	case score >= modeObserveFloor:
		return ModeObserve
	default:
		return ModeCaution
	}
}

// riskFor grades the environment the signal would trade into.
func riskFor(regime marketstate.Regime, vol marketstate.VolatilityLevel) marketstate.RiskLevel {
	if vol == marketstate.VolatilityHigh || vol == marketstate.VolatilityExtreme || regime.Sentiment == marketstate.SentimentRiskOff {
		return marketstate.RiskHigh
	}
	if vol == marketstate.VolatilityNormal && regime.Sentiment == marketstate.SentimentRiskOn {
		return marketstate.RiskLow
	}
	return marketstate.RiskMedium
}

var leverageByRisk = map[marketstate.RiskLevel]float64{
	marketstate.RiskLow:    3,
	marketstate.RiskMedium: 2,
	marketstate.RiskHigh:   1,
}

// adaptiveRR picks the reward-to-risk target the exit levels are built from.
// Aligned multi-timeframe structure earns a wider target; high volatility
// tightens it so the stop is reachable intraday.
func adaptiveRR(reads map[string]brains.Read, vol marketstate.VolatilityLevel) float64 {
	rr := 2.0
	if _, aligned := alignedDirection(reads); aligned {
		rr = 2.5
	}
	if vol == marketstate.VolatilityHigh {
		rr = 1.5
	}
	return rr
}
