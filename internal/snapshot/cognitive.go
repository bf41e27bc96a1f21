package snapshot

import (
	"github.com/marketvigil/vigil/internal/marketstate"
)

// Cognitive metrics are meta-estimates of the system's own conviction,
// computed from an already-built snapshot. They are not market quantities.

// Confidence scores how internally consistent the snapshot is, in [0,1].
// Weights: state consistency 0.30, score ratio 0.25, decision/risk alignment
// 0.20, absence of conflicts 0.15, regime volatility bonus 0.10.
func Confidence(s *Snapshot) float64 {
	consistency := stateConsistency(s)
	scoreRatio := s.ScorePct()
	alignment := decisionRiskAlignment(s)
	conflicts := conflictScore(s)
	volBonus := regimeVolatilityBonus(s)

	c := 0.30*consistency + 0.25*scoreRatio + 0.20*alignment + 0.15*(1-conflicts) + 0.10*volBonus
	return clamp01(c)
}

// Entropy scores how disordered the snapshot is, in [0,1]. Weights: state
// dispersion 0.40, score/decision conflict 0.30, volatility term 0.20,
// regime uncertainty 0.10.
func Entropy(s *Snapshot) float64 {
	dispersion := 1 - stateConsistency(s)
	conflict := conflictScore(s)
	volTerm := volatilityTerm(s)
	regimeUncertainty := 1 - s.Regime().Confidence

	e := 0.40*dispersion + 0.30*conflict + 0.20*volTerm + 0.10*regimeUncertainty
	return clamp01(e)
}

// stateConsistency is 1 − (unique_states − 1)/3: four distinct states across
// the timeframes yields 0, a single shared state yields 1.
func stateConsistency(s *Snapshot) float64 {
	seen := map[marketstate.State]struct{}{}
	for _, st := range s.states {
		seen[st] = struct{}{}
	}
	unique := len(seen)
	if unique == 0 {
		return 0
	}
	return clamp01(1 - float64(unique-1)/3)
}

// decisionRiskAlignment rewards snapshots whose verdict agrees with the
// graded risk: ENTER on LOW risk aligns, ENTER on HIGH risk does not.
func decisionRiskAlignment(s *Snapshot) float64 {
	switch s.Decision() {
	case DecisionEnter:
		switch s.Risk() {
		case marketstate.RiskLow:
			return 1.0
		case marketstate.RiskMedium:
			return 0.6
		default:
			return 0.1
		}
	case DecisionObserve:
		return 0.5
	case DecisionBlock:
		if s.Risk() == marketstate.RiskHigh {
			return 1.0
		}
		return 0.4
	default:
		return 0.5
	}
}

// conflictScore applies the fixed conflict rules. A high score paired with
// HIGH risk is a strong conflict; an ENTER verdict below half score is a
// moderate one.
func conflictScore(s *Snapshot) float64 {
	score := 0.0
	if s.Score() >= 70 && s.Risk() == marketstate.RiskHigh {
		score += 0.7
	}
	if s.Decision() == DecisionEnter && s.ScorePct() < 0.5 {
		score += 0.4
	}
	if s.Decision() == DecisionBlock && s.ScorePct() > 0.8 {
		score += 0.3
	}
	return clamp01(score)
}

// regimeVolatilityBonus grants a small boost when volatility sits in the
// tradeable band.
func regimeVolatilityBonus(s *Snapshot) float64 {
	switch s.Volatility() {
	case marketstate.VolatilityNormal:
		return 1.0
	case marketstate.VolatilityHigh:
		return 0.5
	case marketstate.VolatilityLow:
		return 0.4
	default:
		return 0
	}
}

func volatilityTerm(s *Snapshot) float64 {
	switch s.Volatility() {
	case marketstate.VolatilityExtreme:
		return 1.0
	case marketstate.VolatilityHigh:
		return 0.7
	case marketstate.VolatilityNormal:
		return 0.3
	case marketstate.VolatilityLow:
		return 0.2
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
