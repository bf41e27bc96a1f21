package brains

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/state"
)

// Cognitive aggregation weights. The system-level read blends the conviction
// of recent emissions with the regime picture and the current error budget.
const (
	cogRecentWindow    = 10
	cogWeightRecent    = 0.5
	cogWeightRegime    = 0.3
	cogWeightHealth    = 0.2
	cogErrorPenalty    = 0.15
	cogBaselineEntropy = 0.5
)

// CognitiveBrain owns the CognitiveState slice: the system's estimate of its
// own conviction. It never looks at raw market data, only at what the engine
// has already produced. NON_CRITICAL.
type CognitiveBrain struct {
	log zerolog.Logger
	sys *state.SystemState
	now func() time.Time
}

func NewCognitiveBrain(log zerolog.Logger, sys *state.SystemState) *CognitiveBrain {
	return &CognitiveBrain{
		log: log.With().Str("component", "cognitive_brain").Logger(),
		sys: sys,
		now: time.Now,
	}
}

// Analyze recomputes system confidence and entropy. With no recent signals
// the recent term falls back to the regime read, so a cold start is neither
// overconfident nor paralyzed.
func (b *CognitiveBrain) Analyze(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	regime := b.sys.Regime()
	recent := b.sys.RecentSignals(cogRecentWindow)

	recentConf, recentEnt := regime.Confidence, cogBaselineEntropy
	if len(recent) > 0 {
		var sumC, sumE float64
		for _, sig := range recent {
			sumC += sig.Confidence
			sumE += sig.Entropy
		}
		recentConf = sumC / float64(len(recent))
		recentEnt = sumE / float64(len(recent))
	}

	healthTerm := 1.0
	errs := b.sys.ConsecutiveErrors()
	if errs > 0 {
		healthTerm = clamp01(1 - float64(errs)*cogErrorPenalty)
	}

	prior := b.sys.Cognitive()
	next := state.CognitiveState{
		Confidence: clamp01(cogWeightRecent*recentConf + cogWeightRegime*regime.Confidence + cogWeightHealth*healthTerm),
		Entropy:    clamp01(cogWeightRecent*recentEnt + cogWeightRegime*(1-regime.Confidence) + cogWeightHealth*(1-healthTerm)),
		DriftLevel: prior.DriftLevel,
		UpdatedAt:  b.now(),
	}
	b.sys.SetCognitive(next)
	b.log.Debug().
		Float64("confidence", next.Confidence).
		Float64("entropy", next.Entropy).
		Int("recent_signals", len(recent)).
		Msg("Cognitive state updated")
	return nil
}

// SetDrift records the advisory drift severity produced by the offline
// detector. It touches only the drift field so a concurrent Analyze pass is
// not lost.
func (b *CognitiveBrain) SetDrift(level string) {
	cur := b.sys.Cognitive()
	cur.DriftLevel = level
	cur.UpdatedAt = b.now()
	b.sys.SetCognitive(cur)
	b.log.Info().Str("drift_level", level).Msg("Drift advisory recorded")
}
