package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/marketstate"
)

func TestConfidenceEntropyBounds(t *testing.T) {
	s, err := New(validParams())
	require.NoError(t, err)

	c := Confidence(s)
	e := Entropy(s)
	assert.GreaterOrEqual(t, c, 0.0)
	assert.LessOrEqual(t, c, 1.0)
	assert.GreaterOrEqual(t, e, 0.0)
	assert.LessOrEqual(t, e, 1.0)
}

// TestConsistentStatesRaiseConfidence: identical states across timeframes
// should score higher than fully dispersed states.
func TestConsistentStatesRaiseConfidence(t *testing.T) {
	p := validParams()
	p.States = map[string]marketstate.State{
		"1h": marketstate.StateRejection, "30m": marketstate.StateRejection,
		"15m": marketstate.StateRejection, "5m": marketstate.StateRejection,
	}
	consistent, err := New(p)
	require.NoError(t, err)

	p2 := validParams()
	p2.States = map[string]marketstate.State{
		"1h": marketstate.StateImpulse, "30m": marketstate.StateAcceptance,
		"15m": marketstate.StateLossOfControl, "5m": marketstate.StateRejection,
	}
	dispersed, err := New(p2)
	require.NoError(t, err)

	assert.Greater(t, Confidence(consistent), Confidence(dispersed))
	assert.Less(t, Entropy(consistent), Entropy(dispersed))
}

// TestHighScoreHighRiskConflict: score ≥ 70 paired with HIGH risk is a
// strong conflict and must depress confidence.
func TestHighScoreHighRiskConflict(t *testing.T) {
	clean, err := New(validParams())
	require.NoError(t, err)

	p := validParams()
	p.Risk = marketstate.RiskHigh
	conflicted, err := New(p)
	require.NoError(t, err)

	assert.Greater(t, Confidence(clean), Confidence(conflicted))
	assert.Greater(t, Entropy(conflicted), Entropy(clean))
}

func TestExtremeVolatilityRaisesEntropy(t *testing.T) {
	calm, err := New(validParams())
	require.NoError(t, err)

	p := validParams()
	p.Volatility = marketstate.VolatilityExtreme
	wild, err := New(p)
	require.NoError(t, err)

	assert.Greater(t, Entropy(wild), Entropy(calm))
}
