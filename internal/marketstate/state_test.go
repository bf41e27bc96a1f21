package marketstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRoundTrip verifies normalize(state_to_string(s)) == s for every
// canonical state.
func TestParseRoundTrip(t *testing.T) {
	for _, s := range All() {
		parsed, ok := Parse(s.String())
		require.True(t, ok, "state %s should round-trip", s)
		assert.Equal(t, s, parsed)
	}
}

// TestParseUnknown verifies unknown labels are absent, not coerced.
func TestParseUnknown(t *testing.T) {
	for _, raw := range []string{"X", "E", "rejection!", "1", ""} {
		_, ok := Parse(raw)
		assert.False(t, ok, "label %q must not parse", raw)
	}
}

func TestParseLongNames(t *testing.T) {
	s, ok := Parse("impulse")
	require.True(t, ok)
	assert.Equal(t, StateImpulse, s)

	s, ok = Parse(" loss_of_control ")
	require.True(t, ok)
	assert.Equal(t, StateLossOfControl, s)
}

func TestStateValid(t *testing.T) {
	assert.True(t, StateRejection.Valid())
	assert.False(t, State(0).Valid())
	assert.False(t, State(99).Valid())
	assert.Equal(t, "?", State(99).String())
}

func TestRegimeDegraded(t *testing.T) {
	assert.True(t, Regime{}.Degraded())
	assert.True(t, Regime{Trend: TrendUp, Confidence: 0.1}.Degraded())
	assert.False(t, Regime{Trend: TrendRange, Confidence: 0.5}.Degraded())
}
