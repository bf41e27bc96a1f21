// Package marketstate defines the canonical per-timeframe regime labels and
// the aggregated market regime. String conversion lives here and only here;
// runtime code compares the enum.
package marketstate

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// State is the four-valued micro-regime label assigned to one timeframe.
type State int

const (
	// StateImpulse (A): directional impulse, initiative flow.
	StateImpulse State = iota + 1
	// StateAcceptance (B): balanced acceptance of value.
	StateAcceptance
	// StateLossOfControl (C): loss of control, disordered two-sided flow.
	StateLossOfControl
	// StateRejection (D): rejection of a traded extreme.
	StateRejection
)

var stateNames = map[State]string{
	StateImpulse:       "A",
	StateAcceptance:    "B",
	StateLossOfControl: "C",
	StateRejection:     "D",
}

var stateLongNames = map[State]string{
	StateImpulse:       "impulse",
	StateAcceptance:    "acceptance",
	StateLossOfControl: "loss_of_control",
	StateRejection:     "rejection",
}

// String returns the canonical single-letter label used in persistence and
// user-facing text.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "?"
}

// LongName returns the descriptive label used in reports.
func (s State) LongName() string {
	if name, ok := stateLongNames[s]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether s is one of the four canonical states.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Parse converts an IO-boundary string to a State. Unknown strings return
// (0, false) with a logged warning; they never crash and never default to a
// real state.
func Parse(raw string) (State, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "A", "IMPULSE":
		return StateImpulse, true
	case "B", "ACCEPTANCE":
		return StateAcceptance, true
	case "C", "LOSS_OF_CONTROL", "LOSS-OF-CONTROL":
		return StateLossOfControl, true
	case "D", "REJECTION":
		return StateRejection, true
	case "":
		return 0, false
	default:
		log.Warn().Str("raw", raw).Msg("Unknown market state label")
		return 0, false
	}
}

// All returns the canonical states in label order.
func All() []State {
	return []State{StateImpulse, StateAcceptance, StateLossOfControl, StateRejection}
}
