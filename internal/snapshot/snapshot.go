// Package snapshot defines the immutable signal snapshot that flows through
// the decision pipeline. A snapshot is validated once at construction and
// never mutated afterwards.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marketvigil/vigil/internal/marketstate"
)

// ErrInvalidSnapshot is wrapped by every constructor-time validation failure.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Decision is the per-instrument verdict carried by a snapshot.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionObserve
	DecisionEnter
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionEnter:
		return "ENTER"
	case DecisionObserve:
		return "OBSERVE"
	case DecisionBlock:
		return "BLOCK"
	default:
		return "SKIP"
	}
}

// ParseDecision converts a persistence label to a Decision.
func ParseDecision(raw string) (Decision, bool) {
	switch raw {
	case "ENTER":
		return DecisionEnter, true
	case "OBSERVE":
		return DecisionObserve, true
	case "BLOCK":
		return DecisionBlock, true
	case "SKIP":
		return DecisionSkip, true
	default:
		return 0, false
	}
}

// Params carries the raw inputs to New. Everything is copied; the caller may
// reuse the maps afterwards.
type Params struct {
	Timestamp       time.Time
	Symbol          string
	AnchorTimeframe string
	States          map[string]marketstate.State
	Directions      map[string]marketstate.Direction
	Regime          marketstate.Regime
	Volatility      marketstate.VolatilityLevel
	Correlation     float64
	Score           int
	ScoreMax        int
	Confidence      float64
	Entropy         float64
	Risk            marketstate.RiskLevel
	Leverage        float64
	Entry           float64
	TakeProfit      float64
	StopLoss        float64
	Decision        Decision
	Reason          string
	Details         []string
}

// Snapshot is the immutable atom of the pipeline. All fields are read
// through accessors; the state and direction maps are copied on the way in
// and on the way out.
type Snapshot struct {
	id              uuid.UUID
	timestamp       time.Time
	symbol          string
	anchorTimeframe string
	states          map[string]marketstate.State
	directions      map[string]marketstate.Direction
	regime          marketstate.Regime
	volatility      marketstate.VolatilityLevel
	correlation     float64
	score           int
	scoreMax        int
	confidence      float64
	entropy         float64
	risk            marketstate.RiskLevel
	leverage        float64
	entry           float64
	takeProfit      float64
	stopLoss        float64
	rrRatio         float64
	decision        Decision
	reason          string
	details         []string
}

// New validates params and builds an immutable snapshot. Any violation
// returns an error wrapping ErrInvalidSnapshot.
func New(p Params) (*Snapshot, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInvalidSnapshot)
	}
	if p.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: zero timestamp", ErrInvalidSnapshot)
	}
	if p.ScoreMax < 0 || p.Score > p.ScoreMax {
		return nil, fmt.Errorf("%w: score %d exceeds max %d", ErrInvalidSnapshot, p.Score, p.ScoreMax)
	}
	if !unit(p.Confidence) {
		return nil, fmt.Errorf("%w: confidence %.4f outside [0,1]", ErrInvalidSnapshot, p.Confidence)
	}
	if !unit(p.Entropy) {
		return nil, fmt.Errorf("%w: entropy %.4f outside [0,1]", ErrInvalidSnapshot, p.Entropy)
	}
	if !unit(p.Correlation) {
		return nil, fmt.Errorf("%w: correlation %.4f outside [0,1]", ErrInvalidSnapshot, p.Correlation)
	}
	for tf, st := range p.States {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: timeframe %s carries non-canonical state %d", ErrInvalidSnapshot, tf, st)
		}
	}
	for _, v := range []struct {
		name string
		val  float64
	}{{"entry", p.Entry}, {"take_profit", p.TakeProfit}, {"stop_loss", p.StopLoss}, {"leverage", p.Leverage}} {
		if v.val < 0 {
			return nil, fmt.Errorf("%w: %s %.8f is negative", ErrInvalidSnapshot, v.name, v.val)
		}
	}
	if p.Entry > 0 {
		if p.TakeProfit <= 0 || p.StopLoss <= 0 {
			return nil, fmt.Errorf("%w: entry set without tp/sl", ErrInvalidSnapshot)
		}
		if p.TakeProfit == p.Entry || p.StopLoss == p.Entry {
			return nil, fmt.Errorf("%w: tp/sl equal to entry", ErrInvalidSnapshot)
		}
	}

	s := &Snapshot{
		id:              uuid.New(),
		timestamp:       p.Timestamp,
		symbol:          p.Symbol,
		anchorTimeframe: p.AnchorTimeframe,
		states:          copyStates(p.States),
		directions:      copyDirections(p.Directions),
		regime:          p.Regime,
		volatility:      p.Volatility,
		correlation:     p.Correlation,
		score:           p.Score,
		scoreMax:        p.ScoreMax,
		confidence:      p.Confidence,
		entropy:         p.Entropy,
		risk:            p.Risk,
		leverage:        p.Leverage,
		entry:           p.Entry,
		takeProfit:      p.TakeProfit,
		stopLoss:        p.StopLoss,
		decision:        p.Decision,
		reason:          p.Reason,
		details:         append([]string(nil), p.Details...),
	}
	s.rrRatio = rrRatio(p.Entry, p.StopLoss, p.TakeProfit)
	return s, nil
}

// rrRatio derives reward:risk from the price levels. tp above entry means a
// long setup; below means short.
func rrRatio(entry, sl, tp float64) float64 {
	if entry <= 0 || sl <= 0 || tp <= 0 {
		return 0
	}
	var reward, risk float64
	if tp > entry { // long
		reward = tp - entry
		risk = entry - sl
	} else { // short
		reward = entry - tp
		risk = sl - entry
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func copyStates(in map[string]marketstate.State) map[string]marketstate.State {
	out := make(map[string]marketstate.State, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyDirections(in map[string]marketstate.Direction) map[string]marketstate.Direction {
	out := make(map[string]marketstate.Direction, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ID returns the snapshot correlation id.
func (s *Snapshot) ID() uuid.UUID { return s.id }

// Timestamp returns the creation time of the snapshot.
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }

// Symbol returns the instrument id.
func (s *Snapshot) Symbol() string { return s.symbol }

// AnchorTimeframe returns the timeframe whose state drives deduplication.
func (s *Snapshot) AnchorTimeframe() string { return s.anchorTimeframe }

// State returns the state for a timeframe, absent when unclassified.
func (s *Snapshot) State(tf string) (marketstate.State, bool) {
	st, ok := s.states[tf]
	return st, ok
}

// AnchorState returns the state of the anchor timeframe.
func (s *Snapshot) AnchorState() (marketstate.State, bool) {
	return s.State(s.anchorTimeframe)
}

// States returns a copy of the timeframe→state mapping.
func (s *Snapshot) States() map[string]marketstate.State {
	return copyStates(s.states)
}

// Direction returns the directional bias for a timeframe.
func (s *Snapshot) Direction(tf string) (marketstate.Direction, bool) {
	d, ok := s.directions[tf]
	return d, ok
}

// Directions returns a copy of the timeframe→direction mapping.
func (s *Snapshot) Directions() map[string]marketstate.Direction {
	return copyDirections(s.directions)
}

// Regime returns the aggregated regime recorded at construction.
func (s *Snapshot) Regime() marketstate.Regime { return s.regime }

// Volatility returns the volatility tier.
func (s *Snapshot) Volatility() marketstate.VolatilityLevel { return s.volatility }

// Correlation returns the correlation of the instrument to the market.
func (s *Snapshot) Correlation() float64 { return s.correlation }

// Score returns the integer setup score.
func (s *Snapshot) Score() int { return s.score }

// ScoreMax returns the maximum attainable score.
func (s *Snapshot) ScoreMax() int { return s.scoreMax }

// ScorePct returns score as a fraction of max, zero when max is zero.
func (s *Snapshot) ScorePct() float64 {
	if s.scoreMax == 0 {
		return 0
	}
	return float64(s.score) / float64(s.scoreMax)
}

// Confidence returns the system conviction estimate in [0,1].
func (s *Snapshot) Confidence() float64 { return s.confidence }

// Entropy returns the structuredness estimate in [0,1].
func (s *Snapshot) Entropy() float64 { return s.entropy }

// Risk returns the graded risk level.
func (s *Snapshot) Risk() marketstate.RiskLevel { return s.risk }

// Leverage returns the recommended leverage, zero when absent.
func (s *Snapshot) Leverage() float64 { return s.leverage }

// Entry returns the entry price, zero when absent.
func (s *Snapshot) Entry() float64 { return s.entry }

// TakeProfit returns the target price, zero when absent.
func (s *Snapshot) TakeProfit() float64 { return s.takeProfit }

// StopLoss returns the stop price, zero when absent.
func (s *Snapshot) StopLoss() float64 { return s.stopLoss }

// RRRatio returns the derived reward:risk ratio.
func (s *Snapshot) RRRatio() float64 { return s.rrRatio }

// Long reports whether the levels describe a long setup.
func (s *Snapshot) Long() bool { return s.takeProfit > s.entry }

// Decision returns the per-instrument verdict.
func (s *Snapshot) Decision() Decision { return s.decision }

// Reason returns the textual reason attached at construction.
func (s *Snapshot) Reason() string { return s.reason }

// Details returns a copy of the opaque detail list.
func (s *Snapshot) Details() []string { return append([]string(nil), s.details...) }
