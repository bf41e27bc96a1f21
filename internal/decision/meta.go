// Package decision implements the ordered validator chain and the
// Gatekeeper that orchestrates it. The chain is the only path to the
// outside world; every stage may veto and every anomaly blocks.
package decision

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

// BlockLevel classifies a veto.
type BlockLevel string

const (
	BlockNone BlockLevel = "NONE"
	BlockSoft BlockLevel = "SOFT"
	BlockHard BlockLevel = "HARD"
)

// StageResult is one validator's entry in the per-signal trace.
type StageResult struct {
	Source     string     `json:"source"`
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	BlockLevel BlockLevel `json:"block_level"`
}

// Meta-brain thresholds. HARD blocks are non-negotiable mission rules; SOFT
// blocks carry a cooldown.
const (
	metaHardEntropy    = 0.7
	metaHardConfidence = 0.4
	metaHardExposure   = 0.8

	metaMidConfidenceLo = 0.4
	metaMidConfidenceHi = 0.55
	metaMidExposure     = 0.6

	metaOvertradeWindow = 30 * time.Minute
	metaOvertradeCount  = 4

	metaLossStreak = 3

	metaSessionEndHourUTC = 21
	metaSessionEndEntropy = 0.6

	cooldownOvertrade  = 15 * time.Minute
	cooldownMidRange   = 10 * time.Minute
	cooldownLossStreak = 30 * time.Minute
	cooldownSessionEnd = 5 * time.Minute
)

// MetaVerdict is the meta brain's result. A SOFT block carries the cooldown
// expiry.
type MetaVerdict struct {
	Allowed       bool
	BlockLevel    BlockLevel
	Reason        string
	CooldownUntil time.Time
}

// MetaDecisionBrain is the mission-level when-not-to-trade filter. It never
// decides to trade, only when trading is a mistake.
type MetaDecisionBrain struct {
	log zerolog.Logger
	sys *state.SystemState
	now func() time.Time

	cooldownUntil time.Time
	emissions     []time.Time
	outcomes      []bool // true = win, most recent last
}

// NewMetaBrain builds the meta filter.
func NewMetaBrain(log zerolog.Logger, sys *state.SystemState) *MetaDecisionBrain {
	return &MetaDecisionBrain{
		log: log.With().Str("component", "meta_brain").Logger(),
		sys: sys,
		now: time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (b *MetaDecisionBrain) SetClock(now func() time.Time) { b.now = now }

// RecordEmission feeds the over-trading cadence counter.
func (b *MetaDecisionBrain) RecordEmission() {
	now := b.now()
	b.emissions = append(b.emissions, now)
	b.trimEmissions(now)
}

// RecordOutcome feeds the recent win/loss streak.
func (b *MetaDecisionBrain) RecordOutcome(win bool) {
	b.outcomes = append(b.outcomes, win)
	if len(b.outcomes) > 10 {
		b.outcomes = b.outcomes[len(b.outcomes)-10:]
	}
}

func (b *MetaDecisionBrain) trimEmissions(now time.Time) {
	cutoff := now.Add(-metaOvertradeWindow)
	idx := 0
	for idx < len(b.emissions) && b.emissions[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.emissions = append([]time.Time(nil), b.emissions[idx:]...)
	}
}

func (b *MetaDecisionBrain) lossStreak() int {
	streak := 0
	for i := len(b.outcomes) - 1; i >= 0; i-- {
		if b.outcomes[i] {
			break
		}
		streak++
	}
	return streak
}

func hardBlock(reason string) MetaVerdict {
	return MetaVerdict{BlockLevel: BlockHard, Reason: reason}
}

func (b *MetaDecisionBrain) softBlock(reason string, cooldown time.Duration) MetaVerdict {
	until := b.now().Add(cooldown)
	b.cooldownUntil = until
	return MetaVerdict{BlockLevel: BlockSoft, Reason: reason, CooldownUntil: until}
}

// Evaluate applies the HARD rules, then an active cooldown, then the SOFT
// rules. HARD rules always run first so a cooldown cannot mask a mission
// violation being reported. HARD blocks never start a cooldown: the
// condition is re-checked every cycle and clears the moment the state
// does, while timed cooldowns belong to the SOFT rules alone.
func (b *MetaDecisionBrain) Evaluate(snap *snapshot.Snapshot) MetaVerdict {
	now := b.now()
	cognitive := b.sys.Cognitive()
	exposure := b.sys.Exposure().UsedRatio()
	health := b.sys.Health()

	if cognitive.Entropy > metaHardEntropy && cognitive.Confidence < metaHardConfidence {
		return hardBlock(fmt.Sprintf("cognitive entropy %.2f with confidence %.2f", cognitive.Entropy, cognitive.Confidence))
	}
	if exposure > metaHardExposure {
		return hardBlock(fmt.Sprintf("portfolio exposure %.0f%% of budget", exposure*100))
	}
	if health.SafeMode || health.TradingPaused || !health.IsRunning {
		return hardBlock("system degraded")
	}

	if now.Before(b.cooldownUntil) {
		return MetaVerdict{
			BlockLevel:    BlockSoft,
			Reason:        fmt.Sprintf("cooldown active until %s", b.cooldownUntil.UTC().Format(time.TimeOnly)),
			CooldownUntil: b.cooldownUntil,
		}
	}

	b.trimEmissions(now)
	if len(b.emissions) >= metaOvertradeCount {
		return b.softBlock(
			fmt.Sprintf("%d signals in %s", len(b.emissions), metaOvertradeWindow),
			cooldownOvertrade)
	}
	if snap.Confidence() >= metaMidConfidenceLo && snap.Confidence() < metaMidConfidenceHi && exposure > metaMidExposure {
		return b.softBlock(
			fmt.Sprintf("mid-range confidence %.2f with exposure %.0f%%", snap.Confidence(), exposure*100),
			cooldownMidRange)
	}
	if streak := b.lossStreak(); streak >= metaLossStreak {
		return b.softBlock(fmt.Sprintf("%d consecutive losing outcomes", streak), cooldownLossStreak)
	}
	if now.UTC().Hour() >= metaSessionEndHourUTC && snap.Entropy() > metaSessionEndEntropy {
		return b.softBlock(
			fmt.Sprintf("end of session with entropy %.2f", snap.Entropy()),
			cooldownSessionEnd)
	}

	return MetaVerdict{Allowed: true, BlockLevel: BlockNone}
}
