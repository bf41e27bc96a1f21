package decision

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Sizing bounds.
const (
	sizerConfidenceFloor = 0.2
	sizerEntropyFloor    = 0.1
	// DefaultMinRiskPct is the floor under which a position is not worth
	// opening.
	DefaultMinRiskPct = 0.5
	// DefaultBaseRiskPct is the reference risk per trade as % of balance.
	DefaultBaseRiskPct = 2.0
)

// SizerInput is everything the sizing formula needs.
type SizerInput struct {
	BalanceUSD         float64
	BaseRiskPct        float64
	Confidence         float64
	Entropy            float64
	AvailableRiskRatio float64
	// Multiplier accumulates the upstream ALLOW_LIMITED and portfolio
	// factors.
	Multiplier float64
}

// SizeResult is the sizing verdict. FinalRiskPct and SizeUSD are zero when
// not allowed.
type SizeResult struct {
	Allowed      bool
	FinalRiskPct float64
	SizeUSD      float64
	Reason       string
}

// PositionSizer is the last writer of position size.
type PositionSizer struct {
	log        zerolog.Logger
	minRiskPct float64
}

// NewPositionSizer builds the sizer. minRiskPct <= 0 picks the default.
func NewPositionSizer(log zerolog.Logger, minRiskPct float64) *PositionSizer {
	if minRiskPct <= 0 {
		minRiskPct = DefaultMinRiskPct
	}
	return &PositionSizer{
		log:        log.With().Str("component", "position_sizer").Logger(),
		minRiskPct: minRiskPct,
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Size applies the risk formula. The confidence and entropy terms are
// floored so that a single bad estimate cannot zero out the size on its
// own; only the available-risk term and the upstream multiplier can.
func (p *PositionSizer) Size(in SizerInput) SizeResult {
	if in.BalanceUSD <= 0 {
		return SizeResult{Reason: "no balance"}
	}
	base := in.BaseRiskPct
	if base <= 0 {
		base = DefaultBaseRiskPct
	}
	mult := in.Multiplier
	if mult <= 0 || mult > 1 {
		mult = 1.0
	}

	finalRisk := base *
		clampRange(in.Confidence, sizerConfidenceFloor, 1.0) *
		clampRange(1-in.Entropy, sizerEntropyFloor, 1.0) *
		clampRange(in.AvailableRiskRatio, 0, 1) *
		mult

	if finalRisk < p.minRiskPct {
		return SizeResult{
			FinalRiskPct: 0,
			Reason:       fmt.Sprintf("final risk %.2f%% below minimum %.2f%%", finalRisk, p.minRiskPct),
		}
	}

	return SizeResult{
		Allowed:      true,
		FinalRiskPct: finalRisk,
		SizeUSD:      in.BalanceUSD * finalRisk / 100,
	}
}
