// Package state holds the single shared mutable state object of the engine.
// Each analysis brain owns one slice and is its only writer; validators and
// the telegram bot read. Consistency is promised per slice, not globally.
package state

import (
	"fmt"
	"time"

	"github.com/marketvigil/vigil/internal/marketstate"
)

// RiskExposure is the aggregated exposure slice, owned by the risk exposure
// brain.
type RiskExposure struct {
	TotalExposureUSD float64
	LongExposureUSD  float64
	ShortExposureUSD float64
	RiskBudgetUSD    float64
	UsedRiskUSD      float64
	UpdatedAt        time.Time
}

// UsedRatio returns used risk as a fraction of budget, zero on zero budget.
func (r RiskExposure) UsedRatio() float64 {
	if r.RiskBudgetUSD <= 0 {
		return 0
	}
	return r.UsedRiskUSD / r.RiskBudgetUSD
}

// AvailableRiskRatio returns the unused fraction of the budget, clamped to
// [0,1].
func (r RiskExposure) AvailableRiskRatio() float64 {
	ratio := 1 - r.UsedRatio()
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// CognitiveState is the self-assessment slice, owned by the cognitive brain.
type CognitiveState struct {
	Confidence float64
	Entropy    float64
	DriftLevel string // LOW / MEDIUM / HIGH, advisory
	UpdatedAt  time.Time
}

// Opportunity is a per-instrument attractiveness estimate, owned by the
// opportunity brain.
type Opportunity struct {
	Symbol    string
	Score     float64
	Direction marketstate.Direction
	Note      string
	UpdatedAt time.Time
}

// PositionSnapshot is one open paper position as seen by the portfolio.
type PositionSnapshot struct {
	Symbol       string
	Long         bool
	SizeUSD      float64
	EntryPrice   float64
	StopPrice    float64
	TargetPrice  float64
	Leverage     float64
	UnrealizedPL float64
	EntryState   marketstate.State
	Confidence   float64
	Entropy      float64
	OpenedAt     time.Time
}

// Validate enforces the portfolio invariants: monetary magnitudes are
// non-negative and cognitive fields live in [0,1].
func (p PositionSnapshot) Validate() error {
	if p.SizeUSD < 0 || p.EntryPrice < 0 {
		return fmt.Errorf("position %s: negative monetary magnitude", p.Symbol)
	}
	if p.Confidence < 0 || p.Confidence > 1 || p.Entropy < 0 || p.Entropy > 1 {
		return fmt.Errorf("position %s: cognitive fields outside [0,1]", p.Symbol)
	}
	return nil
}

// PortfolioState aggregates the open book.
type PortfolioState struct {
	Positions       []PositionSnapshot
	TotalExposure   float64
	LongExposure    float64
	ShortExposure   float64
	NetExposure     float64
	RiskBudgetUSD   float64
	UsedRiskUSD     float64
	ExposureByState map[marketstate.State]float64
	ExposureBySym   map[string]float64
	UpdatedAt       time.Time
}

// Aggregate recomputes the derived exposure fields from Positions.
func (p *PortfolioState) Aggregate() {
	p.TotalExposure, p.LongExposure, p.ShortExposure = 0, 0, 0
	p.ExposureByState = make(map[marketstate.State]float64)
	p.ExposureBySym = make(map[string]float64)
	for _, pos := range p.Positions {
		p.TotalExposure += pos.SizeUSD
		if pos.Long {
			p.LongExposure += pos.SizeUSD
		} else {
			p.ShortExposure += pos.SizeUSD
		}
		if pos.EntryState.Valid() {
			p.ExposureByState[pos.EntryState] += pos.SizeUSD
		}
		p.ExposureBySym[pos.Symbol] += pos.SizeUSD
	}
	p.NetExposure = p.LongExposure - p.ShortExposure
}

// AvailableRiskRatio mirrors RiskExposure.AvailableRiskRatio for the book.
func (p *PortfolioState) AvailableRiskRatio() float64 {
	if p.RiskBudgetUSD <= 0 {
		return 0
	}
	ratio := 1 - p.UsedRiskUSD/p.RiskBudgetUSD
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// AvgConfidence returns the mean entry confidence of the book, zero when
// empty.
func (p *PortfolioState) AvgConfidence() float64 {
	if len(p.Positions) == 0 {
		return 0
	}
	sum := 0.0
	for _, pos := range p.Positions {
		sum += pos.Confidence
	}
	return sum / float64(len(p.Positions))
}

// AvgEntropy returns the mean entry entropy of the book, zero when empty.
func (p *PortfolioState) AvgEntropy() float64 {
	if len(p.Positions) == 0 {
		return 0
	}
	sum := 0.0
	for _, pos := range p.Positions {
		sum += pos.Entropy
	}
	return sum / float64(len(p.Positions))
}

// DominantState returns the entry state carrying the largest share of
// exposure and that share as a fraction of total exposure.
func (p *PortfolioState) DominantState() (marketstate.State, float64) {
	var dominant marketstate.State
	var max float64
	for st, exp := range p.ExposureByState {
		if exp > max {
			max = exp
			dominant = st
		}
	}
	if p.TotalExposure <= 0 {
		return dominant, 0
	}
	return dominant, max / p.TotalExposure
}

// SystemHealth is the runtime health slice. safe_mode and trading_paused are
// derived from the state machine and written only through its sync.
type SystemHealth struct {
	IsRunning         bool
	SafeMode          bool
	TradingPaused     bool
	LastHeartbeat     time.Time
	ConsecutiveErrors int
}

// PerformanceCounters tracks per-cycle operational stats.
type PerformanceCounters struct {
	CyclesTotal      int64
	SignalsEmitted   int64
	SignalsBlocked   int64
	FetchFailures    int64
	LastCycleLatency time.Duration
}

// RecentSignal is one entry in the rolling recent-signal list.
type RecentSignal struct {
	Timestamp  time.Time
	Symbol     string
	State      marketstate.State
	Decision   string
	Score      int
	Confidence float64
	Entropy    float64
}
