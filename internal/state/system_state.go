package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/marketstate"
)

const (
	recentSignalCap   = 50
	snapshotRecentCap = 20
)

// SystemState is the process-wide shared state. Each slice has its own
// mutex; writers update only their slice, readers take per-slice views.
// There is no global lock and no cross-slice snapshot guarantee.
type SystemState struct {
	log zerolog.Logger

	regimeMu sync.RWMutex
	regime   marketstate.Regime

	exposureMu sync.RWMutex
	exposure   RiskExposure

	cognitiveMu sync.RWMutex
	cognitive   CognitiveState

	opportunityMu sync.RWMutex
	opportunities map[string]Opportunity

	correlationMu sync.RWMutex
	correlations  map[string]map[string]float64

	tradeMu  sync.RWMutex
	canTrade bool

	portfolioMu sync.RWMutex
	portfolio   PortfolioState

	signalsMu sync.RWMutex
	recent    []RecentSignal
	lastState map[string]marketstate.State // per-instrument anchor state cache

	healthMu sync.RWMutex
	health   SystemHealth

	perfMu sync.Mutex
	perf   PerformanceCounters
}

// New creates a SystemState with empty slices.
func New(log zerolog.Logger) *SystemState {
	return &SystemState{
		log:           log.With().Str("component", "system_state").Logger(),
		opportunities: make(map[string]Opportunity),
		correlations:  make(map[string]map[string]float64),
		lastState:     make(map[string]marketstate.State),
		health:        SystemHealth{IsRunning: true},
	}
}

// SetRegime is called only by the market regime brain.
func (s *SystemState) SetRegime(r marketstate.Regime) {
	s.regimeMu.Lock()
	s.regime = r
	s.regimeMu.Unlock()
}

// Regime returns the current aggregated regime.
func (s *SystemState) Regime() marketstate.Regime {
	s.regimeMu.RLock()
	defer s.regimeMu.RUnlock()
	return s.regime
}

// SetExposure is called only by the risk exposure brain.
func (s *SystemState) SetExposure(e RiskExposure) {
	e.UpdatedAt = time.Now()
	s.exposureMu.Lock()
	s.exposure = e
	s.exposureMu.Unlock()
}

// Exposure returns the current exposure slice.
func (s *SystemState) Exposure() RiskExposure {
	s.exposureMu.RLock()
	defer s.exposureMu.RUnlock()
	return s.exposure
}

// SetCognitive is called only by the cognitive brain.
func (s *SystemState) SetCognitive(c CognitiveState) {
	c.UpdatedAt = time.Now()
	s.cognitiveMu.Lock()
	s.cognitive = c
	s.cognitiveMu.Unlock()
}

// Cognitive returns the current cognitive slice.
func (s *SystemState) Cognitive() CognitiveState {
	s.cognitiveMu.RLock()
	defer s.cognitiveMu.RUnlock()
	return s.cognitive
}

// SetOpportunity upserts a per-instrument opportunity.
func (s *SystemState) SetOpportunity(o Opportunity) {
	o.UpdatedAt = time.Now()
	s.opportunityMu.Lock()
	s.opportunities[o.Symbol] = o
	s.opportunityMu.Unlock()
}

// Opportunities returns a copy of the opportunity map.
func (s *SystemState) Opportunities() map[string]Opportunity {
	s.opportunityMu.RLock()
	defer s.opportunityMu.RUnlock()
	out := make(map[string]Opportunity, len(s.opportunities))
	for k, v := range s.opportunities {
		out[k] = v
	}
	return out
}

// SetCorrelations replaces the correlation matrix.
func (s *SystemState) SetCorrelations(m map[string]map[string]float64) {
	copied := make(map[string]map[string]float64, len(m))
	for a, row := range m {
		copied[a] = make(map[string]float64, len(row))
		for b, v := range row {
			copied[a][b] = v
		}
	}
	s.correlationMu.Lock()
	s.correlations = copied
	s.correlationMu.Unlock()
}

// Correlation returns the pairwise correlation, zero when unknown.
func (s *SystemState) Correlation(a, b string) float64 {
	s.correlationMu.RLock()
	defer s.correlationMu.RUnlock()
	if row, ok := s.correlations[a]; ok {
		return row[b]
	}
	return 0
}

// MarketCorrelation returns the instrument's correlation to the market
// aggregate, zero when unknown.
func (s *SystemState) MarketCorrelation(symbol string) float64 {
	return s.Correlation(symbol, "MARKET")
}

// SetCanTrade is written only by the decision core.
func (s *SystemState) SetCanTrade(v bool) {
	s.tradeMu.Lock()
	s.canTrade = v
	s.tradeMu.Unlock()
}

// CanTrade returns the decision core's global verdict.
func (s *SystemState) CanTrade() bool {
	s.tradeMu.RLock()
	defer s.tradeMu.RUnlock()
	return s.canTrade
}

// SetPortfolio replaces the open-positions cache. Positions failing
// validation are dropped with a logged warning rather than poisoning the
// slice.
func (s *SystemState) SetPortfolio(p PortfolioState) {
	valid := p.Positions[:0:0]
	for _, pos := range p.Positions {
		if err := pos.Validate(); err != nil {
			s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Dropping invalid position snapshot")
			continue
		}
		valid = append(valid, pos)
	}
	p.Positions = valid
	p.Aggregate()
	p.UpdatedAt = time.Now()

	s.portfolioMu.Lock()
	s.portfolio = p
	s.portfolioMu.Unlock()
}

// Portfolio returns a copy of the portfolio slice.
func (s *SystemState) Portfolio() PortfolioState {
	s.portfolioMu.RLock()
	defer s.portfolioMu.RUnlock()
	p := s.portfolio
	p.Positions = append([]PositionSnapshot(nil), s.portfolio.Positions...)
	return p
}

// IsNewSignal reports whether the anchor-timeframe state changed since the
// last emission for the instrument, and records the new state when it did.
// The check and the cache update are one atomic step.
func (s *SystemState) IsNewSignal(symbol string, anchorState marketstate.State) bool {
	s.signalsMu.Lock()
	defer s.signalsMu.Unlock()
	if prev, ok := s.lastState[symbol]; ok && prev == anchorState {
		return false
	}
	s.lastState[symbol] = anchorState
	return true
}

// PushRecentSignal appends to the rolling recent-signal list, capped at 50.
func (s *SystemState) PushRecentSignal(sig RecentSignal) {
	s.signalsMu.Lock()
	defer s.signalsMu.Unlock()
	s.recent = append(s.recent, sig)
	if len(s.recent) > recentSignalCap {
		s.recent = s.recent[len(s.recent)-recentSignalCap:]
	}
}

// RecentSignals returns up to n most recent signals, newest last.
func (s *SystemState) RecentSignals(n int) []RecentSignal {
	s.signalsMu.RLock()
	defer s.signalsMu.RUnlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]RecentSignal, n)
	copy(out, s.recent[len(s.recent)-n:])
	return out
}

// Health returns the current health slice.
func (s *SystemState) Health() SystemHealth {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health
}

// Heartbeat records main-loop liveness.
func (s *SystemState) Heartbeat() {
	s.healthMu.Lock()
	s.health.LastHeartbeat = time.Now()
	s.healthMu.Unlock()
}

// LastHeartbeat returns the last recorded heartbeat time.
func (s *SystemState) LastHeartbeat() time.Time {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health.LastHeartbeat
}

// RecordError increments the consecutive error counter and returns the new
// value.
func (s *SystemState) RecordError() int {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.health.ConsecutiveErrors++
	return s.health.ConsecutiveErrors
}

// ResetErrors clears the consecutive error counter after a clean cycle.
func (s *SystemState) ResetErrors() {
	s.healthMu.Lock()
	s.health.ConsecutiveErrors = 0
	s.healthMu.Unlock()
}

// ConsecutiveErrors returns the current error streak.
func (s *SystemState) ConsecutiveErrors() int {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.health.ConsecutiveErrors
}

// ApplyDerivedHealth is called exclusively by the state machine's sync; it
// is the only writer of SafeMode, TradingPaused and IsRunning.
func (s *SystemState) ApplyDerivedHealth(isRunning, safeMode, tradingPaused bool) {
	s.healthMu.Lock()
	s.health.IsRunning = isRunning
	s.health.SafeMode = safeMode
	s.health.TradingPaused = tradingPaused
	s.healthMu.Unlock()
}

// Perf returns a copy of the performance counters.
func (s *SystemState) Perf() PerformanceCounters {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()
	return s.perf
}

// RecordSignalOutcome bumps the emitted/blocked counters without touching
// the cycle count. Called by the gatekeeper per signal.
func (s *SystemState) RecordSignalOutcome(emitted, blocked int) {
	s.perfMu.Lock()
	s.perf.SignalsEmitted += int64(emitted)
	s.perf.SignalsBlocked += int64(blocked)
	s.perfMu.Unlock()
}

// RecordCycle updates the performance counters for one completed cycle.
func (s *SystemState) RecordCycle(latency time.Duration, emitted, blocked, fetchFailures int) {
	s.perfMu.Lock()
	s.perf.CyclesTotal++
	s.perf.SignalsEmitted += int64(emitted)
	s.perf.SignalsBlocked += int64(blocked)
	s.perf.FetchFailures += int64(fetchFailures)
	s.perf.LastCycleLatency = latency
	s.perfMu.Unlock()
}
