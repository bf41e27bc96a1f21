package state

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/marketstate"
)

// Checkpoint is the persisted subset of SystemState, written every N cycles.
// Ephemeral analysis (regime, exposure, cognition, opportunities,
// correlations) is deliberately not persisted; it is rebuilt within one
// cycle of a restart.
type Checkpoint struct {
	Timestamp     time.Time            `json:"timestamp"`
	OpenPositions []CheckpointPosition `json:"open_positions"`
	Perf          PerformanceCounters  `json:"performance_metrics"`
	Health        SystemHealth         `json:"system_health"`
	RecentSignals []CheckpointSignal   `json:"recent_signals"`
	SignalCache   map[string]string    `json:"signal_cache"`
}

// CheckpointPosition is the serialized form of a PositionSnapshot.
type CheckpointPosition struct {
	Symbol       string    `json:"symbol"`
	Long         bool      `json:"long"`
	SizeUSD      float64   `json:"size_usd"`
	EntryPrice   float64   `json:"entry_price"`
	UnrealizedPL float64   `json:"unrealized_pl"`
	EntryState   string    `json:"entry_state"`
	Confidence   float64   `json:"confidence"`
	Entropy      float64   `json:"entropy"`
	OpenedAt     time.Time `json:"opened_at"`
}

// CheckpointSignal is the serialized form of a RecentSignal.
type CheckpointSignal struct {
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	State      string    `json:"state"`
	Decision   string    `json:"decision"`
	Score      int       `json:"score"`
	Confidence float64   `json:"confidence"`
	Entropy    float64   `json:"entropy"`
}

// CreateCheckpoint captures the persisted slices. Recent signals are capped
// at the last 20.
func (s *SystemState) CreateCheckpoint() Checkpoint {
	portfolio := s.Portfolio()
	positions := make([]CheckpointPosition, 0, len(portfolio.Positions))
	for _, p := range portfolio.Positions {
		positions = append(positions, CheckpointPosition{
			Symbol:       p.Symbol,
			Long:         p.Long,
			SizeUSD:      p.SizeUSD,
			EntryPrice:   p.EntryPrice,
			UnrealizedPL: p.UnrealizedPL,
			EntryState:   p.EntryState.String(),
			Confidence:   p.Confidence,
			Entropy:      p.Entropy,
			OpenedAt:     p.OpenedAt,
		})
	}

	recent := s.RecentSignals(snapshotRecentCap)
	signals := make([]CheckpointSignal, 0, len(recent))
	for _, r := range recent {
		signals = append(signals, CheckpointSignal{
			Timestamp:  r.Timestamp,
			Symbol:     r.Symbol,
			State:      r.State.String(),
			Decision:   r.Decision,
			Score:      r.Score,
			Confidence: r.Confidence,
			Entropy:    r.Entropy,
		})
	}

	s.signalsMu.RLock()
	cache := make(map[string]string, len(s.lastState))
	for sym, st := range s.lastState {
		cache[sym] = st.String()
	}
	s.signalsMu.RUnlock()

	return Checkpoint{
		Timestamp:     time.Now(),
		OpenPositions: positions,
		Perf:          s.Perf(),
		Health:        s.Health(),
		RecentSignals: signals,
		SignalCache:   cache,
	}
}

// Restore builds a fresh SystemState from a checkpoint. Ephemeral slices
// remain empty. Unknown persisted state labels are dropped with a warning
// via marketstate.Parse.
func Restore(log zerolog.Logger, cp Checkpoint) *SystemState {
	s := New(log)

	positions := make([]PositionSnapshot, 0, len(cp.OpenPositions))
	for _, p := range cp.OpenPositions {
		st, _ := marketstate.Parse(p.EntryState)
		positions = append(positions, PositionSnapshot{
			Symbol:       p.Symbol,
			Long:         p.Long,
			SizeUSD:      p.SizeUSD,
			EntryPrice:   p.EntryPrice,
			UnrealizedPL: p.UnrealizedPL,
			EntryState:   st,
			Confidence:   p.Confidence,
			Entropy:      p.Entropy,
			OpenedAt:     p.OpenedAt,
		})
	}
	s.SetPortfolio(PortfolioState{Positions: positions})

	for _, sig := range cp.RecentSignals {
		st, _ := marketstate.Parse(sig.State)
		s.PushRecentSignal(RecentSignal{
			Timestamp:  sig.Timestamp,
			Symbol:     sig.Symbol,
			State:      st,
			Decision:   sig.Decision,
			Score:      sig.Score,
			Confidence: sig.Confidence,
			Entropy:    sig.Entropy,
		})
	}

	s.signalsMu.Lock()
	for sym, raw := range cp.SignalCache {
		if st, ok := marketstate.Parse(raw); ok {
			s.lastState[sym] = st
		}
	}
	s.signalsMu.Unlock()

	s.perfMu.Lock()
	s.perf = cp.Perf
	s.perfMu.Unlock()

	s.healthMu.Lock()
	s.health = cp.Health
	s.healthMu.Unlock()

	return s
}
