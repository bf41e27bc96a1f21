// Package metrics exposes the engine's Prometheus surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level metrics. Label cardinality is bounded: stages and states are
// closed sets defined by the validator chain and the FSM.
var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_cycles_total",
		Help: "Completed analysis cycles",
	})

	CycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_cycle_latency_seconds",
		Help:    "Wall-clock latency of one full analysis cycle",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	SignalsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_signals_emitted_total",
		Help: "Signals that passed the full validator chain",
	})

	SignalsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_signals_blocked_total",
		Help: "Signals vetoed, by blocking stage",
	}, []string{"stage"})

	FSMState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_fsm_state",
		Help: "Current FSM state (1 for the active state, 0 otherwise)",
	}, []string{"state"})

	FSMTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_fsm_transitions_total",
		Help: "FSM transitions, by target state",
	}, []string{"to"})

	EventQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_event_queue_drops_total",
		Help: "FSM events dropped on queue overflow",
	})

	HeartbeatAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_heartbeat_age_seconds",
		Help: "Seconds since the main loop heartbeat",
	})

	ConsecutiveErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_consecutive_errors",
		Help: "Current consecutive cycle error count",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_open_positions",
		Help: "Open paper positions",
	})

	OpenExposureUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_open_exposure_usd",
		Help: "Total open paper exposure in USD",
	})

	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_fetch_failures_total",
		Help: "Candle fetches that returned no data",
	})
)

// ObserveVerdict records a validator-chain outcome.
func ObserveVerdict(emitted bool, blockedBy string) {
	if emitted {
		SignalsEmitted.Inc()
		return
	}
	if blockedBy == "" {
		blockedBy = "unknown"
	}
	SignalsBlocked.WithLabelValues(blockedBy).Inc()
}

// SetFSMState marks one state active and clears the others.
func SetFSMState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		FSMState.WithLabelValues(s).Set(v)
	}
}
