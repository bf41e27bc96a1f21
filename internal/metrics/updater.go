package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/state"
)

var fsmStateNames = []string{"RUNNING", "DEGRADED", "SAFE_MODE", "RECOVERING", "FATAL"}

// Updater refreshes the gauges that mirror shared state rather than being
// incremented at call sites.
type Updater struct {
	log      zerolog.Logger
	sys      *state.SystemState
	machine  *fsm.Machine
	interval time.Duration
}

func NewUpdater(log zerolog.Logger, sys *state.SystemState, machine *fsm.Machine, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Updater{
		log:      log.With().Str("component", "metrics_updater").Logger(),
		sys:      sys,
		machine:  machine,
		interval: interval,
	}
}

// Run updates gauges until the context is cancelled.
func (u *Updater) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	u.Update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.Update()
		}
	}
}

// Update refreshes every mirrored gauge once.
func (u *Updater) Update() {
	health := u.sys.Health()
	if !health.LastHeartbeat.IsZero() {
		HeartbeatAge.Set(time.Since(health.LastHeartbeat).Seconds())
	}
	ConsecutiveErrors.Set(float64(health.ConsecutiveErrors))

	book := u.sys.Portfolio()
	OpenPositions.Set(float64(len(book.Positions)))
	OpenExposureUSD.Set(book.TotalExposure)

	if u.machine != nil {
		SetFSMState(u.machine.Current().String(), fsmStateNames)
	}
}
