package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/fsm"
)

const defaultReapInterval = 1 * time.Second

// FatalReaper is the last line of defense: it polls the machine and
// terminates the process the moment FATAL is observed. It shares nothing
// with the cycle scheduler, so a FATAL reached while the main loop is wedged
// still ends the process.
type FatalReaper struct {
	log      zerolog.Logger
	machine  *fsm.Machine
	exit     ExitFunc
	interval time.Duration
}

// NewFatalReaper builds a reaper. interval <= 0 picks the default.
func NewFatalReaper(log zerolog.Logger, m *fsm.Machine, exit ExitFunc, interval time.Duration) *FatalReaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	return &FatalReaper{
		log:      log.With().Str("component", "fatal_reaper").Logger(),
		machine:  m,
		exit:     exit,
		interval: interval,
	}
}

// Run polls until ctx is done or FATAL is reaped.
func (r *FatalReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", r.interval).Msg("Fatal reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Fatal reaper stopped")
			return
		case <-ticker.C:
			if r.Check() {
				return
			}
		}
	}
}

// Check performs one poll. Returns true when FATAL was observed and the
// exit function was invoked.
func (r *FatalReaper) Check() bool {
	if r.machine.Current() != fsm.StateFatal {
		return false
	}
	r.log.Error().Msg("FATAL state observed, terminating")
	r.exit(ExitCritical)
	return true
}
