package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/fsm"
)

const (
	// DefaultHeartbeatInterval is how often the cycle loop is expected to
	// beat. The stall threshold is a multiple of this.
	DefaultHeartbeatInterval = 10 * time.Second
	// stallMultiplier: a heartbeat older than interval*stallMultiplier
	// means the scheduler is wedged.
	stallMultiplier = 3
	// defaultPollInterval bounds how quickly the watchdog notices a stall
	// or a TTL breach.
	defaultPollInterval = 2 * time.Second
)

// Config tunes the thread watchdog.
type Config struct {
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns the production watchdog settings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		PollInterval:      defaultPollInterval,
	}
}

// ThreadWatchdog observes the main loop heartbeat from outside the
// scheduler. On a stale heartbeat it enqueues a LOOP_STALL event; it never
// drives the state machine directly. A breached SAFE_MODE TTL is not
// recoverable in-process, so that path terminates with ExitCritical.
type ThreadWatchdog struct {
	log     zerolog.Logger
	cfg     Config
	machine *fsm.Machine
	exit    ExitFunc
	now     func() time.Time

	mu        sync.Mutex
	lastBeat  time.Time
	triggered bool
}

// NewThreadWatchdog builds a watchdog bound to the machine. exit and now are
// injectable for tests; nil picks the real clock and a no-op exit guard is
// not allowed, callers pass os.Exit in production.
func NewThreadWatchdog(log zerolog.Logger, cfg Config, m *fsm.Machine, exit ExitFunc) *ThreadWatchdog {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &ThreadWatchdog{
		log:      log.With().Str("component", "watchdog").Logger(),
		cfg:      cfg,
		machine:  m,
		exit:     exit,
		now:      time.Now,
		lastBeat: time.Now(),
	}
}

// SetClock overrides the time source. Test hook.
func (w *ThreadWatchdog) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.lastBeat = now()
	w.mu.Unlock()
}

// Heartbeat records that the main loop completed an iteration. A fresh beat
// alone does not re-arm a fired watchdog; Reset must be called once the
// stall has been handled.
func (w *ThreadWatchdog) Heartbeat() {
	w.mu.Lock()
	w.lastBeat = w.now()
	w.mu.Unlock()
}

// Reset re-arms the watchdog after a handled stall. It only takes effect if
// a heartbeat newer than the trigger has been seen, so a still-wedged loop
// cannot be reset into silence.
func (w *ThreadWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.triggered {
		return
	}
	if w.now().Sub(w.lastBeat) < w.stallThreshold() {
		w.triggered = false
		w.log.Info().Msg("Watchdog re-armed after stall recovery")
	}
}

// Triggered reports whether a stall has fired and not yet been re-armed.
func (w *ThreadWatchdog) Triggered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggered
}

func (w *ThreadWatchdog) stallThreshold() time.Duration {
	return w.cfg.HeartbeatInterval * stallMultiplier
}

// Run polls until ctx is done. It is the only goroutine allowed to call
// Check, so Check needs no further serialization beyond the struct mutex.
func (w *ThreadWatchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	w.log.Info().
		Dur("heartbeat_interval", w.cfg.HeartbeatInterval).
		Dur("stall_threshold", w.stallThreshold()).
		Msg("Thread watchdog started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Thread watchdog stopped")
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check runs one watchdog pass: stall detection first, then the SAFE_MODE
// TTL guard. Exposed so tests can drive it without the ticker.
func (w *ThreadWatchdog) Check() {
	now := w.clockNow()

	if w.machine.SafeModeExpired(now) {
		w.log.Error().Msg("SAFE_MODE TTL breached, terminating")
		w.exit(ExitCritical)
		return
	}

	w.mu.Lock()
	gap := now.Sub(w.lastBeat)
	stale := gap >= w.stallThreshold()
	fire := stale && !w.triggered
	if fire {
		w.triggered = true
	}
	w.mu.Unlock()

	if !fire {
		return
	}

	w.log.Error().
		Dur("heartbeat_gap", gap).
		Msg("Main loop heartbeat stale, reporting stall")
	w.machine.Enqueue(fsm.Event{
		Type:     fsm.EventLoopStall,
		Reason:   "heartbeat stale",
		Source:   "watchdog",
		Critical: true,
	})
}

func (w *ThreadWatchdog) clockNow() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now()
}
