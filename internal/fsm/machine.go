// Package fsm implements the system state machine that governs the engine
// lifecycle: RUNNING, DEGRADED, SAFE_MODE, RECOVERING and the terminal
// FATAL. All mutations go through TransitionTo under a single lock; external
// workers never mutate state, they enqueue events into a small bounded
// queue drained by the machine's own task.
package fsm

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/state"
)

// State is one of the machine's lifecycle states.
type State int

const (
	StateRunning State = iota + 1
	StateDegraded
	StateSafeMode
	StateRecovering
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateDegraded:
		return "DEGRADED"
	case StateSafeMode:
		return "SAFE_MODE"
	case StateRecovering:
		return "RECOVERING"
	case StateFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// allowedTransitions is the canonical transition table. FATAL is terminal.
var allowedTransitions = map[State][]State{
	StateRunning:    {StateDegraded, StateSafeMode, StateFatal},
	StateDegraded:   {StateRunning, StateSafeMode, StateFatal},
	StateSafeMode:   {StateRecovering, StateFatal},
	StateRecovering: {StateRunning, StateSafeMode, StateFatal},
	StateFatal:      {},
}

func transitionAllowed(from, to State) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change, kept in a bounded ring.
type Transition struct {
	From       State
	To         State
	Reason     string
	Owner      string
	Timestamp  time.Time
	IncidentID uuid.UUID
	Metadata   map[string]interface{}
}

const (
	// DefaultSafeModeTTL bounds how long the engine may sit in SAFE_MODE
	// before the runtime gives up.
	DefaultSafeModeTTL = 600 * time.Second

	// recoveryCyclesRequired clean cycles advance SAFE_MODE → RECOVERING and
	// RECOVERING → RUNNING.
	recoveryCyclesRequired = 3

	// degradedErrorThreshold and safeModeErrorThreshold are the consecutive
	// error counts that trip the corresponding states.
	degradedErrorThreshold = 3
	safeModeErrorThreshold = 5

	transitionRingCap = 64
)

// Config tunes the machine.
type Config struct {
	SafeModeTTL time.Duration
	QueueCap    int
	// MaxConsecutiveDrops is how many consecutive event drops force FATAL.
	MaxConsecutiveDrops int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		SafeModeTTL:         DefaultSafeModeTTL,
		QueueCap:            10,
		MaxConsecutiveDrops: 5,
	}
}

// Notifier receives significant transition notifications (SAFE_MODE entry,
// DEGRADED entry, recovery). It must not block.
type Notifier interface {
	NotifyTransition(t Transition)
}

// Machine is the system state machine.
type Machine struct {
	log zerolog.Logger
	cfg Config

	mu              sync.Mutex
	current         State
	shutdownStarted bool
	enteredAt       time.Time
	safeModeSince   time.Time
	cleanCycles     int
	transitions     []Transition

	events           chan Event
	consecutiveDrops int
	dropMu           sync.Mutex

	sysState *state.SystemState
	notifier Notifier
}

// New creates a machine in RUNNING and performs the initial health sync.
func New(log zerolog.Logger, cfg Config, sys *state.SystemState) *Machine {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 10
	}
	if cfg.SafeModeTTL <= 0 {
		cfg.SafeModeTTL = DefaultSafeModeTTL
	}
	if cfg.MaxConsecutiveDrops <= 0 {
		cfg.MaxConsecutiveDrops = 5
	}
	m := &Machine{
		log:       log.With().Str("component", "fsm").Logger(),
		cfg:       cfg,
		current:   StateRunning,
		enteredAt: time.Now(),
		events:    make(chan Event, cfg.QueueCap),
		sysState:  sys,
	}
	m.syncLocked()
	return m
}

// SetNotifier wires the transition notifier; nil disables notification.
func (m *Machine) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo requests a state change. It returns false when the change is
// rejected: disallowed by the table, identical state, or after shutdown has
// started.
func (m *Machine) TransitionTo(to State, reason, owner string, metadata map[string]interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, reason, owner, metadata)
}

func (m *Machine) transitionLocked(to State, reason, owner string, metadata map[string]interface{}) bool {
	if m.shutdownStarted {
		m.log.Warn().Str("to", to.String()).Str("reason", reason).Msg("Transition rejected: shutdown started")
		return false
	}
	if to == m.current {
		return false
	}
	if !transitionAllowed(m.current, to) {
		m.log.Error().
			Str("from", m.current.String()).
			Str("to", to.String()).
			Str("reason", reason).
			Msg("Transition rejected: not in allowed table")
		return false
	}

	t := Transition{
		From:       m.current,
		To:         to,
		Reason:     reason,
		Owner:      owner,
		Timestamp:  time.Now(),
		IncidentID: uuid.New(),
		Metadata:   metadata,
	}

	m.current = to
	m.enteredAt = t.Timestamp
	m.cleanCycles = 0
	if to == StateSafeMode {
		m.safeModeSince = t.Timestamp
	} else {
		m.safeModeSince = time.Time{}
	}

	m.transitions = append(m.transitions, t)
	if len(m.transitions) > transitionRingCap {
		m.transitions = m.transitions[len(m.transitions)-transitionRingCap:]
	}

	m.log.Warn().
		Str("from", t.From.String()).
		Str("to", t.To.String()).
		Str("reason", reason).
		Str("owner", owner).
		Str("incident_id", t.IncidentID.String()).
		Msg("State transition")

	m.syncLocked()

	if m.notifier != nil {
		go m.notifier.NotifyTransition(t)
	}
	return true
}

// syncLocked is the sole writer of the derived SystemHealth flags. The
// SAFE_MODE/FATAL ⇒ trading_paused implication holds by construction; it is
// still asserted to catch regressions.
func (m *Machine) syncLocked() {
	if m.sysState == nil {
		return
	}
	paused := m.current == StateSafeMode || m.current == StateFatal
	safeMode := m.current == StateSafeMode
	running := m.current != StateFatal

	m.sysState.ApplyDerivedHealth(running, safeMode, paused)

	if (m.current == StateSafeMode || m.current == StateFatal) && !paused {
		// Unreachable; a violation here means the derivation above broke.
		m.log.Error().Str("state", m.current.String()).Msg("Derived health invariant violated")
	}
}

// SyncToSystemState re-derives the health flags from the current state.
func (m *Machine) SyncToSystemState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncLocked()
}

// MarkShutdownStarted rejects all further transitions.
func (m *Machine) MarkShutdownStarted() {
	m.mu.Lock()
	m.shutdownStarted = true
	m.mu.Unlock()
	m.log.Info().Msg("Shutdown started; transitions frozen")
}

// ShutdownStarted reports whether shutdown has begun.
func (m *Machine) ShutdownStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownStarted
}

// Transitions returns a copy of the recorded transition ring, oldest first.
func (m *Machine) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// SafeModeExpired reports whether the machine has sat in SAFE_MODE beyond
// its TTL.
func (m *Machine) SafeModeExpired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != StateSafeMode || m.safeModeSince.IsZero() {
		return false
	}
	return now.Sub(m.safeModeSince) > m.cfg.SafeModeTTL
}

// RecordCycleOutcome feeds per-cycle error counts into the trigger rules:
// error streaks degrade, clean streaks recover.
func (m *Machine) RecordCycleOutcome(consecutiveErrors int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case consecutiveErrors >= safeModeErrorThreshold:
		if m.current == StateRunning || m.current == StateDegraded || m.current == StateRecovering {
			m.transitionLocked(StateSafeMode, "consecutive error threshold reached", "cycle_loop",
				map[string]interface{}{"consecutive_errors": consecutiveErrors})
		}
	case consecutiveErrors >= degradedErrorThreshold:
		if m.current == StateRunning {
			m.transitionLocked(StateDegraded, "elevated consecutive errors", "cycle_loop",
				map[string]interface{}{"consecutive_errors": consecutiveErrors})
		}
	case consecutiveErrors == 0:
		switch m.current {
		case StateDegraded:
			m.transitionLocked(StateRunning, "error streak cleared", "cycle_loop", nil)
		case StateSafeMode, StateRecovering:
			m.cleanCycles++
			if m.cleanCycles >= recoveryCyclesRequired {
				if m.current == StateSafeMode {
					m.transitionLocked(StateRecovering, "clean recovery cycles in safe mode", "cycle_loop", nil)
				} else {
					m.transitionLocked(StateRunning, "clean recovery cycles completed", "cycle_loop", nil)
				}
			}
		}
	default:
		// 1-2 errors: reset any recovery progress without transitioning.
		m.cleanCycles = 0
	}
}
