package fsm

import (
	"context"
	"time"
)

// EventType classifies runtime events delivered to the machine.
type EventType string

const (
	// EventLoopStall is raised by the watchdog when the heartbeat goes
	// stale.
	EventLoopStall EventType = "LOOP_STALL"
	// EventModuleFailure is raised by the guardian when a registered module
	// fails its health check.
	EventModuleFailure EventType = "MODULE_FAILURE"
	// EventPolicyBreach is raised by the risk core on HALTED verdicts.
	EventPolicyBreach EventType = "POLICY_BREACH"
)

// Event is a serialized mutation request from an out-of-band worker.
type Event struct {
	Type      EventType
	Reason    string
	Source    string
	Critical  bool
	Timestamp time.Time
}

// Enqueue posts an event without blocking. The queue is deliberately small;
// delivery must not silently degrade, so consecutive drops beyond the
// configured budget force FATAL.
func (m *Machine) Enqueue(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case m.events <- ev:
		m.dropMu.Lock()
		m.consecutiveDrops = 0
		m.dropMu.Unlock()
		return true
	default:
	}

	m.dropMu.Lock()
	m.consecutiveDrops++
	drops := m.consecutiveDrops
	m.dropMu.Unlock()

	m.log.Error().
		Str("event", string(ev.Type)).
		Int("consecutive_drops", drops).
		Msg("Event queue full, dropping event")

	if drops >= m.cfg.MaxConsecutiveDrops {
		m.TransitionTo(StateFatal, "event queue overflow", "event_queue",
			map[string]interface{}{"consecutive_drops": drops})
	}
	return false
}

// ConsecutiveDrops returns the current drop streak.
func (m *Machine) ConsecutiveDrops() int {
	m.dropMu.Lock()
	defer m.dropMu.Unlock()
	return m.consecutiveDrops
}

// Run drains the event queue until the context ends. It is the machine's
// task: the only place where queued events become transitions.
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.applyEvent(ev)
		}
	}
}

// DrainPending applies queued events without blocking. Tests and the cycle
// loop use this to process events on the scheduler.
func (m *Machine) DrainPending() int {
	applied := 0
	for {
		select {
		case ev := <-m.events:
			m.applyEvent(ev)
			applied++
		default:
			return applied
		}
	}
}

func (m *Machine) applyEvent(ev Event) {
	switch ev.Type {
	case EventLoopStall:
		cur := m.Current()
		if cur == StateRunning || cur == StateDegraded || cur == StateRecovering {
			m.TransitionTo(StateSafeMode, "loop stall reported by "+ev.Source, ev.Source,
				map[string]interface{}{"event": string(ev.Type), "raised_at": ev.Timestamp})
		}
	case EventModuleFailure:
		if ev.Critical {
			cur := m.Current()
			if cur == StateRunning || cur == StateDegraded || cur == StateRecovering {
				m.TransitionTo(StateSafeMode, ev.Reason, ev.Source,
					map[string]interface{}{"event": string(ev.Type)})
			}
		} else if m.Current() == StateRunning {
			m.TransitionTo(StateDegraded, ev.Reason, ev.Source,
				map[string]interface{}{"event": string(ev.Type)})
		}
	case EventPolicyBreach:
		cur := m.Current()
		if cur == StateRunning || cur == StateDegraded {
			m.TransitionTo(StateSafeMode, ev.Reason, ev.Source,
				map[string]interface{}{"event": string(ev.Type)})
		}
	default:
		m.log.Warn().Str("event", string(ev.Type)).Msg("Unknown event type ignored")
	}
}
