// Package bus publishes engine liveness and FSM transition events over
// NATS. Publishing is fire-and-forget: the bus is observability plumbing
// and must never block or fail the engine.
package bus

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/state"
)

// Topics published by the engine.
const (
	TopicHeartbeat   = "vigil.heartbeat"
	TopicTransitions = "vigil.transitions"
)

// HeartbeatMessage is the periodic liveness record.
type HeartbeatMessage struct {
	Engine            string    `json:"engine"`
	Timestamp         time.Time `json:"timestamp"`
	State             string    `json:"state"`
	CyclesTotal       int64     `json:"cycles_total"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
}

// TransitionMessage mirrors one FSM transition.
type TransitionMessage struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	Owner      string    `json:"owner"`
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher publishes heartbeats and transitions. A nil NATS connection
// disables publishing entirely.
type Publisher struct {
	log       zerolog.Logger
	sys       *state.SystemState
	machine   *fsm.Machine
	engine    string
	interval  time.Duration
	stopChan  chan struct{}
	running   atomic.Bool
	publishFn func(topic string, data []byte) error
}

func NewPublisher(log zerolog.Logger, conn *nats.Conn, sys *state.SystemState, machine *fsm.Machine, engine string, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := &Publisher{
		log:      log.With().Str("component", "bus").Logger(),
		sys:      sys,
		machine:  machine,
		engine:   engine,
		interval: interval,
		stopChan: make(chan struct{}),
	}
	if conn != nil {
		p.publishFn = conn.Publish
	}
	return p
}

// Start begins periodic heartbeat publishing in a background goroutine.
func (p *Publisher) Start() {
	if p.running.Load() {
		p.log.Warn().Msg("Bus publisher already running")
		return
	}
	if p.publishFn == nil {
		p.log.Info().Msg("NATS connection not configured, bus publishing disabled")
		return
	}

	p.running.Store(true)
	ticker := time.NewTicker(p.interval)
	go func() {
		p.publishHeartbeat()
		for {
			select {
			case <-ticker.C:
				p.publishHeartbeat()
			case <-p.stopChan:
				ticker.Stop()
				p.running.Store(false)
				p.log.Info().Msg("Bus publishing stopped")
				return
			}
		}
	}()

	p.log.Info().
		Str("topic", TopicHeartbeat).
		Dur("interval", p.interval).
		Msg("Bus heartbeat publishing started")
}

// Stop halts heartbeat publishing.
func (p *Publisher) Stop() {
	if p.running.Load() {
		close(p.stopChan)
	}
}

func (p *Publisher) publishHeartbeat() {
	health := p.sys.Health()
	perf := p.sys.Perf()
	msg := HeartbeatMessage{
		Engine:            p.engine,
		Timestamp:         time.Now(),
		State:             p.machine.Current().String(),
		CyclesTotal:       perf.CyclesTotal,
		ConsecutiveErrors: health.ConsecutiveErrors,
	}
	p.publish(TopicHeartbeat, msg)
}

// NotifyTransition implements fsm.Notifier. Runs on the FSM's transition
// path, so it only marshals and hands off to the NATS async buffer.
func (p *Publisher) NotifyTransition(t fsm.Transition) {
	if p.publishFn == nil {
		return
	}
	p.publish(TopicTransitions, TransitionMessage{
		From:       t.From.String(),
		To:         t.To.String(),
		Reason:     t.Reason,
		Owner:      t.Owner,
		IncidentID: t.IncidentID.String(),
		Timestamp:  t.Timestamp,
	})
}

func (p *Publisher) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal bus message")
		return
	}
	if err := p.publishFn(topic, data); err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish bus message")
	}
}
