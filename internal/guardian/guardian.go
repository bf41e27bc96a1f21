package guardian

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/state"
)

// GateResult is the guardian's verdict. Allowed is false unless every check
// passed.
type GateResult struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	BlockedBy  string   `json:"blocked_by,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func deny(blockedBy, reason string, violations []string) GateResult {
	return GateResult{Reason: reason, BlockedBy: blockedBy, Violations: violations}
}

const syncGateTimeout = 10 * time.Second

// SystemGuardian is the global trading gate. It checks the state machine,
// runtime invariants, and every CRITICAL module before any signal may
// proceed. All paths fail closed.
type SystemGuardian struct {
	log      zerolog.Logger
	registry *ModuleRegistry
	machine  *fsm.Machine
	sys      *state.SystemState
}

// New builds the guardian.
func New(log zerolog.Logger, registry *ModuleRegistry, m *fsm.Machine, sys *state.SystemState) *SystemGuardian {
	return &SystemGuardian{
		log:      log.With().Str("component", "guardian").Logger(),
		registry: registry,
		machine:  m,
		sys:      sys,
	}
}

// CanTrade evaluates the gate. Order matters: the machine state is cheapest
// and most authoritative, then runtime invariants, then module checks.
func (g *SystemGuardian) CanTrade(ctx context.Context) (result GateResult) {
	defer func() {
		if rec := recover(); rec != nil {
			g.log.Error().Interface("panic", rec).Msg("Guardian panicked, denying")
			result = deny("guardian", fmt.Sprintf("internal error: %v", rec), nil)
		}
	}()

	current := g.machine.Current()
	if current != fsm.StateRunning {
		return deny("state_machine",
			fmt.Sprintf("system state is %s, trading requires RUNNING", current), nil)
	}

	if violations := g.invariantViolations(); len(violations) > 0 {
		return deny("invariants", "critical invariant violations", violations)
	}

	for _, reg := range g.registry.CriticalModules() {
		if err := g.registry.CheckModule(ctx, reg); err != nil {
			g.log.Error().Err(err).Str("module", reg.Name).Msg("Critical module check failed")
			g.machine.Enqueue(fsm.Event{
				Type:     fsm.EventModuleFailure,
				Reason:   err.Error(),
				Source:   reg.Name,
				Critical: true,
			})
			return deny(reg.Name, err.Error(), []string{err.Error()})
		}
	}

	return GateResult{Allowed: true}
}

// CanTradeSync wraps CanTrade for callers without a context. It owns its
// deadline; if evaluation cannot complete it returns the fail-safe denial.
func (g *SystemGuardian) CanTradeSync() GateResult {
	ctx, cancel := context.WithTimeout(context.Background(), syncGateTimeout)
	defer cancel()

	done := make(chan GateResult, 1)
	go func() {
		done <- g.CanTrade(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		g.log.Error().Msg("Guardian gate timed out, denying")
		return deny("guardian", "gate evaluation timed out", nil)
	}
}

// ReportFailure escalates a module failure observed outside the gate path.
// CRITICAL modules push toward SAFE_MODE, NON_CRITICAL toward DEGRADED.
func (g *SystemGuardian) ReportFailure(name string, err error) {
	reg, ok := g.registry.Get(name)
	critical := ok && reg.Criticality == Critical
	g.log.Warn().Err(err).Str("module", name).Bool("critical", critical).
		Msg("Module failure reported")
	g.machine.Enqueue(fsm.Event{
		Type:     fsm.EventModuleFailure,
		Reason:   err.Error(),
		Source:   name,
		Critical: critical,
	})
}

// invariantViolations inspects the shared runtime state for conditions that
// make trading unsafe regardless of module health.
func (g *SystemGuardian) invariantViolations() []string {
	var out []string
	health := g.sys.Health()
	if health.TradingPaused {
		out = append(out, "trading is paused")
	}
	if !health.IsRunning {
		out = append(out, "runtime is not running")
	}
	if n := g.sys.ConsecutiveErrors(); n >= 5 {
		out = append(out, fmt.Sprintf("consecutive error budget exhausted (%d)", n))
	}
	return out
}
