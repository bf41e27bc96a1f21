package guardian

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/state"
)

type stubModule struct {
	healthErr   error
	validateErr error
	panics      bool
	delay       time.Duration
}

func (s *stubModule) HealthCheck(ctx context.Context) error {
	if s.panics {
		panic("stub module panic")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.healthErr
}

func (s *stubModule) ValidateData(ctx context.Context) error {
	return s.validateErr
}

func newTestGuardian(t *testing.T) (*SystemGuardian, *ModuleRegistry, *fsm.Machine) {
	t.Helper()
	sys := state.New(zerolog.Nop())
	m := fsm.New(zerolog.Nop(), fsm.DefaultConfig(), sys)
	reg := NewModuleRegistry(zerolog.Nop())
	for _, r := range reg.CriticalModules() {
		reg.Attach(r.Name, &stubModule{})
	}
	return New(zerolog.Nop(), reg, m, sys), reg, m
}

func TestGuardianAllowsWhenHealthy(t *testing.T) {
	g, _, _ := newTestGuardian(t)
	res := g.CanTrade(context.Background())
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Violations)
}

func TestGuardianDeniesOutsideRunning(t *testing.T) {
	g, _, m := newTestGuardian(t)
	require.True(t, m.TransitionTo(fsm.StateDegraded, "test", "test", nil))

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Equal(t, "state_machine", res.BlockedBy)
	assert.Contains(t, res.Reason, "DEGRADED")
}

func TestGuardianDeniesOnUnattachedCriticalModule(t *testing.T) {
	sys := state.New(zerolog.Nop())
	m := fsm.New(zerolog.Nop(), fsm.DefaultConfig(), sys)
	reg := NewModuleRegistry(zerolog.Nop())
	g := New(zerolog.Nop(), reg, m, sys)

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "not attached")
}

func TestGuardianDeniesAndEscalatesOnCriticalFailure(t *testing.T) {
	g, reg, m := newTestGuardian(t)
	reg.Attach(ModuleDecisionCore, &stubModule{healthErr: errors.New("db unreachable")})

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Equal(t, ModuleDecisionCore, res.BlockedBy)

	// Critical failure escalates to SAFE_MODE through the event queue.
	require.Equal(t, 1, m.DrainPending())
	assert.Equal(t, fsm.StateSafeMode, m.Current())
}

func TestGuardianDeniesOnModulePanic(t *testing.T) {
	g, reg, _ := newTestGuardian(t)
	reg.Attach(ModuleGatekeeper, &stubModule{panics: true})

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "panic")
}

func TestGuardianDeniesOnModuleTimeout(t *testing.T) {
	g, reg, _ := newTestGuardian(t)
	reg.SetTimeout(ModuleStateMachine, 20*time.Millisecond)
	reg.Attach(ModuleStateMachine, &stubModule{delay: time.Second})

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Equal(t, ModuleStateMachine, res.BlockedBy)
}

func TestGuardianDeniesOnErrorBudgetExhaustion(t *testing.T) {
	g, _, _ := newTestGuardian(t)
	for i := 0; i < 5; i++ {
		g.sys.RecordError()
	}

	res := g.CanTrade(context.Background())
	assert.False(t, res.Allowed)
	assert.Equal(t, "invariants", res.BlockedBy)
	assert.NotEmpty(t, res.Violations)
}

func TestGuardianSyncWrapper(t *testing.T) {
	g, _, _ := newTestGuardian(t)
	res := g.CanTradeSync()
	assert.True(t, res.Allowed)
}

func TestReportFailureEscalation(t *testing.T) {
	g, _, m := newTestGuardian(t)

	// NON_CRITICAL failure from RUNNING degrades only.
	g.ReportFailure(ModuleMarketRegime, errors.New("regime fetch failed"))
	require.Equal(t, 1, m.DrainPending())
	assert.Equal(t, fsm.StateDegraded, m.Current())

	// CRITICAL failure forces SAFE_MODE.
	g.ReportFailure(ModuleRiskExposureBrain, errors.New("exposure stale"))
	require.Equal(t, 1, m.DrainPending())
	assert.Equal(t, fsm.StateSafeMode, m.Current())
}

func TestRegistryCriticalSet(t *testing.T) {
	reg := NewModuleRegistry(zerolog.Nop())
	names := make([]string, 0)
	for _, r := range reg.CriticalModules() {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{
		ModuleDecisionCore, ModuleStateMachine, ModuleRiskExposureBrain, ModuleGatekeeper,
	}, names)

	meta, ok := reg.Get(ModuleMetaDecision)
	require.True(t, ok)
	assert.Equal(t, NonCritical, meta.Criticality)
}
