// Package guardian implements the module registry and the global trading
// gate. Every signal must pass the guardian before any downstream validator
// runs; a failure here is absolute.
package guardian

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Criticality determines how a module failure escalates: CRITICAL failures
// drive the runtime to SAFE_MODE, NON_CRITICAL only to DEGRADED.
type Criticality string

const (
	Critical    Criticality = "CRITICAL"
	NonCritical Criticality = "NON_CRITICAL"
)

// Canonical module names. The registry is keyed by these.
const (
	ModuleDecisionCore      = "decision_core"
	ModuleStateMachine      = "state_machine"
	ModuleRiskExposureBrain = "risk_exposure_brain"
	ModuleGatekeeper        = "gatekeeper"
	ModuleMetaDecision      = "meta_decision_brain"
	ModuleMarketRegime      = "market_regime_brain"
	ModuleCognitive         = "cognitive_brain"
	ModuleOpportunity       = "opportunity_brain"
	ModulePortfolio         = "portfolio_brain"
	ModulePositionSizer     = "position_sizer"
)

// HealthChecker is implemented by modules that can report liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DataValidator is implemented by modules that can verify their inputs are
// still coherent.
type DataValidator interface {
	ValidateData(ctx context.Context) error
}

const defaultModuleTimeout = 5 * time.Second

// Registration describes one registered module. Instance may be nil for
// modules registered before construction; a nil CRITICAL instance counts as
// unavailable.
type Registration struct {
	Name        string
	Criticality Criticality
	Timeout     time.Duration
	Instance    interface{}
}

// ModuleRegistry maps module names to their registration. It is safe for
// concurrent use.
type ModuleRegistry struct {
	log zerolog.Logger

	mu      sync.RWMutex
	modules map[string]Registration
}

// NewModuleRegistry builds a registry pre-declared with the canonical module
// set. Instances are attached later via Attach as the composition root
// constructs them.
func NewModuleRegistry(log zerolog.Logger) *ModuleRegistry {
	r := &ModuleRegistry{
		log:     log.With().Str("component", "module_registry").Logger(),
		modules: make(map[string]Registration),
	}
	for _, name := range []string{ModuleDecisionCore, ModuleStateMachine, ModuleRiskExposureBrain, ModuleGatekeeper} {
		r.declare(name, Critical)
	}
	for _, name := range []string{ModuleMetaDecision, ModuleMarketRegime, ModuleCognitive, ModuleOpportunity, ModulePortfolio, ModulePositionSizer} {
		r.declare(name, NonCritical)
	}
	return r
}

func (r *ModuleRegistry) declare(name string, c Criticality) {
	r.modules[name] = Registration{
		Name:        name,
		Criticality: c,
		Timeout:     defaultModuleTimeout,
	}
}

// Attach binds a constructed instance to a declared module. Attaching an
// undeclared name registers it as NON_CRITICAL.
func (r *ModuleRegistry) Attach(name string, instance interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.modules[name]
	if !ok {
		reg = Registration{Name: name, Criticality: NonCritical, Timeout: defaultModuleTimeout}
		r.log.Warn().Str("module", name).Msg("Attaching undeclared module as NON_CRITICAL")
	}
	reg.Instance = instance
	r.modules[name] = reg
}

// SetTimeout overrides the per-module check budget.
func (r *ModuleRegistry) SetTimeout(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.modules[name]; ok && d > 0 {
		reg.Timeout = d
		r.modules[name] = reg
	}
}

// Get returns the registration for name.
func (r *ModuleRegistry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.modules[name]
	return reg, ok
}

// CriticalModules returns the CRITICAL registrations in name order.
func (r *ModuleRegistry) CriticalModules() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.modules))
	for _, reg := range r.modules {
		if reg.Criticality == Critical {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckModule runs the module's optional health check and data validation,
// each bounded by the registration timeout. A nil instance fails; a module
// implementing neither interface passes.
func (r *ModuleRegistry) CheckModule(ctx context.Context, reg Registration) error {
	if reg.Instance == nil {
		return fmt.Errorf("module %s not attached", reg.Name)
	}
	if hc, ok := reg.Instance.(HealthChecker); ok {
		if err := runBounded(ctx, reg.Timeout, hc.HealthCheck); err != nil {
			return fmt.Errorf("module %s health check: %w", reg.Name, err)
		}
	}
	if dv, ok := reg.Instance.(DataValidator); ok {
		if err := runBounded(ctx, reg.Timeout, dv.ValidateData); err != nil {
			return fmt.Errorf("module %s data validation: %w", reg.Name, err)
		}
	}
	return nil
}

// runBounded executes fn with a deadline. A panic inside fn surfaces as an
// error rather than unwinding into the gate.
func runBounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- fn(cctx)
	}()

	select {
	case err = <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}
