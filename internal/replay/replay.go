// Package replay re-runs recorded signal snapshots through the current
// validator chain. Each record gets a scratch runtime seeded from the
// record itself, so a replay can never touch live engine state.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/brains"
	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/risk"
	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

// Config mirrors the account parameters of the live chain so replay sizing
// is comparable.
type Config struct {
	BalanceUSD        float64
	InitialBalanceUSD float64
	BaseRiskPct       float64
	MinRiskPct        float64
	RiskBudgetUSD     float64
}

// Result is the replay of one record.
type Result struct {
	ID               string
	Symbol           string
	Timestamp        time.Time
	RecordedDecision string
	Emitted          bool
	Suppressed       bool
	BlockedBy        string
	Reason           string
	FinalRiskPct     float64
	FinalSizeUSD     float64
	Changed          bool // recorded ENTER disagreed with the replayed verdict
	ParseError       string
}

// Report aggregates a replay run.
type Report struct {
	Total      int
	Emitted    int
	Blocked    int
	Suppressed int
	Changed    int
	ParseFails int
	ByStage    map[string]int
	Results    []Result
}

// Engine replays records through a freshly wired validator chain.
type Engine struct {
	log zerolog.Logger
	cfg Config
}

func NewEngine(log zerolog.Logger, cfg Config) *Engine {
	if cfg.BaseRiskPct <= 0 {
		cfg.BaseRiskPct = decision.DefaultBaseRiskPct
	}
	if cfg.MinRiskPct <= 0 {
		cfg.MinRiskPct = decision.DefaultMinRiskPct
	}
	return &Engine{
		log: log.With().Str("component", "replay").Logger(),
		cfg: cfg,
	}
}

// Run replays the records in order and returns the report. The context
// bounds the whole run.
func (e *Engine) Run(ctx context.Context, records []snapshot.Record) Report {
	rep := Report{ByStage: map[string]int{}}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			e.log.Warn().Err(err).Int("done", rep.Total).Msg("Replay aborted")
			return rep
		}
		res := e.replayOne(ctx, rec)
		rep.Total++
		switch {
		case res.ParseError != "":
			rep.ParseFails++
		case res.Emitted:
			rep.Emitted++
		case res.Suppressed:
			rep.Suppressed++
		default:
			rep.Blocked++
			rep.ByStage[res.BlockedBy]++
		}
		if res.Changed {
			rep.Changed++
		}
		rep.Results = append(rep.Results, res)
	}

	e.log.Info().
		Int("total", rep.Total).
		Int("emitted", rep.Emitted).
		Int("blocked", rep.Blocked).
		Int("changed", rep.Changed).
		Msg("Replay finished")
	return rep
}

// replayOne wires a scratch chain for one record. Emitter, ledger, and
// trace store are all absent; the chain validates and sizes, nothing else.
func (e *Engine) replayOne(ctx context.Context, rec snapshot.Record) Result {
	res := Result{
		ID:               rec.ID,
		Symbol:           rec.Symbol,
		Timestamp:        rec.Timestamp,
		RecordedDecision: rec.Decision,
	}

	snap, err := snapshot.FromRecord(rec)
	if err != nil {
		res.ParseError = err.Error()
		res.Changed = rec.Decision == snapshot.DecisionEnter.String()
		return res
	}

	sys := e.scratchState(snap)
	machine := fsm.New(zerolog.Nop(), fsm.DefaultConfig(), sys)
	registry := guardian.NewModuleRegistry(zerolog.Nop())
	guard := guardian.New(zerolog.Nop(), registry, machine, sys)
	riskCore := risk.NewCore(zerolog.Nop(), risk.DefaultLimits())
	meta := decision.NewMetaBrain(zerolog.Nop(), sys)
	// Session rules evaluate in the record's frame of reference, not ours.
	meta.SetClock(func() time.Time { return rec.Timestamp })
	core := decision.NewCore(zerolog.Nop(), sys)
	gate := decision.NewGatekeeper(
		zerolog.Nop(),
		decision.Config{
			BalanceUSD:        e.cfg.BalanceUSD,
			InitialBalanceUSD: e.cfg.InitialBalanceUSD,
			BaseRiskPct:       e.cfg.BaseRiskPct,
		},
		sys,
		guard,
		riskCore,
		meta,
		core,
		decision.NewPortfolioBrain(zerolog.Nop(), sys),
		decision.NewPositionSizer(zerolog.Nop(), e.cfg.MinRiskPct),
		nil, nil, nil,
	)

	// The guardian denies on any unattached CRITICAL module, so the scratch
	// chain attaches the same four the engine does.
	registry.Attach(guardian.ModuleGatekeeper, gate)
	registry.Attach(guardian.ModuleDecisionCore, core)
	registry.Attach(guardian.ModuleStateMachine, machine)
	registry.Attach(guardian.ModuleRiskExposureBrain,
		brains.NewRiskExposureBrain(zerolog.Nop(), sys, e.cfg.RiskBudgetUSD))

	out := gate.SendSignal(ctx, snap)
	res.Emitted = out.Emitted
	res.Suppressed = out.Suppressed
	res.BlockedBy = out.BlockedBy
	res.Reason = out.Reason
	res.FinalRiskPct = out.FinalRiskPct
	res.FinalSizeUSD = out.FinalSizeUSD

	wasEnter := rec.Decision == snapshot.DecisionEnter.String()
	res.Changed = wasEnter != out.Emitted
	return res
}

// scratchState seeds a throwaway SystemState from the record's own frame of
// reference: the regime and cognitive metrics the chain saw at record time.
func (e *Engine) scratchState(snap *snapshot.Snapshot) *state.SystemState {
	sys := state.New(zerolog.Nop())
	sys.SetRegime(snap.Regime())
	sys.SetCognitive(state.CognitiveState{
		Confidence: snap.Confidence(),
		Entropy:    snap.Entropy(),
		UpdatedAt:  snap.Timestamp(),
	})
	// UpdatedAt stays zero: records are historical and a real timestamp
	// would trip the exposure brain's staleness check.
	sys.SetExposure(state.RiskExposure{
		RiskBudgetUSD: e.cfg.RiskBudgetUSD,
	})
	sys.SetOpportunity(state.Opportunity{
		Symbol:    snap.Symbol(),
		Score:     snap.ScorePct(),
		UpdatedAt: snap.Timestamp(),
	})
	sys.SetCorrelations(map[string]map[string]float64{
		snap.Symbol(): {"MARKET": snap.Correlation()},
	})
	sys.Heartbeat()
	return sys
}

// Render prints the report in a compact human-readable form.
func (r Report) Render() string {
	out := fmt.Sprintf("replayed %d records: %d emitted, %d blocked, %d suppressed, %d parse failures, %d changed verdicts\n",
		r.Total, r.Emitted, r.Blocked, r.Suppressed, r.ParseFails, r.Changed)
	for stage, n := range r.ByStage {
		out += fmt.Sprintf("  blocked by %s: %d\n", stage, n)
	}
	return out
}
