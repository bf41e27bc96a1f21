package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/faults"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/risk"
	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

// TraceStore persists the per-signal validator trace. Recording happens
// after the verdict; a store failure must not alter it.
type TraceStore interface {
	Record(ctx context.Context, snap *snapshot.Snapshot, stages []StageResult, emitted bool, blockedBy string) error
}

// SignalMessage is the externally emitted signal.
type SignalMessage struct {
	Symbol   string
	Text     string
	ChartURL string
}

// Emitter delivers the final message to the outside world.
type Emitter interface {
	EmitSignal(ctx context.Context, msg SignalMessage) error
}

// PaperLedger opens paper-trade records for emitted signals.
type PaperLedger interface {
	Open(ctx context.Context, pos state.PositionSnapshot) error
}

// Outcome is the Gatekeeper's result for one snapshot.
type Outcome struct {
	Emitted      bool
	Suppressed   bool // duplicate anchor state, not an error
	BlockedBy    string
	Reason       string
	FinalRiskPct float64
	FinalSizeUSD float64
	Trace        []StageResult
}

// Config carries the account parameters the chain needs.
type Config struct {
	BalanceUSD        float64
	InitialBalanceUSD float64
	BaseRiskPct       float64
	ChartURLTemplate  string // %s replaced by symbol
}

// Gatekeeper owns the single egress. Every signal runs the full ordered
// validator chain; any veto or anomaly short-circuits and the trace records
// why.
type Gatekeeper struct {
	log       zerolog.Logger
	cfg       Config
	sys       *state.SystemState
	guard     *guardian.SystemGuardian
	riskCore  *risk.Core
	meta      *MetaDecisionBrain
	core      *Core
	portfolio *PortfolioBrain
	sizer     *PositionSizer
	trace     TraceStore
	emitter   Emitter
	paper     PaperLedger
}

// NewGatekeeper wires the chain. trace, emitter and paper may be nil in
// replay or dry-run setups; a nil emitter suppresses emission.
func NewGatekeeper(
	log zerolog.Logger,
	cfg Config,
	sys *state.SystemState,
	guard *guardian.SystemGuardian,
	riskCore *risk.Core,
	meta *MetaDecisionBrain,
	core *Core,
	portfolio *PortfolioBrain,
	sizer *PositionSizer,
	trace TraceStore,
	emitter Emitter,
	paper PaperLedger,
) *Gatekeeper {
	if cfg.BaseRiskPct <= 0 {
		cfg.BaseRiskPct = DefaultBaseRiskPct
	}
	return &Gatekeeper{
		log:       log.With().Str("component", "gatekeeper").Logger(),
		cfg:       cfg,
		sys:       sys,
		guard:     guard,
		riskCore:  riskCore,
		meta:      meta,
		core:      core,
		portfolio: portfolio,
		sizer:     sizer,
		trace:     trace,
		emitter:   emitter,
		paper:     paper,
	}
}

// HealthCheck satisfies the guardian module contract.
func (g *Gatekeeper) HealthCheck(ctx context.Context) error {
	if g.sys == nil {
		return fmt.Errorf("gatekeeper has no state handle")
	}
	return nil
}

// SendSignal runs the chain for one snapshot. It never returns an error for
// a veto; errors are reserved for the caller's own bookkeeping and the
// outcome always says what happened.
func (g *Gatekeeper) SendSignal(ctx context.Context, snap *snapshot.Snapshot) (out Outcome) {
	var stages []StageResult

	defer func() {
		if rec := recover(); rec != nil {
			reason := fmt.Sprintf("validator panicked: %v", rec)
			g.log.Error().Str("symbol", snap.Symbol()).Str("reason", reason).Msg("Signal blocked")
			stages = append(stages, StageResult{Source: "gatekeeper", BlockLevel: BlockHard, Reason: reason})
			out = Outcome{BlockedBy: "gatekeeper", Reason: reason, Trace: stages}
			g.recordTrace(ctx, snap, stages, out)
		}
	}()

	if err := faults.DecisionException(); err != nil {
		panic(err)
	}

	blockedOutcome := func(source, reason string) Outcome {
		out := Outcome{BlockedBy: source, Reason: reason, Trace: stages}
		g.sys.RecordSignalOutcome(0, 1)
		g.recordTrace(ctx, snap, stages, out)
		g.log.Info().Str("symbol", snap.Symbol()).Str("blocked_by", source).Str("reason", reason).Msg("Signal blocked")
		return out
	}

	// 1. Global gate.
	gate := g.guard.CanTradeSync()
	stages = append(stages, StageResult{
		Source: "system_guardian", Allowed: gate.Allowed, Reason: gate.Reason,
		BlockLevel: blockLevelIf(!gate.Allowed),
	})
	if !gate.Allowed {
		return blockedOutcome("system_guardian", gate.Reason)
	}

	// 2. Risk veto. A multiplier below 1 rides along to the sizer.
	multiplier := 1.0
	riskVerdict := g.riskCore.Evaluate(g.riskInput())
	riskAllowed := riskVerdict.Permission != risk.Deny
	stages = append(stages, StageResult{
		Source: "risk_core", Allowed: riskAllowed,
		Reason:     riskReason(riskVerdict),
		BlockLevel: blockLevelIf(!riskAllowed),
	})
	if !riskAllowed {
		return blockedOutcome("risk_core", riskReason(riskVerdict))
	}
	if riskVerdict.Permission == risk.AllowLimited {
		multiplier *= riskVerdict.SizeFactor
	}

	// 3. Mission filter.
	metaVerdict := g.meta.Evaluate(snap)
	stages = append(stages, StageResult{
		Source: "meta_decision_brain", Allowed: metaVerdict.Allowed,
		Reason: metaVerdict.Reason, BlockLevel: metaVerdict.BlockLevel,
	})
	if !metaVerdict.Allowed {
		return blockedOutcome("meta_decision_brain", metaVerdict.Reason)
	}

	// 4. Per-instrument synthesis.
	coreVerdict := g.core.Evaluate(snap.Symbol())
	stages = append(stages, StageResult{
		Source: "decision_core", Allowed: coreVerdict.CanTrade,
		Reason: coreVerdict.Reason, BlockLevel: blockLevelIf(!coreVerdict.CanTrade),
	})
	if !coreVerdict.CanTrade {
		return blockedOutcome("decision_core", coreVerdict.Reason)
	}

	// 5. Book check; its multiplier applies immediately.
	pfVerdict := g.portfolio.Evaluate(snap)
	pfAllowed := pfVerdict.Action != PortfolioBlock
	stages = append(stages, StageResult{
		Source: "portfolio_brain", Allowed: pfAllowed,
		Reason: pfVerdict.Reason, BlockLevel: blockLevelIf(!pfAllowed),
	})
	if !pfAllowed {
		return blockedOutcome("portfolio_brain", pfVerdict.Reason)
	}
	multiplier *= pfVerdict.SizeMultiplier

	// 6. Final sizing.
	sizeResult := g.sizer.Size(SizerInput{
		BalanceUSD:         g.cfg.BalanceUSD,
		BaseRiskPct:        g.cfg.BaseRiskPct,
		Confidence:         snap.Confidence(),
		Entropy:            snap.Entropy(),
		AvailableRiskRatio: g.sys.Exposure().AvailableRiskRatio(),
		Multiplier:         multiplier,
	})
	stages = append(stages, StageResult{
		Source: "position_sizer", Allowed: sizeResult.Allowed,
		Reason: sizeResult.Reason, BlockLevel: blockLevelIf(!sizeResult.Allowed),
	})
	if !sizeResult.Allowed {
		return blockedOutcome("position_sizer", sizeResult.Reason)
	}

	// Dedup gates emission, not validation: the cache must reflect the last
	// actual emission.
	anchor, ok := snap.AnchorState()
	if !ok {
		return blockedOutcome("gatekeeper", "snapshot has no anchor state")
	}
	if !g.sys.IsNewSignal(snap.Symbol(), anchor) {
		out := Outcome{Suppressed: true, Reason: "anchor state unchanged since last emission", Trace: stages}
		g.recordTrace(ctx, snap, stages, out)
		return out
	}

	if err := g.emit(ctx, snap, stages, sizeResult, coreVerdict); err != nil {
		return blockedOutcome("emitter", err.Error())
	}

	g.afterEmit(ctx, snap, anchor, sizeResult)

	out = Outcome{
		Emitted:      true,
		FinalRiskPct: sizeResult.FinalRiskPct,
		FinalSizeUSD: sizeResult.SizeUSD,
		Trace:        stages,
	}
	g.sys.RecordSignalOutcome(1, 0)
	g.recordTrace(ctx, snap, stages, out)
	return out
}

func (g *Gatekeeper) emit(ctx context.Context, snap *snapshot.Snapshot, stages []StageResult, size SizeResult, verdict Verdict) error {
	if g.emitter == nil {
		return nil
	}
	msg := SignalMessage{
		Symbol: snap.Symbol(),
		Text:   g.formatMessage(snap, stages, size, verdict),
	}
	if g.cfg.ChartURLTemplate != "" {
		msg.ChartURL = fmt.Sprintf(g.cfg.ChartURLTemplate, snap.Symbol())
	}
	return g.emitter.EmitSignal(ctx, msg)
}

// afterEmit performs the post-emission bookkeeping: the paper trade opens
// only once the message is out.
func (g *Gatekeeper) afterEmit(ctx context.Context, snap *snapshot.Snapshot, anchor marketstate.State, size SizeResult) {
	g.riskCore.RecordAction()
	g.meta.RecordEmission()
	g.sys.PushRecentSignal(state.RecentSignal{
		Timestamp:  time.Now(),
		Symbol:     snap.Symbol(),
		State:      anchor,
		Decision:   "ENTER",
		Score:      snap.Score(),
		Confidence: snap.Confidence(),
		Entropy:    snap.Entropy(),
	})

	if g.paper == nil {
		return
	}
	pos := state.PositionSnapshot{
		Symbol:      snap.Symbol(),
		Long:        snap.Long(),
		SizeUSD:     size.SizeUSD,
		EntryPrice:  snap.Entry(),
		StopPrice:   snap.StopLoss(),
		TargetPrice: snap.TakeProfit(),
		Leverage:    snap.Leverage(),
		EntryState:  anchor,
		Confidence:  snap.Confidence(),
		Entropy:     snap.Entropy(),
		OpenedAt:    time.Now(),
	}
	if err := g.paper.Open(ctx, pos); err != nil {
		g.log.Error().Err(err).Str("symbol", snap.Symbol()).Msg("Failed to open paper trade")
	}
}

func (g *Gatekeeper) recordTrace(ctx context.Context, snap *snapshot.Snapshot, stages []StageResult, out Outcome) {
	if g.trace == nil {
		return
	}
	if err := g.trace.Record(ctx, snap, stages, out.Emitted, out.BlockedBy); err != nil {
		g.log.Error().Err(err).Str("symbol", snap.Symbol()).Msg("Failed to record decision trace")
	}
}

// riskInput assembles the RiskCore view from shared state.
func (g *Gatekeeper) riskInput() risk.Input {
	health := g.sys.Health()
	book := g.sys.Portfolio()

	balance := g.cfg.BalanceUSD
	var singleMax, correlated float64
	for sym, exp := range book.ExposureBySym {
		if exp > singleMax {
			singleMax = exp
		}
		if g.sys.MarketCorrelation(sym) > portfolioHighCorrelation {
			correlated += exp
		}
	}
	pct := func(usd float64) float64 {
		if balance <= 0 {
			return 0
		}
		return usd / balance * 100
	}

	return risk.Input{
		InitialBalance:     g.cfg.InitialBalanceUSD,
		Balance:            balance,
		SinglePositionPct:  pct(singleMax),
		AggregatePct:       pct(book.TotalExposure),
		CorrelatedGroupPct: pct(correlated),
		RuntimeHealthy:     health.IsRunning && !health.TradingPaused,
		CriticalModulesOK:  true,
		ConsecutiveErrors:  health.ConsecutiveErrors,
		InSafeMode:         health.SafeMode,
	}
}

func (g *Gatekeeper) formatMessage(snap *snapshot.Snapshot, stages []StageResult, size SizeResult, verdict Verdict) string {
	book := g.sys.Portfolio()
	var b strings.Builder
	dir := "SHORT"
	if snap.Long() {
		dir = "LONG"
	}
	fmt.Fprintf(&b, "*%s* %s\n", snap.Symbol(), dir)
	fmt.Fprintf(&b, "Entry %.4f | TP %.4f | SL %.4f | RR %.2f\n",
		snap.Entry(), snap.TakeProfit(), snap.StopLoss(), snap.RRRatio())
	fmt.Fprintf(&b, "Score %d/%d | Confidence %.2f | Entropy %.2f\n",
		snap.Score(), snap.ScoreMax(), snap.Confidence(), snap.Entropy())
	fmt.Fprintf(&b, "Risk %s | Volatility %s | Size %.0f USD (%.2f%% risk)\n",
		snap.Risk(), snap.Volatility(), size.SizeUSD, size.FinalRiskPct)
	fmt.Fprintf(&b, "Book: %d positions, %.0f USD exposure\n", len(book.Positions), book.TotalExposure)
	for _, rec := range verdict.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}
	for _, st := range stages {
		if st.Reason != "" && st.Allowed {
			fmt.Fprintf(&b, "- %s: %s\n", st.Source, st.Reason)
		}
	}
	return b.String()
}

func blockLevelIf(blocked bool) BlockLevel {
	if blocked {
		return BlockHard
	}
	return BlockNone
}

func riskReason(v risk.Verdict) string {
	if len(v.Violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		parts = append(parts, viol.Detail)
	}
	return strings.Join(parts, "; ")
}
