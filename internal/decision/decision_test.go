package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketvigil/vigil/internal/faults"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/guardian"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/risk"
	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

type recordingEmitter struct {
	messages []SignalMessage
	err      error
}

func (r *recordingEmitter) EmitSignal(_ context.Context, msg SignalMessage) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

type recordingTrace struct {
	calls []struct {
		stages    []StageResult
		emitted   bool
		blockedBy string
	}
	err error
}

func (r *recordingTrace) Record(_ context.Context, _ *snapshot.Snapshot, stages []StageResult, emitted bool, blockedBy string) error {
	r.calls = append(r.calls, struct {
		stages    []StageResult
		emitted   bool
		blockedBy string
	}{stages, emitted, blockedBy})
	return r.err
}

type recordingLedger struct {
	opened []state.PositionSnapshot
}

func (r *recordingLedger) Open(_ context.Context, pos state.PositionSnapshot) error {
	r.opened = append(r.opened, pos)
	return nil
}

type chainFixture struct {
	sys     *state.SystemState
	machine *fsm.Machine
	meta    *MetaDecisionBrain
	gate    *Gatekeeper
	emitter *recordingEmitter
	trace   *recordingTrace
	ledger  *recordingLedger
}

func newChainFixture(t *testing.T) *chainFixture {
	t.Helper()
	log := zerolog.Nop()
	sys := state.New(log)
	machine := fsm.New(log, fsm.DefaultConfig(), sys)

	sys.SetRegime(marketstate.Regime{
		Trend:      marketstate.TrendUp,
		Volatility: marketstate.VolatilityNormal,
		Sentiment:  marketstate.SentimentRiskOn,
		Confidence: 0.8,
	})
	sys.SetExposure(state.RiskExposure{
		RiskBudgetUSD: 10000,
		UsedRiskUSD:   2000,
		UpdatedAt:     time.Now(),
	})
	sys.SetCognitive(state.CognitiveState{Confidence: 0.6, Entropy: 0.3, UpdatedAt: time.Now()})

	reg := guardian.NewModuleRegistry(log)
	guard := guardian.New(log, reg, machine, sys)

	riskCore := risk.NewCore(log, risk.DefaultLimits())
	meta := NewMetaBrain(log, sys)
	meta.SetClock(func() time.Time {
		return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	})
	core := NewCore(log, sys)
	portfolio := NewPortfolioBrain(log, sys)
	sizer := NewPositionSizer(log, 0)

	emitter := &recordingEmitter{}
	trace := &recordingTrace{}
	ledger := &recordingLedger{}

	gate := NewGatekeeper(log, Config{
		BalanceUSD:        10000,
		InitialBalanceUSD: 10000,
		BaseRiskPct:       2.0,
	}, sys, guard, riskCore, meta, core, portfolio, sizer, trace, emitter, ledger)

	reg.Attach(guardian.ModuleGatekeeper, gate)
	reg.Attach(guardian.ModuleDecisionCore, core)
	reg.Attach(guardian.ModuleStateMachine, machine)
	reg.Attach(guardian.ModuleRiskExposureBrain, riskCore)

	return &chainFixture{
		sys: sys, machine: machine, meta: meta, gate: gate,
		emitter: emitter, trace: trace, ledger: ledger,
	}
}

func testSnapshot(t *testing.T, mutate func(*snapshot.Params)) *snapshot.Snapshot {
	t.Helper()
	p := snapshot.Params{
		Timestamp:       time.Now(),
		Symbol:          "BTCUSDT",
		AnchorTimeframe: "15m",
		States: map[string]marketstate.State{
			"1h":  marketstate.StateAcceptance,
			"15m": marketstate.StateRejection,
			"5m":  marketstate.StateRejection,
		},
		Regime: marketstate.Regime{
			Trend:      marketstate.TrendUp,
			Volatility: marketstate.VolatilityNormal,
			Confidence: 0.8,
		},
		Volatility: marketstate.VolatilityNormal,
		Score:      85,
		ScoreMax:   100,
		Confidence: 0.7,
		Entropy:    0.25,
		Risk:       marketstate.RiskMedium,
		Entry:      50000,
		TakeProfit: 52000,
		StopLoss:   49000,
		Decision:   snapshot.DecisionEnter,
	}
	if mutate != nil {
		mutate(&p)
	}
	snap, err := snapshot.New(p)
	require.NoError(t, err)
	return snap
}

func TestChainHappyPathEmits(t *testing.T) {
	f := newChainFixture(t)
	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	require.True(t, out.Emitted, "blocked by %s: %s", out.BlockedBy, out.Reason)
	assert.Greater(t, out.FinalSizeUSD, 0.0)
	require.Len(t, f.emitter.messages, 1)
	assert.Contains(t, f.emitter.messages[0].Text, "BTCUSDT")

	// Paper trade opens only after emission; trace recorded once.
	require.Len(t, f.ledger.opened, 1)
	assert.Equal(t, "BTCUSDT", f.ledger.opened[0].Symbol)
	require.Len(t, f.trace.calls, 1)
	assert.True(t, f.trace.calls[0].emitted)
	assert.Len(t, f.trace.calls[0].stages, 6)
}

func TestChainGuardianBlocksOutsideRunning(t *testing.T) {
	f := newChainFixture(t)
	require.True(t, f.machine.TransitionTo(fsm.StateSafeMode, "test", "test", nil))

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "system_guardian", out.BlockedBy)
	assert.Empty(t, f.emitter.messages)
	assert.Empty(t, f.ledger.opened)
	require.Len(t, f.trace.calls, 1)
	assert.Equal(t, "system_guardian", f.trace.calls[0].blockedBy)
}

func TestChainRiskVetoBlocks(t *testing.T) {
	f := newChainFixture(t)

	// Book past the aggregate cap.
	book := state.PortfolioState{
		Positions: []state.PositionSnapshot{{
			Symbol: "ETHUSDT", Long: true, SizeUSD: 6000, EntryPrice: 3000,
			EntryState: marketstate.StateAcceptance, Confidence: 0.6, Entropy: 0.3,
		}},
		RiskBudgetUSD: 10000,
	}
	f.sys.SetPortfolio(book)

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "risk_core", out.BlockedBy)
	assert.Contains(t, out.Reason, "aggregate")
}

func TestChainMetaHardBlock(t *testing.T) {
	f := newChainFixture(t)
	f.sys.SetCognitive(state.CognitiveState{Confidence: 0.3, Entropy: 0.8})

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "meta_decision_brain", out.BlockedBy)
	for _, st := range out.Trace {
		if st.Source == "meta_decision_brain" {
			assert.Equal(t, BlockHard, st.BlockLevel)
		}
	}
}

func TestChainPortfolioReinforcementBlock(t *testing.T) {
	f := newChainFixture(t)

	// 100% of the book in state D; the incoming signal's anchor is also D.
	f.sys.SetPortfolio(state.PortfolioState{
		Positions: []state.PositionSnapshot{{
			Symbol: "ETHUSDT", Long: true, SizeUSD: 3000, EntryPrice: 3000,
			EntryState: marketstate.StateRejection, Confidence: 0.6, Entropy: 0.3,
		}},
		RiskBudgetUSD: 10000,
	})

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "portfolio_brain", out.BlockedBy)
}

func TestChainAllowLimitedScalesSize(t *testing.T) {
	freshExposure := state.RiskExposure{RiskBudgetUSD: 10000, UsedRiskUSD: 0, UpdatedAt: time.Now()}

	full := newChainFixture(t)
	full.sys.SetExposure(freshExposure)
	fullOut := full.gate.SendSignal(context.Background(), testSnapshot(t, nil))
	require.True(t, fullOut.Emitted)

	limited := newChainFixture(t)
	limited.sys.SetExposure(freshExposure)
	// A single position above the 10% single-position cap makes RiskCore
	// return ALLOW_LIMITED without crossing the aggregate DENY line. The
	// book's state differs from the anchor so the portfolio brain stays out
	// of the way.
	limited.sys.SetPortfolio(state.PortfolioState{
		Positions: []state.PositionSnapshot{{
			Symbol: "ETHUSDT", Long: true, SizeUSD: 1500, EntryPrice: 3000,
			EntryState: marketstate.StateAcceptance, Confidence: 0.7, Entropy: 0.3,
		}},
		RiskBudgetUSD: 10000,
	})
	limOut := limited.gate.SendSignal(context.Background(), testSnapshot(t, nil))
	require.True(t, limOut.Emitted, "blocked by %s: %s", limOut.BlockedBy, limOut.Reason)

	assert.InDelta(t, fullOut.FinalSizeUSD*risk.LimitedSizeFactor, limOut.FinalSizeUSD, 0.01)
}

func TestChainDeduplicatesByAnchorState(t *testing.T) {
	f := newChainFixture(t)

	// Well-spaced emissions so behavioral cooldowns stay quiet.
	riskClock := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f.gate.riskCore.SetClock(func() time.Time { return riskClock })

	first := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))
	require.True(t, first.Emitted, "blocked by %s: %s", first.BlockedBy, first.Reason)

	riskClock = riskClock.Add(10 * time.Minute)
	second := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))
	assert.False(t, second.Emitted)
	assert.True(t, second.Suppressed)
	require.Len(t, f.emitter.messages, 1)

	// A changed anchor state emits again.
	riskClock = riskClock.Add(10 * time.Minute)
	third := f.gate.SendSignal(context.Background(), testSnapshot(t, func(p *snapshot.Params) {
		p.States["15m"] = marketstate.StateImpulse
	}))
	assert.True(t, third.Emitted, "blocked by %s: %s", third.BlockedBy, third.Reason)
	assert.Len(t, f.emitter.messages, 2)
}

func TestChainInjectedDecisionFaultBlocksBeforeSideEffects(t *testing.T) {
	f := newChainFixture(t)
	faults.Override(faults.EnvDecisionException, true)
	defer faults.Clear()

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "gatekeeper", out.BlockedBy)
	assert.Empty(t, f.emitter.messages)
	assert.Empty(t, f.ledger.opened)
	// The fault fires before any state mutation.
	assert.Empty(t, f.sys.RecentSignals(10))
}

func TestChainEmitterFailureBlocksPaperTrade(t *testing.T) {
	f := newChainFixture(t)
	f.emitter.err = errors.New("telegram down")

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))

	assert.False(t, out.Emitted)
	assert.Equal(t, "emitter", out.BlockedBy)
	assert.Empty(t, f.ledger.opened)
}

func TestChainTraceFailureDoesNotAlterVerdict(t *testing.T) {
	f := newChainFixture(t)
	f.trace.err = errors.New("db down")

	out := f.gate.SendSignal(context.Background(), testSnapshot(t, nil))
	assert.True(t, out.Emitted)
	require.Len(t, f.emitter.messages, 1)
}

func TestMetaSoftBlockCooldown(t *testing.T) {
	f := newChainFixture(t)
	clock := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	f.meta.SetClock(func() time.Time { return clock })

	for i := 0; i < metaOvertradeCount; i++ {
		f.meta.RecordEmission()
	}

	snap := testSnapshot(t, nil)
	v := f.meta.Evaluate(snap)
	require.Equal(t, BlockSoft, v.BlockLevel)
	assert.False(t, v.Allowed)

	// Still inside the cooldown.
	clock = clock.Add(cooldownOvertrade - time.Minute)
	v = f.meta.Evaluate(snap)
	assert.Equal(t, BlockSoft, v.BlockLevel)

	// Past the cooldown and past the cadence window.
	clock = clock.Add(metaOvertradeWindow)
	v = f.meta.Evaluate(snap)
	assert.True(t, v.Allowed)
}

func TestMetaLossStreakSoftBlock(t *testing.T) {
	f := newChainFixture(t)
	f.meta.RecordOutcome(true)
	f.meta.RecordOutcome(false)
	f.meta.RecordOutcome(false)
	f.meta.RecordOutcome(false)

	v := f.meta.Evaluate(testSnapshot(t, nil))
	assert.Equal(t, BlockSoft, v.BlockLevel)
	assert.Contains(t, v.Reason, "losing")
}

func TestMetaHardBlockClearsWithoutCooldown(t *testing.T) {
	f := newChainFixture(t)
	snap := testSnapshot(t, nil)

	f.sys.SetExposure(state.RiskExposure{RiskBudgetUSD: 10000, UsedRiskUSD: 9000})
	v := f.meta.Evaluate(snap)
	require.Equal(t, BlockHard, v.BlockLevel)
	assert.True(t, v.CooldownUntil.IsZero())

	// Same clock tick: a HARD block lifts as soon as the state does.
	f.sys.SetExposure(state.RiskExposure{RiskBudgetUSD: 10000, UsedRiskUSD: 2000})
	v = f.meta.Evaluate(snap)
	assert.True(t, v.Allowed)
}

func TestDecisionCoreWritesOnlyCanTrade(t *testing.T) {
	f := newChainFixture(t)
	core := NewCore(zerolog.Nop(), f.sys)

	v := core.Evaluate("BTCUSDT")
	assert.True(t, v.CanTrade)
	assert.True(t, f.sys.CanTrade())
	assert.Greater(t, v.MaxPositionSize, 0.0)
	assert.Equal(t, maxLeverageLow, v.MaxLeverage)

	// Degraded regime flips the shared flag off.
	f.sys.SetRegime(marketstate.Regime{Trend: marketstate.TrendUnknown})
	v = core.Evaluate("BTCUSDT")
	assert.False(t, v.CanTrade)
	assert.False(t, f.sys.CanTrade())
}

func TestPositionSizerFormula(t *testing.T) {
	sizer := NewPositionSizer(zerolog.Nop(), 0)

	res := sizer.Size(SizerInput{
		BalanceUSD:         10000,
		BaseRiskPct:        2.0,
		Confidence:         0.7,
		Entropy:            0.25,
		AvailableRiskRatio: 0.8,
		Multiplier:         1.0,
	})
	require.True(t, res.Allowed)
	// 2.0 * 0.7 * 0.75 * 0.8 = 0.84
	assert.InDelta(t, 0.84, res.FinalRiskPct, 1e-9)
	assert.InDelta(t, 84.0, res.SizeUSD, 1e-6)
}

func TestPositionSizerClampsAndThreshold(t *testing.T) {
	sizer := NewPositionSizer(zerolog.Nop(), 0.5)

	// Confidence below the floor is clamped to 0.2.
	res := sizer.Size(SizerInput{
		BalanceUSD:         10000,
		BaseRiskPct:        2.0,
		Confidence:         0.05,
		Entropy:            0.0,
		AvailableRiskRatio: 1.0,
	})
	// 2.0 * 0.2 * 1.0 * 1.0 = 0.4 < 0.5 minimum
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "below minimum")

	// Entropy term floored at 0.1.
	res = sizer.Size(SizerInput{
		BalanceUSD:         10000,
		BaseRiskPct:        10.0,
		Confidence:         1.0,
		Entropy:            1.0,
		AvailableRiskRatio: 1.0,
	})
	require.True(t, res.Allowed)
	assert.InDelta(t, 1.0, res.FinalRiskPct, 1e-9)
}

func TestPortfolioBrainScaleDownOnCorrelation(t *testing.T) {
	f := newChainFixture(t)
	f.sys.SetPortfolio(state.PortfolioState{
		Positions: []state.PositionSnapshot{{
			Symbol: "ETHUSDT", Long: true, SizeUSD: 1000, EntryPrice: 3000,
			EntryState: marketstate.StateAcceptance, Confidence: 0.7, Entropy: 0.3,
		}},
		RiskBudgetUSD: 10000,
	})
	f.sys.SetCorrelations(map[string]map[string]float64{
		"BTCUSDT": {"MARKET": 0.9},
	})

	pb := NewPortfolioBrain(zerolog.Nop(), f.sys)
	v := pb.Evaluate(testSnapshot(t, nil))
	assert.Equal(t, PortfolioScaleDown, v.Action)
	assert.InDelta(t, 0.6, v.SizeMultiplier, 1e-9)
}

func TestPortfolioBrainHalvesWeakCorrelatedEntry(t *testing.T) {
	// Book averages 0.8 confidence; the incoming signal carries 0.5 and a
	// 0.6 market correlation. That combination halves the entry.
	f := newChainFixture(t)
	f.sys.SetPortfolio(state.PortfolioState{
		Positions: []state.PositionSnapshot{{
			Symbol: "ETHUSDT", Long: true, SizeUSD: 1000, EntryPrice: 3000,
			EntryState: marketstate.StateAcceptance, Confidence: 0.8, Entropy: 0.3,
		}},
		RiskBudgetUSD: 10000,
	})
	f.sys.SetCorrelations(map[string]map[string]float64{
		"BTCUSDT": {"MARKET": 0.6},
	})

	pb := NewPortfolioBrain(zerolog.Nop(), f.sys)
	v := pb.Evaluate(testSnapshot(t, func(p *snapshot.Params) { p.Confidence = 0.5 }))
	assert.Equal(t, PortfolioScaleDown, v.Action)
	assert.InDelta(t, 0.5, v.SizeMultiplier, 1e-9)
}

func TestPortfolioBrainEmptyBookAllows(t *testing.T) {
	f := newChainFixture(t)
	pb := NewPortfolioBrain(zerolog.Nop(), f.sys)
	v := pb.Evaluate(testSnapshot(t, nil))
	assert.Equal(t, PortfolioAllow, v.Action)
	assert.Equal(t, 1.0, v.SizeMultiplier)
}
