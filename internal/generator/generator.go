// Package generator runs the per-cycle analysis pipeline: fetch, brains,
// global gate, per-symbol classification and scoring, snapshot hand-off to
// the decision chain, and periodic persistence. One Generator instance owns
// the loop; everything downstream of it is driven from RunCycle.
package generator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/marketvigil/vigil/internal/brains"
	"github.com/marketvigil/vigil/internal/decision"
	"github.com/marketvigil/vigil/internal/drift"
	"github.com/marketvigil/vigil/internal/exchange"
	"github.com/marketvigil/vigil/internal/faults"
	"github.com/marketvigil/vigil/internal/fsm"
	"github.com/marketvigil/vigil/internal/indicators"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/metrics"
	"github.com/marketvigil/vigil/internal/paper"
	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

// Timeout budget for one cycle. Brains and correlation are NON_CRITICAL: a
// timeout leaves the prior state intact and the cycle continues.
const (
	DefaultFetchBudget   = 60 * time.Second
	DefaultSignalTimeout = 120 * time.Second
	DefaultFetchWorkers  = 8
	DefaultSnapshotEvery = 5 * time.Minute
	DefaultDriftEvery    = 15 * time.Minute
	spikeReturnThreshold = 0.02 // single 5m bar moving 2% is a spike
	markTimeframe        = "5m"
	atrPeriod            = 14
	stopATRMultiple      = 1.5
	dailyReportHourUTC   = 21 // matches the meta-brain session close
)

// Timeframes the classifier runs over, coarse to fine.
var Timeframes = []string{"1h", "30m", "15m", "5m"}

// KlineFetcher is the market-data dependency. *exchange.Client satisfies it;
// tests satisfy it with canned series.
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) exchange.Series
}

// CandleCache is the optional read-through cache in front of the fetcher.
type CandleCache interface {
	Get(ctx context.Context, symbol, interval string) (exchange.Series, bool)
	Set(ctx context.Context, symbol, interval string, series exchange.Series)
}

// CheckpointStore persists the periodic SystemState checkpoint.
type CheckpointStore interface {
	Save(ctx context.Context, cp state.Checkpoint) error
}

// SignalAppender is the append-only text log of evaluated signals.
type SignalAppender interface {
	Append(snap *snapshot.Snapshot)
}

// Notifier carries operational messages (global trade denials, cycle
// anomalies) to the operator channel.
type Notifier interface {
	SendText(ctx context.Context, text string) error
}

// PositionMarker receives the latest marks so open paper positions close on
// the same data the analysis used. *paper.Ledger satisfies it.
type PositionMarker interface {
	Mark(ctx context.Context, symbol string, price float64) (paper.Trade, bool)
}

// TradeSummarizer feeds the daily report. *paper.Ledger satisfies it.
type TradeSummarizer interface {
	Summarize(since time.Time) paper.Summary
}

// Config is the static cycle configuration.
type Config struct {
	Symbols         []string
	AnchorTimeframe string
	KlineLimit      int
	CycleInterval   time.Duration
	SnapshotEvery   time.Duration
	FetchBudget     time.Duration
	FetchWorkers    int
	BrainTimeout    time.Duration
	CorrTimeout     time.Duration
	SignalTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.AnchorTimeframe == "" {
		c.AnchorTimeframe = "1h"
	}
	if c.KlineLimit <= 0 {
		c.KlineLimit = 100
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Minute
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = DefaultSnapshotEvery
	}
	if c.FetchBudget <= 0 {
		c.FetchBudget = DefaultFetchBudget
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = DefaultFetchWorkers
	}
	if c.BrainTimeout <= 0 {
		c.BrainTimeout = brains.DefaultBrainTimeout
	}
	if c.CorrTimeout <= 0 {
		c.CorrTimeout = brains.DefaultCorrelationTimeout
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = DefaultSignalTimeout
	}
}

// HeartbeatSink receives the liveness pulse once per healthy cycle. The
// thread watchdog implements it.
type HeartbeatSink interface {
	Heartbeat()
}

// CycleStats summarizes one RunCycle pass.
type CycleStats struct {
	Skipped       bool
	SkipReason    string
	Emitted       int
	Blocked       int
	Evaluated     int
	FetchFailures int
	Errors        int
	Latency       time.Duration
}

// Generator orchestrates one analysis cycle end to end.
type Generator struct {
	log     zerolog.Logger
	cfg     Config
	fetcher KlineFetcher
	cache   CandleCache
	sys     *state.SystemState
	machine *fsm.Machine

	regimeBrain    *brains.MarketRegimeBrain
	exposureBrain  *brains.RiskExposureBrain
	cognitiveBrain *brains.CognitiveBrain
	opportunity    *brains.OpportunityBrain
	correlation    *brains.CorrelationAnalyzer

	core *decision.Core
	gate *decision.Gatekeeper

	ledger      PositionMarker
	reports     TradeSummarizer
	drift       *drift.Detector
	dog         HeartbeatSink
	checkpoints CheckpointStore
	signalLog   SignalAppender
	notifier    Notifier

	tradingTime func(time.Time) bool
	now         func() time.Time

	mu          sync.Mutex
	cycles      int64
	lastPersist time.Time
	lastDrift   time.Time
	lastReport  time.Time
}

// Deps carries the collaborators. Optional fields may be nil: cache,
// ledger, reports, drift, watchdog, checkpoints, signal log and notifier
// all degrade to no-ops.
type Deps struct {
	Fetcher     KlineFetcher
	Cache       CandleCache
	Sys         *state.SystemState
	Machine     *fsm.Machine
	Regime      *brains.MarketRegimeBrain
	Exposure    *brains.RiskExposureBrain
	Cognitive   *brains.CognitiveBrain
	Opportunity *brains.OpportunityBrain
	Correlation *brains.CorrelationAnalyzer
	Core        *decision.Core
	Gatekeeper  *decision.Gatekeeper
	Ledger      PositionMarker
	Reports     TradeSummarizer
	Drift       *drift.Detector
	Watchdog    HeartbeatSink
	Checkpoints CheckpointStore
	SignalLog   SignalAppender
	Notifier    Notifier
}

func New(log zerolog.Logger, cfg Config, deps Deps) *Generator {
	cfg.applyDefaults()
	g := &Generator{
		log:            log.With().Str("component", "generator").Logger(),
		cfg:            cfg,
		fetcher:        deps.Fetcher,
		cache:          deps.Cache,
		sys:            deps.Sys,
		machine:        deps.Machine,
		regimeBrain:    deps.Regime,
		exposureBrain:  deps.Exposure,
		cognitiveBrain: deps.Cognitive,
		opportunity:    deps.Opportunity,
		correlation:    deps.Correlation,
		core:           deps.Core,
		gate:           deps.Gatekeeper,
		ledger:         deps.Ledger,
		reports:        deps.Reports,
		drift:          deps.Drift,
		dog:            deps.Watchdog,
		checkpoints:    deps.Checkpoints,
		signalLog:      deps.SignalLog,
		notifier:       deps.Notifier,
		tradingTime:    GoodTradingTime,
		now:            time.Now,
	}
	return g
}

// SetClock overrides the clock for tests.
func (g *Generator) SetClock(now func() time.Time) { g.now = now }

// SetTradingTimePredicate overrides the good-trading-time check.
func (g *Generator) SetTradingTimePredicate(fn func(time.Time) bool) {
	if fn != nil {
		g.tradingTime = fn
	}
}

// GoodTradingTime is the default trading-window predicate. Perpetual futures
// trade around the clock; the only excluded window is the daily funding and
// settlement minute at 00:00 UTC, where spreads widen and prints lie.
func GoodTradingTime(t time.Time) bool {
	utc := t.UTC()
	return !(utc.Hour() == 0 && utc.Minute() < 2)
}

// Run drives cycles on the configured interval until the context ends. The
// first cycle runs immediately.
func (g *Generator) Run(ctx context.Context) {
	g.log.Info().
		Dur("interval", g.cfg.CycleInterval).
		Strs("symbols", g.cfg.Symbols).
		Msg("Signal generator starting")

	ticker := time.NewTicker(g.cfg.CycleInterval)
	defer ticker.Stop()

	g.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			g.log.Info().Msg("Signal generator stopping")
			return
		case <-ticker.C:
			g.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full analysis pass. It never returns an error: every
// failure is logged, counted, and reflected in the FSM cycle outcome.
func (g *Generator) RunCycle(ctx context.Context) CycleStats {
	start := g.now()
	stats := CycleStats{}

	// A stalled loop stops heartbeating, which is exactly what the watchdog
	// watches for. The injected stall skips the pulse and the work.
	if faults.LoopStall() {
		g.log.Warn().Msg("Injected loop stall, skipping cycle and heartbeat")
		stats.Skipped = true
		stats.SkipReason = "loop stall injected"
		return stats
	}

	g.pulse()

	if !g.tradingTime(start) && !faults.SyntheticTick() {
		stats.Skipped = true
		stats.SkipReason = "outside trading window"
		g.log.Debug().Time("at", start).Msg("Outside trading window, cycle skipped")
		g.finishCycle(ctx, start, &stats)
		return stats
	}

	data := g.fetchAll(ctx, &stats)

	g.runBrains(ctx, data, &stats)

	canTrade, reason := g.core.ShouldTrade()
	if !canTrade {
		g.log.Warn().Str("reason", reason).Msg("Global trade gate denied, cycle ends")
		g.notify(ctx, fmt.Sprintf("Trading halted this cycle: %s", reason))
		g.finishCycle(ctx, start, &stats)
		return stats
	}

	spiked := g.spikeCheck(data)
	g.runBestEffort(ctx, data, &stats)

	for _, symbol := range g.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			stats.Errors++
			break
		}
		g.evaluateSymbol(ctx, data, symbol, spiked[symbol], &stats)
	}

	g.markOpenPositions(ctx, data)
	g.observeDrift(start)
	g.finishCycle(ctx, start, &stats)
	return stats
}

// pulse signals liveness to both the shared state and the watchdog.
func (g *Generator) pulse() {
	g.sys.Heartbeat()
	if g.dog != nil {
		g.dog.Heartbeat()
	}
}

// fetchAll pulls symbols x timeframes under the fetch budget with bounded
// concurrency. A failed fetch leaves an empty series; the classifier treats
// the timeframe as absent.
func (g *Generator) fetchAll(ctx context.Context, stats *CycleStats) brains.MarketData {
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.FetchBudget)
	defer cancel()

	data := make(brains.MarketData, len(g.cfg.Symbols))
	for _, symbol := range g.cfg.Symbols {
		data[symbol] = make(map[string]exchange.Series, len(Timeframes))
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(fetchCtx)
	group.SetLimit(g.cfg.FetchWorkers)

	for _, symbol := range g.cfg.Symbols {
		for _, tf := range Timeframes {
			group.Go(func() error {
				series := g.fetchOne(groupCtx, symbol, tf)
				mu.Lock()
				data[symbol][tf] = series
				if len(series) == 0 {
					stats.FetchFailures++
				}
				mu.Unlock()
				return nil
			})
		}
	}
	_ = group.Wait()

	if stats.FetchFailures > 0 {
		metrics.FetchFailures.Add(float64(stats.FetchFailures))
		g.log.Warn().Int("failures", stats.FetchFailures).Msg("Cycle fetch completed with gaps")
	}
	return data
}

func (g *Generator) fetchOne(ctx context.Context, symbol, tf string) exchange.Series {
	if g.cache != nil {
		if series, ok := g.cache.Get(ctx, symbol, tf); ok {
			return series
		}
	}
	series := g.fetcher.FetchKlines(ctx, symbol, tf, g.cfg.KlineLimit)
	if g.cache != nil && len(series) > 0 {
		g.cache.Set(ctx, symbol, tf, series)
	}
	return series
}

// runBrains executes the NON_CRITICAL brain sequence. Order matters: regime
// feeds exposure sizing context, both feed the cognitive read.
func (g *Generator) runBrains(ctx context.Context, data brains.MarketData, stats *CycleStats) {
	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"market_regime", func(ctx context.Context) error { return g.regimeBrain.Analyze(ctx, data) }},
		{"risk_exposure", func(ctx context.Context) error { return g.exposureBrain.Analyze(ctx) }},
		{"cognitive", func(ctx context.Context) error { return g.cognitiveBrain.Analyze(ctx) }},
	}
	for _, step := range steps {
		if err := brains.RunBounded(ctx, g.log, step.name, g.cfg.BrainTimeout, step.fn); err != nil {
			stats.Errors++
		}
	}
}

// runBestEffort covers the analyses the cycle can live without: correlation
// matrix and opportunity ranking.
func (g *Generator) runBestEffort(ctx context.Context, data brains.MarketData, stats *CycleStats) {
	if g.correlation != nil {
		if err := brains.RunBounded(ctx, g.log, "correlation", g.cfg.CorrTimeout, func(ctx context.Context) error {
			return g.correlation.Analyze(ctx, data)
		}); err != nil {
			stats.Errors++
		}
	}
	if g.opportunity != nil {
		if err := brains.RunBounded(ctx, g.log, "opportunity", g.cfg.BrainTimeout, func(ctx context.Context) error {
			return g.opportunity.Analyze(ctx, data)
		}); err != nil {
			stats.Errors++
		}
	}
}

// spikeCheck flags symbols whose last 5m bar moved beyond the spike
// threshold. A spike does not stop the symbol, it degrades it to CAUTION.
func (g *Generator) spikeCheck(data brains.MarketData) map[string]bool {
	spiked := make(map[string]bool)
	for symbol := range data {
		series := data.Series(symbol, markTimeframe)
		if len(series) < 2 {
			continue
		}
		prev := series[len(series)-2].Close
		last := series[len(series)-1].Close
		if prev <= 0 {
			continue
		}
		move := (last - prev) / prev
		if move < 0 {
			move = -move
		}
		if move >= spikeReturnThreshold {
			spiked[symbol] = true
			g.log.Warn().
				Str("symbol", symbol).
				Float64("move_pct", move*100).
				Msg("Price spike on last 5m bar")
		}
	}
	return spiked
}

// evaluateSymbol classifies, scores, and when warranted hands a snapshot to
// the gatekeeper. Every evaluated symbol lands in the signal log, TRADE or
// not; only STOP mode and unclassifiable symbols leave no trace.
func (g *Generator) evaluateSymbol(ctx context.Context, data brains.MarketData, symbol string, spiked bool, stats *CycleStats) {
	reads := make(map[string]brains.Read, len(Timeframes))
	for _, tf := range Timeframes {
		if read, ok := brains.Classify(data.Series(symbol, tf)); ok {
			reads[tf] = read
		}
	}
	if len(reads) == 0 {
		g.log.Debug().Str("symbol", symbol).Msg("No classifiable timeframe, symbol skipped")
		return
	}

	regime := g.sys.Regime()
	vol := volatilityOf(data.Series(symbol, "15m"), regime.Volatility)
	corr := g.sys.MarketCorrelation(symbol)
	score, details := scoreSymbol(reads, g.cfg.AnchorTimeframe, vol, corr)
	mode := marketMode(score, regime, vol, spiked)

	if mode == ModeStop {
		g.log.Info().
			Str("symbol", symbol).
			Int("score", score).
			Msg("Market mode STOP, symbol suppressed")
		return
	}

	snap, err := g.buildSnapshot(symbol, reads, data.Series(symbol, markTimeframe), regime, vol, corr, score, mode, details)
	if err != nil {
		g.log.Error().Err(err).Str("symbol", symbol).Msg("Snapshot build failed")
		stats.Errors++
		return
	}
	stats.Evaluated++

	if g.signalLog != nil {
		g.signalLog.Append(snap)
	}

	if snap.Decision() != snapshot.DecisionEnter {
		g.log.Debug().
			Str("symbol", symbol).
			Str("mode", mode.String()).
			Int("score", score).
			Msg("No entry conditions, snapshot recorded only")
		return
	}

	signalCtx, cancel := context.WithTimeout(ctx, g.cfg.SignalTimeout)
	out := g.gate.SendSignal(signalCtx, snap)
	cancel()

	switch {
	case out.Emitted:
		stats.Emitted++
		metrics.ObserveVerdict(true, "")
	case out.Suppressed:
		// duplicate anchor state, intentionally quiet
	default:
		stats.Blocked++
		metrics.ObserveVerdict(false, out.BlockedBy)
	}
}

// buildSnapshot assembles the immutable signal record, then derives the
// cognitive metrics from the snapshot itself and rebuilds it with them set.
func (g *Generator) buildSnapshot(
	symbol string,
	reads map[string]brains.Read,
	bars exchange.Series,
	regime marketstate.Regime,
	vol marketstate.VolatilityLevel,
	corr float64,
	score int,
	mode Mode,
	details []string,
) (*snapshot.Snapshot, error) {
	states := make(map[string]marketstate.State, len(reads))
	directions := make(map[string]marketstate.Direction, len(reads))
	for tf, r := range reads {
		states[tf] = r.State
		directions[tf] = r.Direction
	}

	risk := riskFor(regime, vol)
	dec, reason := decisionFor(mode, reads[g.cfg.AnchorTimeframe])

	params := snapshot.Params{
		Timestamp:       g.now(),
		Symbol:          symbol,
		AnchorTimeframe: g.cfg.AnchorTimeframe,
		States:          states,
		Directions:      directions,
		Regime:          regime,
		Volatility:      vol,
		Correlation:     clampCorr(corr),
		Score:           score,
		ScoreMax:        ScoreMax,
		Risk:            risk,
		Leverage:        leverageByRisk[risk],
		Decision:        dec,
		Reason:          reason,
		Details:         details,
	}

	if dec == snapshot.DecisionEnter {
		entry, tp, sl, ok := g.entryLevels(reads, bars, vol)
		if !ok {
			params.Decision = snapshot.DecisionObserve
			params.Reason = "no usable 5m bar for entry levels"
		} else {
			params.Entry = entry
			params.TakeProfit = tp
			params.StopLoss = sl
		}
	}

	snap, err := snapshot.New(params)
	if err != nil {
		return nil, err
	}

	// Cognitive metrics are meta-estimates over the finished snapshot, so
	// they need a second construction pass.
	params.Confidence = snapshot.Confidence(snap)
	params.Entropy = snapshot.Entropy(snap)
	return snapshot.New(params)
}

// entryLevels derives entry, stop and target from the last 5m bar, the ATR
// stop distance and the adaptive reward-to-risk target.
func (g *Generator) entryLevels(reads map[string]brains.Read, series exchange.Series, vol marketstate.VolatilityLevel) (entry, tp, sl float64, ok bool) {
	last, okLast := series.Last()
	if !okLast || last.Close <= 0 {
		return 0, 0, 0, false
	}
	atr, okATR := indicators.ATR(series.Highs(), series.Lows(), series.Closes(), atrPeriod)
	if !okATR || atr <= 0 {
		return 0, 0, 0, false
	}

	dir, _ := alignedDirection(reads)
	if dir == marketstate.DirectionFlat {
		if anchor, okA := reads[g.cfg.AnchorTimeframe]; okA {
			dir = anchor.Direction
		}
	}
	if dir == marketstate.DirectionFlat {
		return 0, 0, 0, false
	}

	entry = last.Close
	stopDist := stopATRMultiple * atr
	rr := adaptiveRR(reads, vol)
	if dir == marketstate.DirectionUp {
		sl = entry - stopDist
		tp = entry + rr*stopDist
	} else {
		sl = entry + stopDist
		tp = entry - rr*stopDist
	}
	if sl <= 0 || tp <= 0 {
		return 0, 0, 0, false
	}
	return entry, tp, sl, true
}

// decisionFor maps market mode onto the snapshot decision. CAUTION records a
// BLOCK so the audit trail shows the engine saw the setup and refused.
func decisionFor(mode Mode, anchor brains.Read) (snapshot.Decision, string) {
	switch mode {
	case ModeTrade:
		if anchor.Direction == marketstate.DirectionFlat && anchor.State != marketstate.StateRejection {
			return snapshot.DecisionObserve, "trade mode without directional anchor"
		}
		return snapshot.DecisionEnter, "trade mode with actionable anchor state"
	case ModeObserve:
		return snapshot.DecisionObserve, "score in observation band"
	default:
		return snapshot.DecisionBlock, "caution mode"
	}
}

// markOpenPositions feeds the latest 5m closes to the paper ledger so stops
// and targets fire on the same data the analysis used.
func (g *Generator) markOpenPositions(ctx context.Context, data brains.MarketData) {
	if g.ledger == nil {
		return
	}
	for symbol := range data {
		if last, ok := data.Series(symbol, markTimeframe).Last(); ok && last.Close > 0 {
			g.ledger.Mark(ctx, symbol, last.Close)
		}
	}
}

// observeDrift feeds the cycle's cognitive confidence into the drift
// detector and periodically re-grades, pushing the advisory level into the
// cognitive brain.
func (g *Generator) observeDrift(at time.Time) {
	if g.drift == nil {
		return
	}
	cog := g.sys.Cognitive()
	g.drift.Observe(at, cog.Confidence)

	g.mu.Lock()
	due := at.Sub(g.lastDrift) >= DefaultDriftEvery
	if due {
		g.lastDrift = at
	}
	g.mu.Unlock()
	if !due {
		return
	}

	report := g.drift.Evaluate()
	g.cognitiveBrain.SetDrift(report.Level)
}

// finishCycle persists when due, then records counters and the FSM outcome.
// The error streak lives in SystemState; the FSM grades the streak, not the
// single cycle.
func (g *Generator) finishCycle(ctx context.Context, start time.Time, stats *CycleStats) {
	g.mu.Lock()
	g.cycles++
	persistDue := g.checkpoints != nil && start.Sub(g.lastPersist) >= g.cfg.SnapshotEvery
	if persistDue {
		g.lastPersist = start
	}
	g.mu.Unlock()

	if persistDue {
		if err := g.persistCheckpoint(ctx); err != nil {
			g.log.Error().Err(err).Msg("Checkpoint persistence failed")
			stats.Errors++
		}
	}

	stats.Latency = g.now().Sub(start)
	metrics.CyclesTotal.Inc()
	metrics.CycleLatency.Observe(stats.Latency.Seconds())
	g.sys.RecordCycle(stats.Latency, stats.Emitted, stats.Blocked, stats.FetchFailures)

	streak := 0
	if stats.Errors > 0 {
		streak = g.sys.RecordError()
	} else {
		g.sys.ResetErrors()
	}
	g.machine.RecordCycleOutcome(streak)

	g.log.Info().
		Dur("latency", stats.Latency).
		Int("emitted", stats.Emitted).
		Int("blocked", stats.Blocked).
		Int("evaluated", stats.Evaluated).
		Int("errors", stats.Errors).
		Bool("skipped", stats.Skipped).
		Msg("Cycle complete")

	g.maybeDailyReport(ctx)
}

// maybeDailyReport sends one paper-trading summary per UTC day, on the first
// cycle at or after the session close hour.
func (g *Generator) maybeDailyReport(ctx context.Context) {
	if g.reports == nil || g.notifier == nil {
		return
	}
	now := g.now().UTC()
	if now.Hour() < dailyReportHourUTC {
		return
	}
	g.mu.Lock()
	due := g.lastReport.Year() != now.Year() || g.lastReport.YearDay() != now.YearDay()
	if due {
		g.lastReport = now
	}
	g.mu.Unlock()
	if !due {
		return
	}

	s := g.reports.Summarize(now.Add(-24 * time.Hour))
	text := fmt.Sprintf(
		"Daily report: %d closed (%d wins, %d losses), net %+.2f USD, %d open positions (%.2f USD at risk)",
		s.Closed, s.Wins, s.Losses, s.NetPnLUSD, s.OpenCount, s.OpenSizeUSD)
	if err := g.notifier.SendText(ctx, text); err != nil {
		g.log.Warn().Err(err).Msg("Failed to send daily report")
	}
}

func (g *Generator) persistCheckpoint(ctx context.Context) error {
	if err := faults.StorageFailure(); err != nil {
		return err
	}
	return g.checkpoints.Save(ctx, g.sys.CreateCheckpoint())
}

// Cycles reports how many cycles completed.
func (g *Generator) Cycles() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cycles
}

func (g *Generator) notify(ctx context.Context, text string) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.SendText(ctx, text); err != nil {
		g.log.Warn().Err(err).Msg("Operator notification failed")
	}
}

func volatilityOf(series exchange.Series, fallback marketstate.VolatilityLevel) marketstate.VolatilityLevel {
	last, ok := series.Last()
	if !ok || last.Close <= 0 {
		return fallback
	}
	atr, okATR := indicators.ATR(series.Highs(), series.Lows(), series.Closes(), atrPeriod)
	if !okATR {
		return fallback
	}
	ratio := atr / last.Close
	switch {
	case ratio < 0.005:
		return marketstate.VolatilityLow
	case ratio < 0.015:
		return marketstate.VolatilityNormal
	case ratio < 0.03:
		return marketstate.VolatilityHigh
	default:
		return marketstate.VolatilityExtreme
	}
}

func clampCorr(v float64) float64 {
	if v < 0 {
		v = -v
	}
	if v > 1 {
		v = 1
	}
	return v
}
