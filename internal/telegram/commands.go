package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/marketvigil/vigil/internal/decision"
)

const defaultSymbol = "BTCUSDT"

func handleHelp(_ context.Context, _ *Bot, _ *tgbotapi.Message) (string, error) {
	return `Vigil - read-only command reference

/should_i_trade [symbol] - current trading verdict for a symbol
/risk_status - runtime health and trading gate
/invest <amount> - advisory sizing at the current risk budget
/market_regime - aggregated market regime
/risk_exposure - exposure against the risk budget
/cognitive - system confidence and entropy
/opportunities - per-symbol opportunity scores
/stats [days] - paper trading stats
/status - engine status and counters
/trades - open and recent paper trades
/signals [n] - recent signals
/gatekeeper - full gate check result

All commands are read-only; the bot cannot control the engine.`, nil
}

func handleShouldITrade(_ context.Context, b *Bot, message *tgbotapi.Message) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(message.CommandArguments()))
	if symbol == "" {
		symbol = defaultSymbol
	}
	v := b.deps.Core.Evaluate(symbol)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision for %s\n", symbol)
	if v.CanTrade {
		sb.WriteString("Verdict: TRADE ALLOWED\n")
	} else {
		sb.WriteString("Verdict: DO NOT TRADE\n")
	}
	fmt.Fprintf(&sb, "Reason: %s\n", v.Reason)
	fmt.Fprintf(&sb, "Risk level: %s\n", v.RiskLevel)
	fmt.Fprintf(&sb, "Max position: %.2f USD\n", v.MaxPositionSize)
	fmt.Fprintf(&sb, "Max leverage: %.0fx", v.MaxLeverage)
	for _, rec := range v.Recommendations {
		fmt.Fprintf(&sb, "\n- %s", rec)
	}
	return sb.String(), nil
}

func handleRiskStatus(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	health := b.deps.Sys.Health()
	var sb strings.Builder
	sb.WriteString("Risk status\n")
	fmt.Fprintf(&sb, "State: %s\n", b.deps.Machine.Current())
	fmt.Fprintf(&sb, "Running: %v, Safe mode: %v, Trading paused: %v\n",
		health.IsRunning, health.SafeMode, health.TradingPaused)
	fmt.Fprintf(&sb, "Consecutive errors: %d\n", health.ConsecutiveErrors)
	fmt.Fprintf(&sb, "Can trade: %v", b.deps.Sys.CanTrade())
	return sb.String(), nil
}

func handleInvest(_ context.Context, b *Bot, message *tgbotapi.Message) (string, error) {
	arg := strings.TrimSpace(message.CommandArguments())
	amount, err := strconv.ParseFloat(arg, 64)
	if err != nil || amount <= 0 {
		return "", fmt.Errorf("usage: /invest <amount_usd>")
	}

	cog := b.deps.Sys.Cognitive()
	exposure := b.deps.Sys.Exposure()
	result := b.deps.Sizer.Size(decision.SizerInput{
		BalanceUSD:         amount,
		BaseRiskPct:        b.deps.BaseRiskPct,
		Confidence:         cog.Confidence,
		Entropy:            cog.Entropy,
		AvailableRiskRatio: exposure.AvailableRiskRatio(),
		Multiplier:         1,
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "Advisory sizing for %.2f USD\n", amount)
	if !result.Allowed {
		fmt.Fprintf(&sb, "Not advisable right now: %s", result.Reason)
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Risk per trade: %.2f%%\n", result.FinalRiskPct)
	fmt.Fprintf(&sb, "Suggested position: %.2f USD\n", result.SizeUSD)
	fmt.Fprintf(&sb, "Confidence %.2f, entropy %.2f, available risk %.0f%%",
		cog.Confidence, cog.Entropy, exposure.AvailableRiskRatio()*100)
	return sb.String(), nil
}

func handleMarketRegime(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	r := b.deps.Sys.Regime()
	var sb strings.Builder
	sb.WriteString("Market regime\n")
	fmt.Fprintf(&sb, "Trend: %s\n", r.Trend)
	fmt.Fprintf(&sb, "Volatility: %s\n", r.Volatility)
	fmt.Fprintf(&sb, "Sentiment: %s\n", r.Sentiment)
	fmt.Fprintf(&sb, "Confidence: %.2f", r.Confidence)
	if r.Degraded() {
		sb.WriteString("\nRegime is degraded; entries are suppressed.")
	}
	return sb.String(), nil
}

func handleRiskExposure(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	e := b.deps.Sys.Exposure()
	var sb strings.Builder
	sb.WriteString("Risk exposure\n")
	fmt.Fprintf(&sb, "Total: %.2f USD (long %.2f / short %.2f)\n",
		e.TotalExposureUSD, e.LongExposureUSD, e.ShortExposureUSD)
	fmt.Fprintf(&sb, "Risk budget: %.2f USD, used %.2f USD (%.0f%%)\n",
		e.RiskBudgetUSD, e.UsedRiskUSD, e.UsedRatio()*100)
	fmt.Fprintf(&sb, "Available risk: %.0f%%", e.AvailableRiskRatio()*100)
	return sb.String(), nil
}

func handleCognitive(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	c := b.deps.Sys.Cognitive()
	var sb strings.Builder
	sb.WriteString("Cognitive state\n")
	fmt.Fprintf(&sb, "Confidence: %.2f\n", c.Confidence)
	fmt.Fprintf(&sb, "Entropy: %.2f", c.Entropy)
	if c.DriftLevel != "" {
		fmt.Fprintf(&sb, "\nDrift: %s", c.DriftLevel)
	}
	return sb.String(), nil
}

func handleOpportunities(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	opps := b.deps.Sys.Opportunities()
	if len(opps) == 0 {
		return "No opportunities scored yet.", nil
	}
	type entry struct {
		symbol string
		score  float64
		line   string
	}
	entries := make([]entry, 0, len(opps))
	for sym, o := range opps {
		entries = append(entries, entry{
			symbol: sym,
			score:  o.Score,
			line:   fmt.Sprintf("%s: %.2f %s (%s)", sym, o.Score, o.Direction, o.Note),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].symbol < entries[j].symbol
	})

	var sb strings.Builder
	sb.WriteString("Opportunities\n")
	for _, e := range entries {
		sb.WriteString(e.line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func handleStats(_ context.Context, b *Bot, message *tgbotapi.Message) (string, error) {
	days := 1
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		if n, err := strconv.Atoi(arg); err == nil && n > 0 {
			days = n
		}
	}
	summary := b.deps.Ledger.Summarize(time.Now().Add(-time.Duration(days) * 24 * time.Hour))
	perf := b.deps.Sys.Perf()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Stats (last %dd)\n", days)
	fmt.Fprintf(&sb, "Closed trades: %d (W %d / L %d)\n", summary.Closed, summary.Wins, summary.Losses)
	fmt.Fprintf(&sb, "Net PnL: %.2f USD\n", summary.NetPnLUSD)
	fmt.Fprintf(&sb, "Open: %d positions, %.2f USD\n", summary.OpenCount, summary.OpenSizeUSD)
	fmt.Fprintf(&sb, "Cycles: %d, emitted %d, blocked %d",
		perf.CyclesTotal, perf.SignalsEmitted, perf.SignalsBlocked)
	return sb.String(), nil
}

func handleStatus(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	health := b.deps.Sys.Health()
	perf := b.deps.Sys.Perf()

	heartbeat := "never"
	if !health.LastHeartbeat.IsZero() {
		heartbeat = fmt.Sprintf("%s ago", time.Since(health.LastHeartbeat).Round(time.Second))
	}

	var sb strings.Builder
	sb.WriteString("Engine status\n")
	fmt.Fprintf(&sb, "State: %s\n", b.deps.Machine.Current())
	fmt.Fprintf(&sb, "Heartbeat: %s\n", heartbeat)
	fmt.Fprintf(&sb, "Cycles: %d (last %.1fs)\n", perf.CyclesTotal, perf.LastCycleLatency.Seconds())
	fmt.Fprintf(&sb, "Signals: %d emitted / %d blocked\n", perf.SignalsEmitted, perf.SignalsBlocked)
	fmt.Fprintf(&sb, "Fetch failures: %d", perf.FetchFailures)
	return sb.String(), nil
}

func handleTrades(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	open := b.deps.Ledger.OpenPositions()
	closed := b.deps.Ledger.ClosedTrades(5)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Open positions: %d\n", len(open))
	for _, tr := range open {
		side := "SHORT"
		if tr.Long {
			side = "LONG"
		}
		fmt.Fprintf(&sb, "%s %s %.2f USD @ %.4f (stop %.4f, target %.4f)\n",
			tr.Symbol, side, tr.SizeUSD, tr.Entry, tr.Stop, tr.Target)
	}
	fmt.Fprintf(&sb, "Recent closed: %d", len(closed))
	for _, tr := range closed {
		fmt.Fprintf(&sb, "\n%s %s %.2f USD pnl %.2f", tr.Symbol, tr.CloseReason, tr.SizeUSD, tr.PnLUSD)
	}
	return sb.String(), nil
}

func handleSignals(_ context.Context, b *Bot, message *tgbotapi.Message) (string, error) {
	n := 5
	if arg := strings.TrimSpace(message.CommandArguments()); arg != "" {
		if parsed, err := strconv.Atoi(arg); err == nil && parsed > 0 {
			n = parsed
		}
	}
	signals := b.deps.Sys.RecentSignals(n)
	if len(signals) == 0 {
		return "No signals recorded yet.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d signals\n", len(signals))
	for _, sig := range signals {
		fmt.Fprintf(&sb, "%s %s %s score %d conf %.2f\n",
			sig.Timestamp.UTC().Format("01-02 15:04"), sig.Symbol, sig.Decision, sig.Score, sig.Confidence)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func handleGatekeeper(_ context.Context, b *Bot, _ *tgbotapi.Message) (string, error) {
	result := b.deps.Guardian.CanTradeSync()

	var sb strings.Builder
	sb.WriteString("Gate check\n")
	if result.Allowed {
		sb.WriteString("Result: OPEN (signals may pass)")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "Result: CLOSED\nBlocked by: %s\nReason: %s", result.BlockedBy, result.Reason)
	for _, v := range result.Violations {
		fmt.Fprintf(&sb, "\n- %s", v)
	}
	return sb.String(), nil
}
