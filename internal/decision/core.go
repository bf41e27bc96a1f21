package decision

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/state"
)

// Leverage caps by risk level.
const (
	maxLeverageLow    = 5.0
	maxLeverageMedium = 3.0
	maxLeverageHigh   = 2.0
)

// Verdict is DecisionCore's per-instrument synthesis of the shared state.
type Verdict struct {
	CanTrade        bool
	RiskLevel       marketstate.RiskLevel
	MaxPositionSize float64
	MaxLeverage     float64
	Reason          string
	Recommendations []string
}

// Core synthesizes trading verdicts from the shared state. It owns no state
// of its own; its only write is SystemState.can_trade.
type Core struct {
	log zerolog.Logger
	sys *state.SystemState
}

// NewCore builds the decision core.
func NewCore(log zerolog.Logger, sys *state.SystemState) *Core {
	return &Core{
		log: log.With().Str("component", "decision_core").Logger(),
		sys: sys,
	}
}

// ShouldTrade is the global go/no-go read by the cycle loop before any
// per-instrument work.
func (c *Core) ShouldTrade() (bool, string) {
	health := c.sys.Health()
	if !health.IsRunning {
		return false, "runtime is not running"
	}
	if health.TradingPaused || health.SafeMode {
		return false, "trading is paused"
	}
	regime := c.sys.Regime()
	if regime.Degraded() {
		return false, "market regime data is degraded"
	}
	cognitive := c.sys.Cognitive()
	if cognitive.Confidence > 0 && cognitive.Confidence < 0.25 {
		return false, fmt.Sprintf("system confidence %.2f too low", cognitive.Confidence)
	}
	return true, ""
}

// Evaluate produces the per-instrument verdict and records can_trade on the
// shared state.
func (c *Core) Evaluate(symbol string) Verdict {
	v := c.evaluate(symbol)
	c.sys.SetCanTrade(v.CanTrade)
	if !v.CanTrade {
		c.log.Info().Str("symbol", symbol).Str("reason", v.Reason).Msg("Decision core denied trading")
	}
	return v
}

func (c *Core) evaluate(symbol string) Verdict {
	if ok, reason := c.ShouldTrade(); !ok {
		return Verdict{Reason: reason, RiskLevel: marketstate.RiskHigh}
	}

	regime := c.sys.Regime()
	exposure := c.sys.Exposure()
	cognitive := c.sys.Cognitive()

	risk := riskFromRegime(regime)
	var recs []string

	available := exposure.AvailableRiskRatio()
	if available <= 0 {
		return Verdict{
			Reason:    "risk budget exhausted",
			RiskLevel: risk,
		}
	}

	maxSize := exposure.RiskBudgetUSD * available
	switch risk {
	case marketstate.RiskHigh:
		maxSize *= 0.5
		recs = append(recs, "high risk regime, halve position intent")
	case marketstate.RiskMedium:
		maxSize *= 0.75
	}

	if cognitive.Entropy > 0.6 {
		recs = append(recs, fmt.Sprintf("elevated system entropy %.2f, prefer fewer positions", cognitive.Entropy))
	}
	if corr := c.sys.MarketCorrelation(symbol); corr > 0.8 {
		recs = append(recs, fmt.Sprintf("%s highly market-correlated (%.2f)", symbol, corr))
	}

	return Verdict{
		CanTrade:        true,
		RiskLevel:       risk,
		MaxPositionSize: maxSize,
		MaxLeverage:     leverageFor(risk),
		Recommendations: recs,
	}
}

func riskFromRegime(r marketstate.Regime) marketstate.RiskLevel {
	switch r.Volatility {
	case marketstate.VolatilityExtreme:
		return marketstate.RiskHigh
	case marketstate.VolatilityHigh:
		if r.Sentiment == marketstate.SentimentRiskOff {
			return marketstate.RiskHigh
		}
		return marketstate.RiskMedium
	case marketstate.VolatilityNormal:
		if r.Sentiment == marketstate.SentimentRiskOff {
			return marketstate.RiskMedium
		}
		return marketstate.RiskLow
	case marketstate.VolatilityLow:
		return marketstate.RiskLow
	default:
		return marketstate.RiskHigh
	}
}

func leverageFor(risk marketstate.RiskLevel) float64 {
	switch risk {
	case marketstate.RiskLow:
		return maxLeverageLow
	case marketstate.RiskMedium:
		return maxLeverageMedium
	default:
		return maxLeverageHigh
	}
}
