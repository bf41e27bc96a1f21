package brains

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/indicators"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/state"
)

// Regime read thresholds. A symbol contributes a trend vote only when ADX
// clears the weak-trend floor; volatility tiers are ATR as a fraction of
// price.
const (
	regimeTimeframe  = "1h"
	regimeEMAFast    = 12
	regimeEMASlow    = 26
	regimeATRPeriod  = 14
	regimeVolLowPct  = 0.005
	regimeVolHighPct = 0.02
	regimeVolExtPct  = 0.05
)

// regimeRead is one symbol's contribution to the aggregate.
type regimeRead struct {
	trend    marketstate.TrendType
	volatile marketstate.VolatilityLevel
	decisive bool
}

// MarketRegimeBrain aggregates per-symbol 1h reads into the system-wide
// MarketRegime slice. NON_CRITICAL: a failed pass keeps the previous regime.
type MarketRegimeBrain struct {
	log zerolog.Logger
	sys *state.SystemState
}

func NewMarketRegimeBrain(log zerolog.Logger, sys *state.SystemState) *MarketRegimeBrain {
	return &MarketRegimeBrain{
		log: log.With().Str("component", "market_regime_brain").Logger(),
		sys: sys,
	}
}

// Analyze recomputes the aggregate regime from the 1h series of every symbol
// present in data and stores it. Symbols without a usable 1h series are
// skipped; an empty bundle is an error so the prior regime survives.
func (b *MarketRegimeBrain) Analyze(ctx context.Context, data MarketData) error {
	var reads []regimeRead
	for symbol := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		series := data.Series(symbol, regimeTimeframe)
		if len(series) < regimeEMASlow {
			continue
		}
		closes := series.Closes()
		r := regimeRead{trend: marketstate.TrendUnknown, volatile: marketstate.VolatilityUnknown}

		fast, okF := indicators.EMA(closes, regimeEMAFast)
		slow, okS := indicators.EMA(closes, regimeEMASlow)
		adx, okA := indicators.ADX(series.Highs(), series.Lows(), closes, regimeATRPeriod)
		if okF && okS && okA {
			r.decisive = true
			switch {
			case adx < indicators.ADXWeak:
				r.trend = marketstate.TrendRange
			case fast > slow:
				r.trend = marketstate.TrendUp
			default:
				r.trend = marketstate.TrendDown
			}
		}

		last, _ := series.Last()
		if atr, ok := indicators.ATR(series.Highs(), series.Lows(), closes, regimeATRPeriod); ok && last.Close > 0 {
			r.volatile = volatilityTier(atr / last.Close)
		}
		reads = append(reads, r)
	}

	if len(reads) == 0 {
		return fmt.Errorf("no symbol had a usable %s series", regimeTimeframe)
	}

	regime := aggregateRegime(reads)
	b.sys.SetRegime(regime)
	b.log.Debug().
		Str("trend", regime.Trend.String()).
		Str("volatility", regime.Volatility.String()).
		Str("sentiment", regime.Sentiment.String()).
		Float64("confidence", regime.Confidence).
		Int("symbols", len(reads)).
		Msg("Market regime updated")
	return nil
}

func volatilityTier(atrPct float64) marketstate.VolatilityLevel {
	switch {
	case atrPct >= regimeVolExtPct:
		return marketstate.VolatilityExtreme
	case atrPct >= regimeVolHighPct:
		return marketstate.VolatilityHigh
	case atrPct < regimeVolLowPct:
		return marketstate.VolatilityLow
	default:
		return marketstate.VolatilityNormal
	}
}

// aggregateRegime takes the majority trend vote, the worst volatility tier,
// and derives sentiment from the up/down balance. Confidence is the share of
// decisive reads scaled by the majority margin, so a split vote across fully
// decisive reads still lands low.
func aggregateRegime(reads []regimeRead) marketstate.Regime {
	var up, down, ranging, decisive int
	worstVol := marketstate.VolatilityUnknown
	for _, r := range reads {
		if r.decisive {
			decisive++
		}
		switch r.trend {
		case marketstate.TrendUp:
			up++
		case marketstate.TrendDown:
			down++
		case marketstate.TrendRange:
			ranging++
		}
		if r.volatile > worstVol {
			worstVol = r.volatile
		}
	}

	total := len(reads)
	trend := marketstate.TrendUnknown
	majority := 0
	switch {
	case up > down && up > ranging:
		trend, majority = marketstate.TrendUp, up
	case down > up && down > ranging:
		trend, majority = marketstate.TrendDown, down
	case ranging >= up && ranging >= down && ranging > 0:
		trend, majority = marketstate.TrendRange, ranging
	}

	sentiment := marketstate.SentimentNeutral
	switch {
	case up > 0 && up >= 2*max(down, 1):
		sentiment = marketstate.SentimentRiskOn
	case down > 0 && down >= 2*max(up, 1):
		sentiment = marketstate.SentimentRiskOff
	}
	if worstVol == marketstate.VolatilityExtreme {
		sentiment = marketstate.SentimentRiskOff
	}

	conf := 0.0
	if total > 0 {
		conf = clamp01(float64(decisive) / float64(total) * float64(majority) / float64(total))
	}
	return marketstate.Regime{
		Trend:      trend,
		Volatility: worstVol,
		Sentiment:  sentiment,
		Confidence: conf,
	}
}
