package brains

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/exchange"
	"github.com/marketvigil/vigil/internal/indicators"
	"github.com/marketvigil/vigil/internal/marketstate"
	"github.com/marketvigil/vigil/internal/state"
)

const (
	oppTimeframe    = "15m"
	oppRSIPeriod    = 14
	oppVolumeWindow = 20
)

// OpportunityBrain scores each instrument's short-horizon attractiveness on
// its 15m series and publishes one Opportunity per symbol. NON_CRITICAL.
type OpportunityBrain struct {
	log zerolog.Logger
	sys *state.SystemState
	now func() time.Time
}

func NewOpportunityBrain(log zerolog.Logger, sys *state.SystemState) *OpportunityBrain {
	return &OpportunityBrain{
		log: log.With().Str("component", "opportunity_brain").Logger(),
		sys: sys,
		now: time.Now,
	}
}

// Analyze scores every symbol with a usable 15m series. Symbols missing data
// this cycle keep their previous opportunity entry.
func (b *OpportunityBrain) Analyze(ctx context.Context, data MarketData) error {
	scored := 0
	for symbol := range data {
		if err := ctx.Err(); err != nil {
			return err
		}
		series := data.Series(symbol, oppTimeframe)
		if len(series) < indicators.MACDSlow {
			continue
		}
		opp := b.score(symbol, series)
		b.sys.SetOpportunity(opp)
		scored++
	}
	if scored == 0 {
		return fmt.Errorf("no symbol had a usable %s series", oppTimeframe)
	}
	b.log.Debug().Int("symbols", scored).Msg("Opportunities updated")
	return nil
}

// score blends momentum, trend strength and volume participation into a
// [0,1] attractiveness estimate. Direction follows the MACD sign when the
// momentum read is decisive, otherwise flat.
func (b *OpportunityBrain) score(symbol string, series exchange.Series) state.Opportunity {
	closes := series.Closes()
	rsi := indicators.RSI(closes, oppRSIPeriod)
	volRatio := indicators.VolumeRatio(series.Volumes(), oppVolumeWindow)

	direction := marketstate.DirectionFlat
	momentum := 0.0
	if macdVal, signal, ok := indicators.MACD(closes); ok {
		switch {
		case macdVal > signal && rsi > indicators.NeutralRSI:
			direction = marketstate.DirectionUp
			momentum = clamp01((rsi - indicators.NeutralRSI) / 30)
		case macdVal < signal && rsi < indicators.NeutralRSI:
			direction = marketstate.DirectionDown
			momentum = clamp01((indicators.NeutralRSI - rsi) / 30)
		}
	}

	trendStrength := 0.0
	if adx, ok := indicators.ADX(series.Highs(), series.Lows(), closes, oppRSIPeriod); ok {
		trendStrength = clamp01(adx / indicators.ADXVeryStrong)
	}

	participation := clamp01(volRatio / 2)

	score := clamp01(0.45*momentum + 0.35*trendStrength + 0.20*participation)
	note := "no edge"
	switch {
	case score >= 0.7:
		note = "strong setup"
	case score >= 0.4:
		note = "developing setup"
	case score > 0:
		note = "weak setup"
	}

	return state.Opportunity{
		Symbol:    symbol,
		Score:     score,
		Direction: direction,
		Note:      note,
		UpdatedAt: b.now(),
	}
}
