package snapshot

import (
	"time"

	"github.com/marketvigil/vigil/internal/marketstate"
)

// Record is the serialized form of a snapshot, used at the persistence edge
// and by replay. String labels exist only here.
type Record struct {
	ID              string             `json:"id"`
	Timestamp       time.Time          `json:"timestamp"`
	Symbol          string             `json:"symbol"`
	AnchorTimeframe string             `json:"anchor_timeframe"`
	States          map[string]string  `json:"states"`
	Directions      map[string]string  `json:"directions"`
	TrendType       string             `json:"trend_type"`
	Volatility      string             `json:"volatility"`
	Sentiment       string             `json:"sentiment"`
	RegimeConf      float64            `json:"regime_confidence"`
	Correlation     float64            `json:"correlation"`
	Score           int                `json:"score"`
	ScoreMax        int                `json:"score_max"`
	Confidence      float64            `json:"confidence"`
	Entropy         float64            `json:"entropy"`
	Risk            string             `json:"risk"`
	Leverage        float64            `json:"leverage,omitempty"`
	Entry           float64            `json:"entry,omitempty"`
	TakeProfit      float64            `json:"take_profit,omitempty"`
	StopLoss        float64            `json:"stop_loss,omitempty"`
	RRRatio         float64            `json:"rr_ratio,omitempty"`
	Decision        string             `json:"decision"`
	Reason          string             `json:"reason,omitempty"`
	Details         []string           `json:"details,omitempty"`
}

// ToRecord serializes a snapshot for persistence.
func (s *Snapshot) ToRecord() Record {
	states := make(map[string]string, len(s.states))
	for tf, st := range s.states {
		states[tf] = st.String()
	}
	dirs := make(map[string]string, len(s.directions))
	for tf, d := range s.directions {
		dirs[tf] = d.String()
	}
	return Record{
		ID:              s.id.String(),
		Timestamp:       s.timestamp,
		Symbol:          s.symbol,
		AnchorTimeframe: s.anchorTimeframe,
		States:          states,
		Directions:      dirs,
		TrendType:       s.regime.Trend.String(),
		Volatility:      s.volatility.String(),
		Sentiment:       s.regime.Sentiment.String(),
		RegimeConf:      s.regime.Confidence,
		Correlation:     s.correlation,
		Score:           s.score,
		ScoreMax:        s.scoreMax,
		Confidence:      s.confidence,
		Entropy:         s.entropy,
		Risk:            s.risk.String(),
		Leverage:        s.leverage,
		Entry:           s.entry,
		TakeProfit:      s.takeProfit,
		StopLoss:        s.stopLoss,
		RRRatio:         s.rrRatio,
		Decision:        s.decision.String(),
		Reason:          s.reason,
		Details:         append([]string(nil), s.details...),
	}
}

// FromRecord rebuilds a snapshot from its serialized form. Unknown state
// labels become absent timeframes; everything else is validated exactly as
// a live construction would be.
func FromRecord(r Record) (*Snapshot, error) {
	states := make(map[string]marketstate.State, len(r.States))
	for tf, raw := range r.States {
		if st, ok := marketstate.Parse(raw); ok {
			states[tf] = st
		}
	}
	dirs := make(map[string]marketstate.Direction, len(r.Directions))
	for tf, raw := range r.Directions {
		switch raw {
		case "UP":
			dirs[tf] = marketstate.DirectionUp
		case "DOWN":
			dirs[tf] = marketstate.DirectionDown
		default:
			dirs[tf] = marketstate.DirectionFlat
		}
	}
	risk, ok := marketstate.ParseRiskLevel(r.Risk)
	if !ok {
		risk = marketstate.RiskHigh // unknown grades as worst
	}
	decision, ok := ParseDecision(r.Decision)
	if !ok {
		decision = DecisionBlock
	}
	return New(Params{
		Timestamp:       r.Timestamp,
		Symbol:          r.Symbol,
		AnchorTimeframe: r.AnchorTimeframe,
		States:          states,
		Directions:      dirs,
		Regime: marketstate.Regime{
			Trend:      parseTrend(r.TrendType),
			Volatility: parseVolatility(r.Volatility),
			Sentiment:  parseSentiment(r.Sentiment),
			Confidence: r.RegimeConf,
		},
		Volatility:  parseVolatility(r.Volatility),
		Correlation: r.Correlation,
		Score:       r.Score,
		ScoreMax:    r.ScoreMax,
		Confidence:  r.Confidence,
		Entropy:     r.Entropy,
		Risk:        risk,
		Leverage:    r.Leverage,
		Entry:       r.Entry,
		TakeProfit:  r.TakeProfit,
		StopLoss:    r.StopLoss,
		Decision:    decision,
		Reason:      r.Reason,
		Details:     r.Details,
	})
}

func parseTrend(raw string) marketstate.TrendType {
	switch raw {
	case "RANGE":
		return marketstate.TrendRange
	case "TREND_UP":
		return marketstate.TrendUp
	case "TREND_DOWN":
		return marketstate.TrendDown
	default:
		return marketstate.TrendUnknown
	}
}

func parseVolatility(raw string) marketstate.VolatilityLevel {
	switch raw {
	case "LOW":
		return marketstate.VolatilityLow
	case "NORMAL":
		return marketstate.VolatilityNormal
	case "HIGH":
		return marketstate.VolatilityHigh
	case "EXTREME":
		return marketstate.VolatilityExtreme
	default:
		return marketstate.VolatilityUnknown
	}
}

func parseSentiment(raw string) marketstate.RiskSentiment {
	switch raw {
	case "RISK_ON":
		return marketstate.SentimentRiskOn
	case "RISK_OFF":
		return marketstate.SentimentRiskOff
	default:
		return marketstate.SentimentNeutral
	}
}
