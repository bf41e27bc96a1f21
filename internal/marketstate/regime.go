package marketstate

// Direction is the per-timeframe directional bias.
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionUp
	DirectionDown
)

// String returns the persistence label for the direction.
func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "UP"
	case DirectionDown:
		return "DOWN"
	default:
		return "FLAT"
	}
}

// RiskLevel grades the risk of acting on a signal.
type RiskLevel int

const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// ParseRiskLevel converts an IO-boundary string to a RiskLevel.
func ParseRiskLevel(raw string) (RiskLevel, bool) {
	switch raw {
	case "LOW":
		return RiskLow, true
	case "MEDIUM":
		return RiskMedium, true
	case "HIGH":
		return RiskHigh, true
	default:
		return 0, false
	}
}

// VolatilityLevel tiers realized volatility.
type VolatilityLevel int

const (
	VolatilityUnknown VolatilityLevel = iota
	VolatilityLow
	VolatilityNormal
	VolatilityHigh
	VolatilityExtreme
)

func (v VolatilityLevel) String() string {
	switch v {
	case VolatilityLow:
		return "LOW"
	case VolatilityNormal:
		return "NORMAL"
	case VolatilityHigh:
		return "HIGH"
	case VolatilityExtreme:
		return "EXTREME"
	default:
		return "UNKNOWN"
	}
}

// TrendType is the aggregated trend classification.
type TrendType int

const (
	TrendUnknown TrendType = iota
	TrendRange
	TrendUp
	TrendDown
)

func (t TrendType) String() string {
	switch t {
	case TrendRange:
		return "RANGE"
	case TrendUp:
		return "TREND_UP"
	case TrendDown:
		return "TREND_DOWN"
	default:
		return "UNKNOWN"
	}
}

// RiskSentiment is the aggregated appetite tier.
type RiskSentiment int

const (
	SentimentNeutral RiskSentiment = iota
	SentimentRiskOn
	SentimentRiskOff
)

func (r RiskSentiment) String() string {
	switch r {
	case SentimentRiskOn:
		return "RISK_ON"
	case SentimentRiskOff:
		return "RISK_OFF"
	default:
		return "NEUTRAL"
	}
}

// Regime is the system-wide aggregated regime picture. It is produced by the
// market regime brain and consumed read-only by the validators.
type Regime struct {
	Trend      TrendType
	Volatility VolatilityLevel
	Sentiment  RiskSentiment
	Confidence float64 // [0,1]
}

// Degraded reports whether the regime picture itself is too uncertain to
// support entries.
func (r Regime) Degraded() bool {
	return r.Trend == TrendUnknown || r.Confidence < 0.2
}
