package decision

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/snapshot"
	"github.com/marketvigil/vigil/internal/state"
)

// PortfolioAction is the portfolio brain's verdict kind.
type PortfolioAction string

const (
	PortfolioAllow     PortfolioAction = "ALLOW"
	PortfolioScaleDown PortfolioAction = "SCALE_DOWN"
	PortfolioReduce    PortfolioAction = "REDUCE"
	PortfolioBlock     PortfolioAction = "BLOCK"
)

// Portfolio thresholds.
const (
	portfolioMaxEntropy       = 0.75
	portfolioDominantShare    = 0.60
	portfolioOverloadedShare  = 0.40
	portfolioMinConfidence    = 0.40
	portfolioHighCorrelation  = 0.70
	portfolioModCorrelation   = 0.50
	portfolioNearBudgetRatio  = 0.85
	portfolioConfidenceBelow  = 0.15
	portfolioReduceMultiplier = 0.3
)

// PortfolioVerdict carries the action and the size multiplier the
// Gatekeeper must apply.
type PortfolioVerdict struct {
	Action         PortfolioAction
	SizeMultiplier float64
	Reason         string
}

// PortfolioBrain judges an incoming signal against the current book: does
// it diversify or concentrate, and can the budget carry it.
type PortfolioBrain struct {
	log zerolog.Logger
	sys *state.SystemState
}

// NewPortfolioBrain builds the portfolio validator.
func NewPortfolioBrain(log zerolog.Logger, sys *state.SystemState) *PortfolioBrain {
	return &PortfolioBrain{
		log: log.With().Str("component", "portfolio_brain").Logger(),
		sys: sys,
	}
}

func block(reason string) PortfolioVerdict {
	return PortfolioVerdict{Action: PortfolioBlock, SizeMultiplier: 0, Reason: reason}
}

func scaleDown(mult float64, reason string) PortfolioVerdict {
	return PortfolioVerdict{Action: PortfolioScaleDown, SizeMultiplier: mult, Reason: reason}
}

// Evaluate runs the block rules first, then the compromise paths, then the
// scale-down rules. An empty book always allows at full size.
func (b *PortfolioBrain) Evaluate(snap *snapshot.Snapshot) PortfolioVerdict {
	if snap.Confidence() < portfolioMinConfidence {
		return block(fmt.Sprintf("signal confidence %.2f below %.2f", snap.Confidence(), portfolioMinConfidence))
	}

	book := b.sys.Portfolio()
	if len(book.Positions) == 0 {
		return PortfolioVerdict{Action: PortfolioAllow, SizeMultiplier: 1.0}
	}

	anchor, hasAnchor := snap.AnchorState()
	dominant, share := book.DominantState()
	reinforces := hasAnchor && anchor == dominant

	if avg := book.AvgEntropy(); avg > portfolioMaxEntropy {
		return block(fmt.Sprintf("portfolio entropy %.2f above %.2f", avg, portfolioMaxEntropy))
	}
	if share >= portfolioDominantShare && reinforces {
		return block(fmt.Sprintf("%.0f%% of book already in state %s", share*100, dominant))
	}
	if book.RiskBudgetUSD > 0 && book.TotalExposure > book.RiskBudgetUSD {
		return block(fmt.Sprintf("exposure %.0f exceeds budget %.0f", book.TotalExposure, book.RiskBudgetUSD))
	}

	avgConf := book.AvgConfidence()
	avgEnt := book.AvgEntropy()
	attractive := snap.Confidence() > avgConf && snap.Entropy() < avgEnt

	// Near the budget a strategically attractive signal gets the REDUCE
	// compromise instead of a block downstream.
	if book.RiskBudgetUSD > 0 {
		used := book.UsedRiskUSD / book.RiskBudgetUSD
		if used > portfolioNearBudgetRatio && attractive {
			return PortfolioVerdict{
				Action:         PortfolioReduce,
				SizeMultiplier: portfolioReduceMultiplier,
				Reason:         fmt.Sprintf("risk budget %.0f%% used, reduced entry", used*100),
			}
		}
	}

	corr := b.sys.MarketCorrelation(snap.Symbol())
	belowBook := snap.Confidence() < avgConf-portfolioConfidenceBelow

	if corr > portfolioHighCorrelation {
		return scaleDown(0.6, fmt.Sprintf("market correlation %.2f", corr))
	}
	// Moderate correlation on top of a clearly stronger book halves the
	// entry rather than trimming it.
	if corr >= portfolioModCorrelation && belowBook {
		return scaleDown(0.5, fmt.Sprintf("correlation %.2f and confidence %.2f below book average %.2f",
			corr, snap.Confidence(), avgConf))
	}
	if share >= portfolioOverloadedShare && reinforces {
		return scaleDown(0.5, fmt.Sprintf("reinforces state %s at %.0f%% of book", dominant, share*100))
	}
	if belowBook {
		return scaleDown(0.7, fmt.Sprintf("confidence %.2f well below book average %.2f", snap.Confidence(), avgConf))
	}

	verdict := PortfolioVerdict{Action: PortfolioAllow, SizeMultiplier: 1.0}
	switch {
	case hasAnchor && !reinforces && share > 0:
		verdict.Reason = "diversifies portfolio states"
	case attractive:
		verdict.Reason = "above-average signal quality"
	}
	return verdict
}
