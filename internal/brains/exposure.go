package brains

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/state"
)

// RiskExposureBrain derives the RiskExposure slice from the open paper book.
// It is a CRITICAL module: the guardian probes HealthCheck and ValidateData
// before any signal passes, and a stale or inconsistent exposure read blocks
// trading.
type RiskExposureBrain struct {
	log       zerolog.Logger
	sys       *state.SystemState
	budgetUSD float64
	maxAge    time.Duration
	now       func() time.Time
}

// exposureMaxAge is how stale the slice may get before HealthCheck fails.
// Zero UpdatedAt (never analyzed) is tolerated so startup can pass the gate
// with an empty book.
const exposureMaxAge = 5 * time.Minute

func NewRiskExposureBrain(log zerolog.Logger, sys *state.SystemState, budgetUSD float64) *RiskExposureBrain {
	return &RiskExposureBrain{
		log:       log.With().Str("component", "risk_exposure_brain").Logger(),
		sys:       sys,
		budgetUSD: budgetUSD,
		maxAge:    exposureMaxAge,
		now:       time.Now,
	}
}

// Analyze recomputes aggregate exposure from the portfolio slice. The paper
// ledger is the source of truth for positions; this brain only folds them
// into budget terms.
func (b *RiskExposureBrain) Analyze(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	book := b.sys.Portfolio()
	exp := state.RiskExposure{
		TotalExposureUSD: book.TotalExposure,
		LongExposureUSD:  book.LongExposure,
		ShortExposureUSD: book.ShortExposure,
		RiskBudgetUSD:    b.budgetUSD,
		UsedRiskUSD:      book.UsedRiskUSD,
		UpdatedAt:        b.now(),
	}
	b.sys.SetExposure(exp)
	b.log.Debug().
		Float64("total_usd", exp.TotalExposureUSD).
		Float64("used_risk_usd", exp.UsedRiskUSD).
		Float64("budget_usd", exp.RiskBudgetUSD).
		Msg("Risk exposure updated")
	return nil
}

// HealthCheck fails when the brain is misconfigured or the slice has gone
// stale while positions are open.
func (b *RiskExposureBrain) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.budgetUSD <= 0 || math.IsNaN(b.budgetUSD) || math.IsInf(b.budgetUSD, 0) {
		return fmt.Errorf("risk budget %.2f is not a positive finite amount", b.budgetUSD)
	}
	exp := b.sys.Exposure()
	if !exp.UpdatedAt.IsZero() && b.now().Sub(exp.UpdatedAt) > b.maxAge {
		return fmt.Errorf("exposure slice stale by %s", b.now().Sub(exp.UpdatedAt).Round(time.Second))
	}
	return nil
}

// ValidateData checks internal consistency of the published slice: no
// negative magnitudes, long+short equals total, no NaN leakage.
func (b *RiskExposureBrain) ValidateData(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	exp := b.sys.Exposure()
	for name, v := range map[string]float64{
		"total_exposure": exp.TotalExposureUSD,
		"long_exposure":  exp.LongExposureUSD,
		"short_exposure": exp.ShortExposureUSD,
		"used_risk":      exp.UsedRiskUSD,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("exposure field %s holds invalid value %v", name, v)
		}
	}
	if diff := exp.TotalExposureUSD - (exp.LongExposureUSD + exp.ShortExposureUSD); math.Abs(diff) > 1e-6 {
		return fmt.Errorf("exposure sides diverge from total by %.6f", diff)
	}
	return nil
}
