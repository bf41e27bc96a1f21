// Package risk implements the policy veto layer and the outbound circuit
// breakers. RiskCore is deterministic: the same input and counter state
// always yields the same verdict, and every anomalous path resolves to
// HALTED + DENY.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RiskState is the severity ladder. Ordering is significant: a higher value
// always wins when violations are merged.
type RiskState int

const (
	RiskSafe RiskState = iota
	RiskLimited
	RiskLocked
	RiskHalted
)

func (r RiskState) String() string {
	switch r {
	case RiskSafe:
		return "SAFE"
	case RiskLimited:
		return "LIMITED"
	case RiskLocked:
		return "LOCKED"
	case RiskHalted:
		return "HALTED"
	default:
		return "HALTED"
	}
}

// Permission is the trading verdict derived from the risk state.
type Permission string

const (
	Allow        Permission = "ALLOW"
	AllowLimited Permission = "ALLOW_LIMITED"
	Deny         Permission = "DENY"
)

// LimitedSizeFactor is the published multiplier the caller must apply when
// the verdict is ALLOW_LIMITED.
const LimitedSizeFactor = 0.5

// Violation is one failed invariant.
type Violation struct {
	Group    string    `json:"group"`
	Rule     string    `json:"rule"`
	Severity RiskState `json:"severity"`
	Detail   string    `json:"detail"`
}

// Verdict is the full evaluation result.
type Verdict struct {
	Permission Permission  `json:"permission"`
	State      RiskState   `json:"state"`
	Violations []Violation `json:"violations,omitempty"`
	SizeFactor float64     `json:"size_factor"`
}

// Limits holds the policy thresholds. Loaded from config; zero values fall
// back to the defaults below.
type Limits struct {
	MaxCumulativeLossPct float64
	MaxDailyLossPct      float64
	MaxWeeklyLossPct     float64

	MaxSinglePositionPct  float64
	MaxAggregatePct       float64
	MaxCorrelatedGroupPct float64

	MaxActionsPerHour int
	MaxActionsPerDay  int
	LossRetryCooldown time.Duration
	MinActionInterval time.Duration

	MaxConsecutiveErrors int
}

// DefaultLimits returns the production policy thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxCumulativeLossPct:  15.0,
		MaxDailyLossPct:       5.0,
		MaxWeeklyLossPct:      10.0,
		MaxSinglePositionPct:  10.0,
		MaxAggregatePct:       50.0,
		MaxCorrelatedGroupPct: 25.0,
		MaxActionsPerHour:     6,
		MaxActionsPerDay:      20,
		LossRetryCooldown:     30 * time.Minute,
		MinActionInterval:     2 * time.Minute,
		MaxConsecutiveErrors:  5,
	}
}

func (l *Limits) applyDefaults() {
	d := DefaultLimits()
	if l.MaxCumulativeLossPct <= 0 {
		l.MaxCumulativeLossPct = d.MaxCumulativeLossPct
	}
	if l.MaxDailyLossPct <= 0 {
		l.MaxDailyLossPct = d.MaxDailyLossPct
	}
	if l.MaxWeeklyLossPct <= 0 {
		l.MaxWeeklyLossPct = d.MaxWeeklyLossPct
	}
	if l.MaxSinglePositionPct <= 0 {
		l.MaxSinglePositionPct = d.MaxSinglePositionPct
	}
	if l.MaxAggregatePct <= 0 {
		l.MaxAggregatePct = d.MaxAggregatePct
	}
	if l.MaxCorrelatedGroupPct <= 0 {
		l.MaxCorrelatedGroupPct = d.MaxCorrelatedGroupPct
	}
	if l.MaxActionsPerHour <= 0 {
		l.MaxActionsPerHour = d.MaxActionsPerHour
	}
	if l.MaxActionsPerDay <= 0 {
		l.MaxActionsPerDay = d.MaxActionsPerDay
	}
	if l.LossRetryCooldown <= 0 {
		l.LossRetryCooldown = d.LossRetryCooldown
	}
	if l.MinActionInterval <= 0 {
		l.MinActionInterval = d.MinActionInterval
	}
	if l.MaxConsecutiveErrors <= 0 {
		l.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
}

// Input is everything the evaluation needs from the caller. RiskCore does
// not reach into shared state itself; the caller assembles the view.
type Input struct {
	InitialBalance float64
	Balance        float64

	SinglePositionPct  float64
	AggregatePct       float64
	CorrelatedGroupPct float64

	RuntimeHealthy    bool
	CriticalModulesOK bool
	ConsecutiveErrors int
	InSafeMode        bool
}

type lossEvent struct {
	at     time.Time
	amount float64
}

// Core holds the rolling behavioral and capital counters. All methods are
// safe only for a single caller; the Gatekeeper serializes access.
type Core struct {
	log    zerolog.Logger
	limits Limits
	now    func() time.Time

	cumulativeLoss float64
	losses         []lossEvent

	actionsThisHour int
	hourWindow      time.Time
	actionsToday    int
	dayWindow       time.Time
	lastActionAt    time.Time
	lastLossAt      time.Time
}

// NewCore builds a RiskCore with the given limits.
func NewCore(log zerolog.Logger, limits Limits) *Core {
	limits.applyDefaults()
	return &Core{
		log:    log.With().Str("component", "risk_core").Logger(),
		limits: limits,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (c *Core) SetClock(now func() time.Time) { c.now = now }

// Limits returns the active thresholds.
func (c *Core) Limits() Limits { return c.limits }

// RecordAction registers an emitted signal for the behavioral counters.
func (c *Core) RecordAction() {
	now := c.now()
	c.rollWindows(now)
	c.actionsThisHour++
	c.actionsToday++
	c.lastActionAt = now
}

// RecordLoss registers a realized loss. amount is the positive magnitude;
// non-positive amounts are ignored. The cumulative counter is monotone.
func (c *Core) RecordLoss(amount float64) {
	if amount <= 0 || math.IsNaN(amount) {
		return
	}
	now := c.now()
	c.cumulativeLoss += amount
	c.losses = append(c.losses, lossEvent{at: now, amount: amount})
	c.lastLossAt = now
	c.trimLosses(now)
}

// haltedVerdict is the universal fail-closed result.
func haltedVerdict(detail string) Verdict {
	return Verdict{
		Permission: Deny,
		State:      RiskHalted,
		SizeFactor: 0,
		Violations: []Violation{{
			Group:    "systemic",
			Rule:     "fail_closed",
			Severity: RiskHalted,
			Detail:   detail,
		}},
	}
}

// Evaluate runs every invariant group and merges the worst severity. Any
// panic or malformed input resolves to HALTED + DENY.
func (c *Core) Evaluate(in Input) (verdict Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error().Interface("panic", rec).Msg("RiskCore panicked, halting")
			verdict = haltedVerdict(fmt.Sprintf("internal error: %v", rec))
		}
	}()

	if err := validateInput(in); err != nil {
		c.log.Error().Err(err).Msg("Malformed risk input, halting")
		return haltedVerdict(err.Error())
	}

	now := c.now()
	c.rollWindows(now)
	c.trimLosses(now)

	var violations []Violation
	violations = append(violations, c.capitalViolations(in)...)
	violations = append(violations, c.exposureViolations(in)...)
	violations = append(violations, c.behavioralViolations(now)...)
	violations = append(violations, c.systemicViolations(in)...)

	state := RiskSafe
	for _, v := range violations {
		if v.Severity > state {
			state = v.Severity
		}
	}

	v := Verdict{State: state, Violations: violations}
	switch state {
	case RiskSafe:
		v.Permission = Allow
		v.SizeFactor = 1.0
	case RiskLimited:
		v.Permission = AllowLimited
		v.SizeFactor = LimitedSizeFactor
	default:
		v.Permission = Deny
		v.SizeFactor = 0
	}

	if v.Permission != Allow {
		c.log.Warn().
			Str("permission", string(v.Permission)).
			Str("risk_state", state.String()).
			Int("violations", len(violations)).
			Msg("Risk evaluation restricted trading")
	}
	return v
}

func validateInput(in Input) error {
	for name, f := range map[string]float64{
		"initial_balance":      in.InitialBalance,
		"balance":              in.Balance,
		"single_position_pct":  in.SinglePositionPct,
		"aggregate_pct":        in.AggregatePct,
		"correlated_group_pct": in.CorrelatedGroupPct,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite %s", name)
		}
		if f < 0 {
			return fmt.Errorf("negative %s", name)
		}
	}
	if in.InitialBalance == 0 {
		return fmt.Errorf("zero initial balance")
	}
	return nil
}

func (c *Core) capitalViolations(in Input) []Violation {
	var out []Violation
	cumPct := c.cumulativeLoss / in.InitialBalance * 100
	if cumPct > c.limits.MaxCumulativeLossPct {
		out = append(out, Violation{
			Group: "capital", Rule: "max_cumulative_loss", Severity: RiskHalted,
			Detail: fmt.Sprintf("cumulative loss %.2f%% exceeds %.2f%%", cumPct, c.limits.MaxCumulativeLossPct),
		})
	}
	if in.Balance > 0 {
		day := c.lossWithin(24*time.Hour) / in.Balance * 100
		if day > c.limits.MaxDailyLossPct {
			out = append(out, Violation{
				Group: "capital", Rule: "max_daily_loss", Severity: RiskLocked,
				Detail: fmt.Sprintf("24h loss %.2f%% exceeds %.2f%%", day, c.limits.MaxDailyLossPct),
			})
		}
		week := c.lossWithin(7*24*time.Hour) / in.Balance * 100
		if week > c.limits.MaxWeeklyLossPct {
			out = append(out, Violation{
				Group: "capital", Rule: "max_weekly_loss", Severity: RiskLocked,
				Detail: fmt.Sprintf("7d loss %.2f%% exceeds %.2f%%", week, c.limits.MaxWeeklyLossPct),
			})
		}
	}
	return out
}

func (c *Core) exposureViolations(in Input) []Violation {
	var out []Violation
	if in.SinglePositionPct > c.limits.MaxSinglePositionPct {
		out = append(out, Violation{
			Group: "exposure", Rule: "max_single_position", Severity: RiskLimited,
			Detail: fmt.Sprintf("single position %.2f%% exceeds %.2f%%", in.SinglePositionPct, c.limits.MaxSinglePositionPct),
		})
	}
	if in.AggregatePct > c.limits.MaxAggregatePct {
		out = append(out, Violation{
			Group: "exposure", Rule: "max_aggregate_exposure", Severity: RiskLocked,
			Detail: fmt.Sprintf("aggregate exposure %.2f%% exceeds %.2f%%", in.AggregatePct, c.limits.MaxAggregatePct),
		})
	}
	if in.CorrelatedGroupPct > c.limits.MaxCorrelatedGroupPct {
		out = append(out, Violation{
			Group: "exposure", Rule: "max_correlated_group", Severity: RiskLimited,
			Detail: fmt.Sprintf("correlated group %.2f%% exceeds %.2f%%", in.CorrelatedGroupPct, c.limits.MaxCorrelatedGroupPct),
		})
	}
	return out
}

func (c *Core) behavioralViolations(now time.Time) []Violation {
	var out []Violation
	if c.actionsThisHour >= c.limits.MaxActionsPerHour {
		out = append(out, Violation{
			Group: "behavioral", Rule: "max_actions_per_hour", Severity: RiskLimited,
			Detail: fmt.Sprintf("%d actions this hour (limit %d)", c.actionsThisHour, c.limits.MaxActionsPerHour),
		})
	}
	if c.actionsToday >= c.limits.MaxActionsPerDay {
		out = append(out, Violation{
			Group: "behavioral", Rule: "max_actions_per_day", Severity: RiskLocked,
			Detail: fmt.Sprintf("%d actions today (limit %d)", c.actionsToday, c.limits.MaxActionsPerDay),
		})
	}
	if !c.lastLossAt.IsZero() {
		if since := now.Sub(c.lastLossAt); since < c.limits.LossRetryCooldown {
			out = append(out, Violation{
				Group: "behavioral", Rule: "loss_retry_cooldown", Severity: RiskLimited,
				Detail: fmt.Sprintf("last loss %s ago, cooldown %s", since.Round(time.Second), c.limits.LossRetryCooldown),
			})
		}
	}
	if !c.lastActionAt.IsZero() {
		if since := now.Sub(c.lastActionAt); since < c.limits.MinActionInterval {
			out = append(out, Violation{
				Group: "behavioral", Rule: "min_action_interval", Severity: RiskLimited,
				Detail: fmt.Sprintf("last action %s ago, minimum %s", since.Round(time.Second), c.limits.MinActionInterval),
			})
		}
	}
	return out
}

func (c *Core) systemicViolations(in Input) []Violation {
	var out []Violation
	if in.InSafeMode {
		out = append(out, Violation{
			Group: "systemic", Rule: "safe_mode", Severity: RiskHalted,
			Detail: "runtime is in safe mode",
		})
	}
	if !in.RuntimeHealthy {
		out = append(out, Violation{
			Group: "systemic", Rule: "runtime_health", Severity: RiskHalted,
			Detail: "runtime reported unhealthy",
		})
	}
	if !in.CriticalModulesOK {
		out = append(out, Violation{
			Group: "systemic", Rule: "critical_modules", Severity: RiskHalted,
			Detail: "critical module unavailable",
		})
	}
	if in.ConsecutiveErrors >= c.limits.MaxConsecutiveErrors {
		out = append(out, Violation{
			Group: "systemic", Rule: "consecutive_errors", Severity: RiskLocked,
			Detail: fmt.Sprintf("%d consecutive errors (budget %d)", in.ConsecutiveErrors, c.limits.MaxConsecutiveErrors),
		})
	}
	return out
}

// rollWindows performs the lazy hour and day resets.
func (c *Core) rollWindows(now time.Time) {
	hour := now.Truncate(time.Hour)
	if !hour.Equal(c.hourWindow) {
		c.hourWindow = hour
		c.actionsThisHour = 0
	}
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(c.dayWindow) {
		c.dayWindow = day
		c.actionsToday = 0
	}
}

// trimLosses drops loss events older than the widest capital window.
func (c *Core) trimLosses(now time.Time) {
	cutoff := now.Add(-7 * 24 * time.Hour)
	idx := 0
	for idx < len(c.losses) && c.losses[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		c.losses = append([]lossEvent(nil), c.losses[idx:]...)
	}
}

func (c *Core) lossWithin(window time.Duration) float64 {
	cutoff := c.now().Add(-window)
	total := 0.0
	for _, l := range c.losses {
		if !l.at.Before(cutoff) {
			total += l.amount
		}
	}
	return total
}
