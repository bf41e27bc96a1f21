// Package drift detects distribution shifts in the engine's own signal
// stream. A recent window is compared against a longer baseline on mean,
// variance, and tail percentile. The verdict is advisory only: it feeds the
// cognitive slice and never blocks a trade by itself.
package drift

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity labels, worst last.
const (
	LevelNone   = ""
	LevelLow    = "LOW"
	LevelMedium = "MEDIUM"
	LevelHigh   = "HIGH"
)

const (
	// DefaultWindow is the recent observation window.
	DefaultWindow = 24 * time.Hour
	// DefaultBaseline is the reference period the window is compared to.
	DefaultBaseline = 7 * 24 * time.Hour

	// minSamples is the floor below which no verdict is produced for
	// either side of the comparison.
	minSamples = 20

	meanShiftLow     = 0.10
	meanShiftHigh    = 0.25
	varianceRatioLow = 2.0
	varianceRatioHi  = 4.0
	tailShiftLow     = 0.15
	tailShiftHigh    = 0.30
)

type sample struct {
	at    time.Time
	value float64
}

// Report is one drift evaluation.
type Report struct {
	Level           string
	WindowSamples   int
	BaselineSamples int
	MeanShift       float64
	VarianceRatio   float64
	TailShift       float64
	EvaluatedAt     time.Time
}

// Detector accumulates scalar observations (signal confidence per cycle)
// and grades how far the recent window has drifted from the baseline.
type Detector struct {
	log      zerolog.Logger
	window   time.Duration
	baseline time.Duration

	mu      sync.Mutex
	samples []sample

	now func() time.Time
}

// New builds a detector with the given window and baseline; non-positive
// durations fall back to the defaults.
func New(log zerolog.Logger, window, baseline time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if baseline <= window {
		baseline = DefaultBaseline
	}
	return &Detector{
		log:      log.With().Str("component", "drift").Logger(),
		window:   window,
		baseline: baseline,
		now:      time.Now,
	}
}

// Observe records one observation. Values outside [0,1] are clamped; the
// detector grades conviction-like metrics only.
func (d *Detector) Observe(at time.Time, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	value = math.Min(1, math.Max(0, value))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples = append(d.samples, sample{at: at, value: value})
	d.pruneLocked(d.now())
}

// Evaluate compares the recent window against the baseline and returns a
// severity report. With too little data on either side the level is empty.
func (d *Detector) Evaluate() Report {
	now := d.now()

	d.mu.Lock()
	d.pruneLocked(now)
	var recent, base []float64
	cut := now.Add(-d.window)
	for _, s := range d.samples {
		if s.at.After(cut) {
			recent = append(recent, s.value)
		} else {
			base = append(base, s.value)
		}
	}
	d.mu.Unlock()

	rep := Report{
		WindowSamples:   len(recent),
		BaselineSamples: len(base),
		EvaluatedAt:     now,
	}
	if len(recent) < minSamples || len(base) < minSamples {
		return rep
	}

	baseMean, baseVar := meanVariance(base)
	recMean, recVar := meanVariance(recent)

	rep.MeanShift = math.Abs(recMean - baseMean)
	if baseVar > 1e-12 {
		rep.VarianceRatio = recVar / baseVar
	} else if recVar > 1e-12 {
		rep.VarianceRatio = varianceRatioHi
	} else {
		rep.VarianceRatio = 1
	}
	rep.TailShift = math.Abs(percentile(recent, 0.1) - percentile(base, 0.1))

	rep.Level = grade(rep)
	if rep.Level != LevelNone {
		d.log.Warn().
			Str("level", rep.Level).
			Float64("mean_shift", rep.MeanShift).
			Float64("variance_ratio", rep.VarianceRatio).
			Float64("tail_shift", rep.TailShift).
			Msg("Signal drift detected")
	}
	return rep
}

func grade(rep Report) string {
	high := 0
	low := 0
	bump := func(v, lo, hi float64) {
		switch {
		case v >= hi:
			high++
		case v >= lo:
			low++
		}
	}
	bump(rep.MeanShift, meanShiftLow, meanShiftHigh)
	bump(ratioDistance(rep.VarianceRatio), varianceRatioLow, varianceRatioHi)
	bump(rep.TailShift, tailShiftLow, tailShiftHigh)

	switch {
	case high >= 2:
		return LevelHigh
	case high == 1 || low >= 2:
		return LevelMedium
	case low == 1:
		return LevelLow
	default:
		return LevelNone
	}
}

// ratioDistance folds a variance ratio into a symmetric magnitude so a
// collapse in variance grades the same as an explosion.
func ratioDistance(ratio float64) float64 {
	if ratio <= 0 {
		return varianceRatioHi
	}
	if ratio < 1 {
		return 1 / ratio
	}
	return ratio
}

func (d *Detector) pruneLocked(now time.Time) {
	cut := now.Add(-d.baseline)
	i := 0
	for i < len(d.samples) && !d.samples[i].at.After(cut) {
		i++
	}
	if i > 0 {
		d.samples = d.samples[i:]
	}
}

func meanVariance(values []float64) (mean, variance float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= n
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	return mean, variance
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
