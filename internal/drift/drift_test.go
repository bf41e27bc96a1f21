package drift

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

var driftNow = time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)

func newDetectorForTest() *Detector {
	d := New(zerolog.Nop(), 0, 0)
	d.now = func() time.Time { return driftNow }
	return d
}

func feed(d *Detector, at time.Time, values ...float64) {
	for i, v := range values {
		d.Observe(at.Add(time.Duration(i)*time.Minute), v)
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func alternate(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = a
		} else {
			out[i] = b
		}
	}
	return out
}

func TestStableDistributionNoDrift(t *testing.T) {
	d := newDetectorForTest()
	feed(d, driftNow.Add(-48*time.Hour), alternate(0.55, 0.65, 40)...)
	feed(d, driftNow.Add(-2*time.Hour), alternate(0.55, 0.65, 40)...)

	rep := d.Evaluate()
	assert.Equal(t, LevelNone, rep.Level)
	assert.Equal(t, 40, rep.WindowSamples)
	assert.Equal(t, 40, rep.BaselineSamples)
	assert.InDelta(t, 0, rep.MeanShift, 0.001)
}

func TestConfidenceCollapseIsHigh(t *testing.T) {
	d := newDetectorForTest()
	feed(d, driftNow.Add(-48*time.Hour), repeat(0.8, 40)...)
	feed(d, driftNow.Add(-2*time.Hour), repeat(0.4, 40)...)

	rep := d.Evaluate()
	assert.Equal(t, LevelHigh, rep.Level)
	assert.InDelta(t, 0.4, rep.MeanShift, 0.001)
	assert.InDelta(t, 0.4, rep.TailShift, 0.001)
}

func TestVarianceExplosionIsMedium(t *testing.T) {
	d := newDetectorForTest()
	// Same mean, much wider spread: variance grades high, tail low.
	feed(d, driftNow.Add(-48*time.Hour), alternate(0.5, 0.7, 40)...)
	feed(d, driftNow.Add(-2*time.Hour), alternate(0.3, 0.9, 40)...)

	rep := d.Evaluate()
	assert.Equal(t, LevelMedium, rep.Level)
	assert.InDelta(t, 0, rep.MeanShift, 0.001)
	assert.Greater(t, rep.VarianceRatio, varianceRatioHi)
}

func TestInsufficientSamplesNoVerdict(t *testing.T) {
	d := newDetectorForTest()
	feed(d, driftNow.Add(-48*time.Hour), repeat(0.8, 5)...)
	feed(d, driftNow.Add(-2*time.Hour), repeat(0.2, 40)...)

	rep := d.Evaluate()
	assert.Equal(t, LevelNone, rep.Level)
	assert.Equal(t, 5, rep.BaselineSamples)
}

func TestOldSamplesPruned(t *testing.T) {
	d := newDetectorForTest()
	feed(d, driftNow.Add(-10*24*time.Hour), repeat(0.9, 40)...)
	feed(d, driftNow.Add(-2*time.Hour), repeat(0.5, 40)...)

	rep := d.Evaluate()
	// The ancient batch fell outside the baseline entirely.
	assert.Equal(t, 0, rep.BaselineSamples)
	assert.Equal(t, LevelNone, rep.Level)
}

func TestObserveIgnoresBadValues(t *testing.T) {
	d := newDetectorForTest()
	d.Observe(driftNow, 0.5)
	naN := 0.0
	d.Observe(driftNow, naN/naN)

	rep := d.Evaluate()
	assert.Equal(t, 1, rep.WindowSamples)
}
