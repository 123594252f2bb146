package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// newPinnedOptimizer pins the time-of-day heuristic to the default size
// so the measured adjustment can be asserted in isolation.
func newPinnedOptimizer() *BatchOptimizer {
	return NewBatchOptimizer(WithTimeOfDay(func(int) int { return DefaultBatchSize }))
}

func TestRecomputeNoTrafficUnchanged(t *testing.T) {
	o := newPinnedOptimizer()
	assert.Equal(t, DefaultBatchSize, o.Recompute())
}

func TestRecomputeGrowsOnHealthyTraffic(t *testing.T) {
	o := newPinnedOptimizer()
	o.Record(100, 0, 500*time.Millisecond)

	// 100% success under the latency target grows by the step, blended
	// 70/30 with a flat heuristic at the old size
	got := o.Recompute()
	blended := 0.7*float64(DefaultBatchSize+growStep) + 0.3*float64(DefaultBatchSize)
	want := int(blended)
	assert.Equal(t, want, got)
}

func TestRecomputeShrinksOnFailures(t *testing.T) {
	o := newPinnedOptimizer()
	o.Record(90, 10, 500*time.Millisecond)

	got := o.Recompute()
	blended := 0.7*float64(DefaultBatchSize-shrinkStep) + 0.3*float64(DefaultBatchSize)
	want := int(blended)
	assert.Equal(t, want, got)
}

func TestRecomputeOverloadShrinkOverrides(t *testing.T) {
	o := newPinnedOptimizer()
	// Perfect success rate but latency over the ceiling still shrinks
	o.Record(100, 0, 3500*time.Millisecond)

	got := o.Recompute()
	want := int(0.7*float64(DefaultBatchSize-overloadShrinkStep) + 0.3*float64(DefaultBatchSize))
	assert.Equal(t, want, got)
}

func TestRecomputeBlendsTimeOfDay(t *testing.T) {
	o := NewBatchOptimizer(WithTimeOfDay(func(int) int { return 225 }))
	// Healthy traffic: measured next = 225, heuristic = 225
	o.Record(100, 0, 500*time.Millisecond)

	got := o.Recompute()
	assert.Equal(t, int(0.7*float64(DefaultBatchSize+growStep)+0.3*225.0), got)
}

func TestRecomputeClampsToBounds(t *testing.T) {
	o := NewBatchOptimizer(WithTimeOfDay(func(int) int { return MinBatchSize }))

	// Repeated failing intervals walk the size down to the floor, never below
	for i := 0; i < 20; i++ {
		o.Record(0, 100, 4*time.Second)
		o.Recompute()
	}
	assert.Equal(t, MinBatchSize, o.Size())

	// And healthy intervals walk it up to the ceiling, never above
	o = NewBatchOptimizer(WithTimeOfDay(func(int) int { return MaxBatchSize }))
	for i := 0; i < 20; i++ {
		o.Record(100, 0, 100*time.Millisecond)
		o.Recompute()
	}
	assert.Equal(t, MaxBatchSize, o.Size())
}

func TestRecomputeStepLimitedToHalf(t *testing.T) {
	// A heuristic far above the current size cannot move it more than 50%
	// in one interval
	o := NewBatchOptimizer(WithTimeOfDay(func(int) int { return MaxBatchSize * 10 }))
	o.Record(100, 0, 100*time.Millisecond)

	got := o.Recompute()
	assert.LessOrEqual(t, got, DefaultBatchSize+DefaultBatchSize/2)
}

func TestRecomputeResetsCounters(t *testing.T) {
	o := newPinnedOptimizer()
	o.Record(0, 100, 4*time.Second)
	first := o.Recompute()

	// With the counters reset, an empty interval leaves size unchanged
	assert.Equal(t, first, o.Recompute())
}

func TestRecommendedForHour(t *testing.T) {
	cases := []struct {
		hour int
		want int
	}{
		{8, 400},  // morning commute
		{18, 400}, // evening commute
		{2, 100},  // overnight
		{23, 100},
		{13, 250}, // midday
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, recommendedForHour(tc.hour), "hour %d", tc.hour)
	}
}
