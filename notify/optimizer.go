package notify

import (
	"context"
	"sync"
	"time"
)

// Batch size bounds and tuning steps.
const (
	MinBatchSize     = 50
	MaxBatchSize     = 500
	DefaultBatchSize = 200

	growStep           = 25
	shrinkStep         = 25
	overloadShrinkStep = 50

	targetLatency  = 2000 * time.Millisecond
	latencyCeiling = 3000 * time.Millisecond

	// Blend: 70% measured recommendation, 30% time-of-day heuristic.
	blendWeight = 0.7

	// A single interval never moves the size by more than half.
	maxStepRatio = 0.5

	DefaultOptimizerInterval = 60 * time.Second
)

// BatchOptimizer computes the outbound push batch size from rolling
// delivery counters, reset every interval.
type BatchOptimizer struct {
	mu sync.Mutex

	size       int
	requests   int64
	successes  int64
	failures   int64
	attempts   int64
	latencySum time.Duration

	now       func() time.Time
	timeOfDay func(hour int) int
}

// OptimizerOption configures a BatchOptimizer.
type OptimizerOption func(*BatchOptimizer)

// WithOptimizerClock overrides the wall clock (tests).
func WithOptimizerClock(now func() time.Time) OptimizerOption {
	return func(o *BatchOptimizer) { o.now = now }
}

// WithTimeOfDay overrides the static time-of-day recommendation table.
func WithTimeOfDay(fn func(hour int) int) OptimizerOption {
	return func(o *BatchOptimizer) { o.timeOfDay = fn }
}

func NewBatchOptimizer(opts ...OptimizerOption) *BatchOptimizer {
	o := &BatchOptimizer{
		size:      DefaultBatchSize,
		now:       time.Now,
		timeOfDay: recommendedForHour,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Size returns the current batch size.
func (o *BatchOptimizer) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// Record feeds one batch attempt into the rolling counters. Every
// attempt reports, success or failure.
func (o *BatchOptimizer) Record(successes, failures int, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests += int64(successes + failures)
	o.successes += int64(successes)
	o.failures += int64(failures)
	o.attempts++
	o.latencySum += latency
}

// Recompute derives the next batch size from the interval's counters and
// resets them. With no traffic the size is left unchanged.
func (o *BatchOptimizer) Recompute() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.requests == 0 {
		return o.size
	}

	successRate := float64(o.successes) / float64(o.requests)
	avgLatency := o.latencySum / time.Duration(o.attempts)

	next := o.size
	switch {
	case successRate < 0.95:
		next = o.size - shrinkStep
	case successRate > 0.98 && avgLatency < targetLatency:
		next = o.size + growStep
	}
	if avgLatency > latencyCeiling {
		next = o.size - overloadShrinkStep
	}

	recommended := o.timeOfDay(o.now().Hour())
	blended := int(blendWeight*float64(next) + (1-blendWeight)*float64(recommended))

	blended = clamp(blended,
		o.size-int(float64(o.size)*maxStepRatio),
		o.size+int(float64(o.size)*maxStepRatio))
	o.size = clamp(blended, MinBatchSize, MaxBatchSize)

	o.requests, o.successes, o.failures, o.attempts, o.latencySum = 0, 0, 0, 0, 0
	return o.size
}

// Run recomputes every interval until the context is done.
func (o *BatchOptimizer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOptimizerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.Recompute()
		case <-ctx.Done():
			return
		}
	}
}

// recommendedForHour is the static time-of-day table: larger batches
// during commute and evening hours, small overnight.
func recommendedForHour(hour int) int {
	switch {
	case hour >= 7 && hour <= 9:
		return 400
	case hour >= 17 && hour <= 20:
		return 400
	case hour >= 23 || hour <= 5:
		return 100
	default:
		return 250
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
