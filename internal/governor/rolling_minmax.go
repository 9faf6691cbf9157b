// Package governor collects small, self-contained numeric helpers that shape
// raw telemetry into something worth showing on a dashboard or a metrics
// endpoint, as distinct from internal/core's control-affecting state
// machines. Adapted from the teacher's own src/governor package.
package governor

import (
	"math"
	"time"
)

type minMaxBucket struct {
	min, max float64
}

// RollingMinMax tracks a value's min/max over a rolling 1-hour window using
// 60 1-minute buckets. Used to surface "today's HV power swing" on the
// dashboard without keeping a raw sample history. Adapted from
// src/governor/rolling_minmax.go, generalized to take the observation
// timestamp explicitly (clock.Clock-driven) rather than calling time.Now()
// internally, so it stays deterministic under the fake clock used throughout
// the test suite.
type RollingMinMax struct {
	buckets       [60]minMaxBucket
	currentMinute int // -1 = uninitialized
}

// NewRollingMinMax creates a RollingMinMax with every bucket at its sentinel.
func NewRollingMinMax() RollingMinMax {
	r := RollingMinMax{currentMinute: -1}
	for i := range r.buckets {
		r.buckets[i] = minMaxBucket{min: math.MaxFloat64, max: -math.MaxFloat64}
	}
	return r
}

// Update records value as observed at now.
func (r *RollingMinMax) Update(value float64, now time.Time) {
	minute := now.Minute()

	if r.currentMinute >= 0 && minute != r.currentMinute {
		for i := (r.currentMinute + 1) % 60; i != minute; i = (i + 1) % 60 {
			r.buckets[i] = minMaxBucket{min: math.MaxFloat64, max: -math.MaxFloat64}
		}
	}

	if minute != r.currentMinute {
		r.buckets[minute] = minMaxBucket{min: value, max: value}
		r.currentMinute = minute
		return
	}

	b := &r.buckets[minute]
	b.min = min(b.min, value)
	b.max = max(b.max, value)
}

// Min returns the minimum value across the rolling window, or 0 if empty.
func (r *RollingMinMax) Min() float64 {
	result := math.MaxFloat64
	for _, b := range r.buckets {
		result = min(result, b.min)
	}
	if result == math.MaxFloat64 {
		return 0
	}
	return result
}

// Max returns the maximum value across the rolling window, or 0 if empty.
func (r *RollingMinMax) Max() float64 {
	result := -math.MaxFloat64
	for _, b := range r.buckets {
		result = max(result, b.max)
	}
	if result == -math.MaxFloat64 {
		return 0
	}
	return result
}
