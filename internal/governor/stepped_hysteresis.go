package governor

// SteppedHysteresis converts a continuous value into discrete steps (0 to
// Steps) with hysteresis, preventing a value sitting near a threshold from
// flapping the step back and forth. Used to quantize SOC into a coarse
// "battery band" label for the metrics endpoint and dashboard, where a raw
// percentage gauge would otherwise relabel every tick. Adapted unchanged
// from src/governor/stepped_hysteresis.go.
//
// For Ascending mode (value up -> step up):
//   - Increase thresholds ascend: value must rise above each to increase step
//   - Decrease thresholds descend: value must fall below each to decrease step
//
// For Descending mode (value down -> step up):
//   - Increase thresholds descend: value must fall below each to increase step
//   - Decrease thresholds ascend: value must rise above each to decrease step
//
// Thresholds are linearly interpolated from Start to End for steps 1..Steps.
type SteppedHysteresis struct {
	Current int // Current step (0 to Steps)

	steps     int
	ascending bool

	increaseStart, increaseEnd float64
	decreaseStart, decreaseEnd float64
}

// NewSteppedHysteresis creates a stepped hysteresis controller.
func NewSteppedHysteresis(
	steps int,
	ascending bool,
	increaseStart, increaseEnd float64,
	decreaseStart, decreaseEnd float64,
) *SteppedHysteresis {
	return &SteppedHysteresis{
		steps:         steps,
		ascending:     ascending,
		increaseStart: increaseStart,
		increaseEnd:   increaseEnd,
		decreaseStart: decreaseStart,
		decreaseEnd:   decreaseEnd,
	}
}

// Update returns the new step for value. The step can only change when value
// crosses a threshold; otherwise it stays put in the hysteresis zone.
func (s *SteppedHysteresis) Update(value float64) int {
	if s.steps <= 0 {
		return s.Current
	}

	increaseCount := countCrossed(value, s.steps, s.increaseStart, s.increaseEnd, s.ascending)
	decreaseCount := countCrossed(value, s.steps, s.decreaseStart, s.decreaseEnd, s.ascending)

	switch {
	case s.Current > decreaseCount:
		s.Current = decreaseCount
	case s.Current < increaseCount:
		s.Current = increaseCount
	}
	return s.Current
}

func countCrossed(value float64, steps int, start, end float64, ascending bool) int {
	if steps <= 0 {
		return 0
	}

	crosses := func(threshold float64) bool {
		if ascending {
			return value >= threshold
		}
		return value < threshold
	}

	thresholdsAscending := end >= start
	orderMatchesMode := ascending == thresholdsAscending

	if orderMatchesMode {
		for i := 1; i <= steps; i++ {
			if !crosses(threshold(start, end, i, steps)) {
				return i - 1
			}
		}
		return steps
	}

	for i := 1; i <= steps; i++ {
		if crosses(threshold(start, end, i, steps)) {
			return steps - i + 1
		}
	}
	return 0
}

func threshold(start, end float64, i, n int) float64 {
	if n <= 1 {
		return start
	}
	return start + (end-start)*float64(i-1)/float64(n-1)
}
