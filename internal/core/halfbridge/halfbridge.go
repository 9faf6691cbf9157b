// Package halfbridge is the pure actuation layer for a synchronous
// half-bridge DC/DC converter: duty-cycle register state with enforced
// clamping and dead-time bookkeeping, but no feedback logic.
//
// The original firmware compiles three real hardware backends (TIM3
// center-aligned, TIM1 edge-aligned, HRTIM) plus a software-only register
// stub used for its UNIT_TEST build, switched at compile time. This package
// only implements that stub: ccr/arr/enabled are plain struct fields rather
// than memory-mapped timer registers, since no real timer peripheral exists
// behind this Go process. That makes the primitive hardware-independent and
// directly table-testable without conditional compilation.
package halfbridge

// HalfBridge holds clamped duty-cycle register state for one PWM output pair.
type HalfBridge struct {
	ccr     int
	ccrMin  int
	ccrMax  int
	arr     int
	deadTimeClocks int
	enabled bool
}

// coreClockHz stands in for SystemCoreClock in the original firmware; its
// exact value doesn't matter for the stub backend beyond producing a
// plausible arr/dead-time relationship, since nothing reads real registers.
const coreClockHz = 170_000_000

// New computes ccr_min/ccr_max from minDuty/maxDuty and arr, precomputes the
// dead-time clock count, and initializes at maxDuty with outputs disabled,
// mirroring half_bridge_init's stub branch.
func New(freqKHz int, deadTimeNs int, minDuty, maxDuty float64) *HalfBridge {
	arr := coreClockHz / (freqKHz * 1000)
	coreClockMHz := coreClockHz / 1_000_000

	hb := &HalfBridge{
		arr:            arr,
		deadTimeClocks: coreClockMHz * deadTimeNs / 1000,
		ccrMin:         int(float64(arr) * minDuty),
		ccrMax:         int(float64(arr) * maxDuty),
	}
	hb.SetDutyCycle(maxDuty)
	hb.enabled = false
	return hb
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// SetCCR stores ccr clamped to [ccrMin, ccrMax].
func (hb *HalfBridge) SetCCR(n int) {
	hb.ccr = clamp(n, hb.ccrMin, hb.ccrMax)
}

// CCR returns the current compare-register value.
func (hb *HalfBridge) CCR() int { return hb.ccr }

// ARR returns the auto-reload register value.
func (hb *HalfBridge) ARR() int { return hb.arr }

// DeadTimeClocks returns the precomputed dead-time clock count.
func (hb *HalfBridge) DeadTimeClocks() int { return hb.deadTimeClocks }

// SetDutyCycle stores ccr = clamp(arr*x, ccrMin, ccrMax) for x in [0,1].
func (hb *HalfBridge) SetDutyCycle(x float64) {
	hb.SetCCR(int(float64(hb.arr) * x))
}

// DutyCycle returns ccr/arr.
func (hb *HalfBridge) DutyCycle() float64 {
	return float64(hb.ccr) / float64(hb.arr)
}

// Start enables PWM output. A no-op if ccr == 0, matching the firmware's
// guard against driving a half-bridge with a zero duty cycle.
func (hb *HalfBridge) Start() {
	if hb.ccr == 0 {
		return
	}
	hb.enabled = true
}

// Stop disables PWM output immediately; the fast-trip path calls this from
// outside the control tick, so it must never block or allocate.
func (hb *HalfBridge) Stop() {
	hb.enabled = false
}

// Enabled reports whether PWM output is currently driven.
func (hb *HalfBridge) Enabled() bool { return hb.enabled }
