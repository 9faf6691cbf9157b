package halfbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// dutyEpsilon mirrors tests_half_bridge.cpp's duty_epsilon: the calculated
// duty cycle float may deviate +/- this much from the test target value
// because of integer ccr/arr rounding.
const dutyEpsilon = 0.006

const (
	maxPWMDuty    = 0.97
	minPWMDuty    = 0.1
	midPWMDuty    = (minPWMDuty + maxPWMDuty) / 2
	pwmFreqKHz    = 70
	pwmDeadTimeNs = 300
)

func newTestHalfBridge() *HalfBridge {
	hb := New(pwmFreqKHz, pwmDeadTimeNs, minPWMDuty, maxPWMDuty)
	hb.Stop()
	return hb
}

func TestSetDutyCycleWorks(t *testing.T) {
	hb := newTestHalfBridge()
	hb.SetDutyCycle(midPWMDuty)
	assert.InDelta(t, midPWMDuty, hb.DutyCycle(), dutyEpsilon)
}

func TestStartsUp(t *testing.T) {
	hb := newTestHalfBridge()
	hb.SetDutyCycle(midPWMDuty)
	hb.Start()
	assert.True(t, hb.Enabled())
}

func TestStops(t *testing.T) {
	hb := newTestHalfBridge()
	hb.SetDutyCycle(midPWMDuty)
	hb.Start()
	hb.Stop()
	assert.False(t, hb.Enabled())
}

func TestStartIsNoOpAtZeroDuty(t *testing.T) {
	hb := newTestHalfBridge()
	hb.SetCCR(0)
	hb.Start()
	assert.False(t, hb.Enabled())
}

func TestDutyLimitsNotViolated(t *testing.T) {
	hb := newTestHalfBridge()

	hb.SetDutyCycle(1.0)
	assert.InDelta(t, maxPWMDuty, hb.DutyCycle(), dutyEpsilon)

	hb.SetDutyCycle(0.0)
	assert.InDelta(t, minPWMDuty, hb.DutyCycle(), dutyEpsilon)
}

func TestCCRLimitsNotViolated(t *testing.T) {
	hb := newTestHalfBridge()

	hb.SetDutyCycle(maxPWMDuty)
	hb.SetCCR(hb.CCR() + 1)
	assert.InDelta(t, maxPWMDuty, hb.DutyCycle(), dutyEpsilon)

	hb.SetDutyCycle(minPWMDuty)
	hb.SetCCR(hb.CCR() - 1)
	assert.InDelta(t, minPWMDuty, hb.DutyCycle(), dutyEpsilon)
}

func TestCCRAlwaysWithinClamp(t *testing.T) {
	hb := newTestHalfBridge()
	for x := -1.0; x <= 2.0; x += 0.05 {
		hb.SetDutyCycle(x)
		assert.GreaterOrEqual(t, hb.CCR(), hb.ccrMin)
		assert.LessOrEqual(t, hb.CCR(), hb.ccrMax)
	}
}

func TestSetDutyIdempotentWithoutTimerEvent(t *testing.T) {
	hb := newTestHalfBridge()
	hb.SetDutyCycle(0.42)
	first := hb.CCR()
	hb.SetDutyCycle(0.42)
	assert.Equal(t, first, hb.CCR())
}
