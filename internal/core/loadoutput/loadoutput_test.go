package loadoutput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/core/dcbus"
	"github.com/libresolar/powerctl/internal/core/devicestatus"
	"github.com/libresolar/powerctl/internal/core/powerport"
)

// newTestRig mirrors tests_load.cpp's load_init: a load output rated at 10A
// with an overvoltage trip at 14.6V, on a bus sitting at 14V with a 14.4V
// sink bound.
func newTestRig() (*LoadOutput, *clock.Fake, *devicestatus.DeviceStatus, *powerport.PowerPort) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	bus := dcbus.InitBattery(14.4, 12, 1)
	bus.Voltage = 14
	port := powerport.New(bus)
	port.PosCurrentLimit = 10

	l := New(clk, port, 10, 14.6)
	stat := &devicestatus.DeviceStatus{}
	return l, clk, stat, port
}

func TestControlOffToPGoodIfEverythingFine(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.Control(stat)
	assert.Zero(t, stat.ErrorFlags.Load())
	assert.True(t, l.PGood)
	assert.Equal(t, StateOn, l.State)
}

func TestControlPGoodToOffOvervoltage(t *testing.T) {
	l, _, stat, port := newTestRig()
	l.State = StateOn
	port.Bus.Voltage = port.Bus.SinkVoltageBound + 0.6

	for i := 0; i < controlFrequency-1; i++ {
		l.Control(stat)
	}
	assert.True(t, l.PGood)
	assert.Equal(t, StateOn, l.State)

	l.Control(stat)
	assert.False(t, l.PGood)
	assert.True(t, stat.HasError(devicestatus.ErrLoadOvervoltage))
	assert.Equal(t, StateOffOvervoltage, l.State)
}

func TestControlPGoodToOffOvercurrent(t *testing.T) {
	l, _, stat, port := newTestRig()
	port.Current = l.CurrentMax * 1.9
	l.State = StateOn

	l.Control(stat)
	assert.True(t, l.PGood)
	assert.Equal(t, StateOn, l.State)

	triggerSteps := mosfetThermalTimeConstant * controlFrequency
	for i := 0; i <= triggerSteps; i++ {
		l.Control(stat)
	}
	assert.False(t, l.PGood)
	assert.True(t, stat.HasError(devicestatus.ErrLoadOvercurrent))
	assert.Equal(t, StateOffOvercurrent, l.State)
}

func TestControlPGoodToOffVoltageDip(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.State = StateOn

	l.Control(stat)
	assert.True(t, l.PGood)
	assert.Equal(t, StateOn, l.State)

	l.Stop(stat, StateOffOvercurrent, devicestatus.ErrLoadVoltageDip)
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.True(t, stat.HasError(devicestatus.ErrLoadVoltageDip))
	assert.Equal(t, StateOffOvercurrent, l.State)
}

func TestControlPGoodToOffIntTemp(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.State = StateOn

	l.Control(stat)
	assert.True(t, l.PGood)

	stat.SetError(devicestatus.ErrIntOvertemp)
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.Equal(t, StateOffTemperature, l.State)
}

func TestControlPGoodToOffBatTemp(t *testing.T) {
	l, _, stat, _ := newTestRig()

	l.State = StateOn
	l.USBState = StateOn
	stat.SetError(devicestatus.ErrBatDisOvertemp)
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.False(t, l.USBPGood)
	assert.Equal(t, StateOffTemperature, l.State)
	assert.Equal(t, StateOffTemperature, l.USBState)

	stat.ClearError(devicestatus.ErrAnyError)
	l.State = StateOn
	l.USBState = StateOn
	stat.SetError(devicestatus.ErrBatDisUndertemp)
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.False(t, l.USBPGood)
	assert.Equal(t, StateOffTemperature, l.State)
	assert.Equal(t, StateOffTemperature, l.USBState)
}

func TestControlPGoodToOffLowSOC(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.State = StateOn
	l.Control(stat)
	assert.True(t, l.PGood)

	stat.SetError(devicestatus.ErrBatUndervoltage)
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.True(t, stat.HasError(devicestatus.ErrLoadLowSOC))
	assert.True(t, stat.HasError(devicestatus.ErrBatUndervoltage))
	assert.Equal(t, StateOffLowSOC, l.State)
}

func TestControlPGoodToOffIfEnableFalse(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.State = StateOn
	l.Control(stat)
	assert.True(t, l.PGood)
	assert.True(t, l.USBPGood)
	assert.Equal(t, StateOn, l.State)
	assert.Equal(t, StateOn, l.USBState)

	l.Enable = false
	l.Control(stat)
	assert.False(t, l.PGood)
	assert.Equal(t, StateDisabled, l.State)
	assert.Equal(t, StateOn, l.USBState)

	l.USBEnable = false
	l.Control(stat)
	assert.False(t, l.USBPGood)
	assert.Equal(t, StateDisabled, l.USBState)
}

func TestControlOffLowSOCToOnAfterDelay(t *testing.T) {
	l, clk, stat, _ := newTestRig()
	l.State = StateOffLowSOC
	l.USBState = StateOffLowSOC
	stat.SetError(devicestatus.ErrLoadLowSOC)

	l.LVDTimestamp = clk.Now().Add(-l.LVDRecoveryDelay + time.Second)
	l.Control(stat)
	assert.True(t, stat.HasError(devicestatus.ErrLoadLowSOC))
	assert.Equal(t, StateOffLowSOC, l.State)
	assert.Equal(t, StateOffLowSOC, l.USBState)

	l.LVDTimestamp = clk.Now().Add(-l.LVDRecoveryDelay - time.Second)
	l.Control(stat)
	assert.Zero(t, stat.ErrorFlags.Load())
	assert.True(t, l.PGood)
	assert.True(t, l.USBPGood)
	assert.Equal(t, StateOn, l.State)
	assert.Equal(t, StateOn, l.USBState)
}

func TestControlOffOvercurrentToOnAfterDelay(t *testing.T) {
	l, clk, stat, _ := newTestRig()
	l.State = StateOffOvercurrent
	l.USBState = StateOn
	stat.SetError(devicestatus.ErrLoadOvercurrent)

	l.OCTimestamp = clk.Now().Add(-l.OCRecoveryDelay + time.Second)
	l.Control(stat)
	assert.True(t, stat.HasError(devicestatus.ErrLoadOvercurrent))
	assert.Equal(t, StateOffOvercurrent, l.State)
	assert.Equal(t, StateOn, l.USBState, "usb output is not affected by the main output's overcurrent trip")

	l.OCTimestamp = clk.Now().Add(-l.OCRecoveryDelay - time.Second)
	l.Control(stat)
	assert.Zero(t, stat.ErrorFlags.Load())
	assert.Equal(t, StateOn, l.State)
	assert.Equal(t, StateOn, l.USBState)
}

func TestControlOffOvervoltageToOnAtLowerVoltage(t *testing.T) {
	l, _, stat, port := newTestRig()
	l.State = StateOffOvervoltage
	l.USBState = StateOn
	port.Bus.Voltage = port.Bus.SinkVoltageBound + 0.1
	stat.SetError(devicestatus.ErrLoadOvervoltage)

	l.Control(stat)
	assert.True(t, stat.HasError(devicestatus.ErrLoadOvervoltage))
	assert.Equal(t, StateOffOvervoltage, l.State)
	assert.Equal(t, StateOn, l.USBState, "usb output is not affected by overvoltage")

	port.Bus.Voltage = port.Bus.SinkVoltageBound - 0.1 // still within the hysteresis band
	l.Control(stat)
	assert.True(t, stat.HasError(devicestatus.ErrLoadOvervoltage))
	assert.Equal(t, StateOffOvervoltage, l.State)

	port.Bus.Voltage = port.Bus.SinkVoltageBound - l.OVHysteresis - 0.1
	l.Control(stat)
	assert.Zero(t, stat.ErrorFlags.Load())
	assert.Equal(t, StateOn, l.State)
	assert.Equal(t, StateOn, l.USBState)
}

func TestControlOffShortCircuitFlagReset(t *testing.T) {
	l, _, stat, _ := newTestRig()
	l.State = StateOffShortCircuit
	l.USBState = StateOn
	stat.SetError(devicestatus.ErrLoadShortCircuit)

	l.Control(stat)
	assert.True(t, stat.HasError(devicestatus.ErrLoadShortCircuit))
	assert.Equal(t, StateOffShortCircuit, l.State)
	assert.Equal(t, StateOn, l.USBState, "usb output is not affected by the main output's short-circuit trip")

	l.Enable = false // a manual re-enable cycle is the only way out of a short-circuit trip
	l.Control(stat)
	assert.Zero(t, stat.ErrorFlags.Load())
	assert.Equal(t, StateDisabled, l.State)
	assert.Equal(t, StateOn, l.USBState)
}
