// Package loadoutput implements the switched load output's debounced fault
// state machine, including the separately-gated 5V USB auxiliary output.
// Grounded in original_source/test/tests_load.cpp.
package loadoutput

import (
	"time"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/core/devicestatus"
	"github.com/libresolar/powerctl/internal/core/powerport"
)

// State is the load output's fault state machine state.
type State int

const (
	StateOn State = iota
	StateOffOvervoltage
	StateOffOvercurrent
	StateOffLowSOC
	StateOffTemperature
	StateOffShortCircuit
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateOn:
		return "ON"
	case StateOffOvervoltage:
		return "OFF_OVERVOLTAGE"
	case StateOffOvercurrent:
		return "OFF_OVERCURRENT"
	case StateOffLowSOC:
		return "OFF_LOW_SOC"
	case StateOffTemperature:
		return "OFF_TEMPERATURE"
	case StateOffShortCircuit:
		return "OFF_SHORT_CIRCUIT"
	case StateDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

const (
	// controlFrequency is the control tick rate (Hz) the overvoltage
	// debounce counter is expressed in, matching CONTROL_FREQUENCY.
	controlFrequency = 10

	// mosfetThermalTimeConstant is the load MOSFET's pseudo-thermal
	// integrator time constant in seconds.
	mosfetThermalTimeConstant = 20

	defaultOVHysteresis = 0.3

	defaultLVDRecoveryDelay = 60 * time.Second
	defaultOCRecoveryDelay  = 60 * time.Second
)

// LoadOutput switches one battery-bus-connected load, plus an independent
// USB auxiliary output that shares the same temperature/low-SOC gating but
// is insensitive to the main output's overvoltage, overcurrent and
// short-circuit trips.
type LoadOutput struct {
	clock clock.Clock
	port  *powerport.PowerPort

	Enable    bool
	USBEnable bool

	State    State
	USBState State
	PGood    bool
	USBPGood bool

	CurrentMax float64

	Overvoltage  float64
	OVHysteresis float64
	ovDebounce   int

	thermalAccum float64 // pseudo-integrator, resets to 0 once tripped

	LVDTimestamp     time.Time
	LVDRecoveryDelay time.Duration
	OCTimestamp      time.Time
	OCRecoveryDelay  time.Duration
}

// New creates a LoadOutput switching port, with sensible defaults for the
// debounce/hysteresis/recovery-delay knobs tests_load.cpp exercises.
func New(clk clock.Clock, port *powerport.PowerPort, currentMax, overvoltage float64) *LoadOutput {
	return &LoadOutput{
		clock:            clk,
		port:             port,
		Enable:           true,
		USBEnable:        true,
		CurrentMax:       currentMax,
		Overvoltage:      overvoltage,
		OVHysteresis:     defaultOVHysteresis,
		LVDRecoveryDelay: defaultLVDRecoveryDelay,
		OCRecoveryDelay:  defaultOCRecoveryDelay,
	}
}

// Stop immediately force-trips the main output into state and records
// errFlag, for use from the synchronous fast-trip DAQ alert path (spec §5):
// it must never block or allocate. state and errFlag are independent: the
// voltage-dip fast trip reuses the StateOffOvercurrent state value (its
// recovery timer and debounce behavior are identical) while recording the
// distinct ErrLoadVoltageDip flag, exactly as
// tests_load.cpp's control_pgood_to_off_voltage_dip exercises.
func (l *LoadOutput) Stop(stat *devicestatus.DeviceStatus, state State, errFlag devicestatus.ErrorFlag) {
	now := l.clock.Now()
	l.State = state
	l.PGood = false
	l.thermalAccum = 0
	l.OCTimestamp = now
	l.LVDTimestamp = now
	stat.SetError(errFlag)
}

// Control runs one control tick of the fault state machine, setting/clearing
// the corresponding bit in stat as main-output faults are entered/exited.
func (l *LoadOutput) Control(stat *devicestatus.DeviceStatus) {
	now := l.clock.Now()

	if !l.Enable {
		l.State = StateDisabled
		l.PGood = false
		stat.ClearError(devicestatus.ErrLoadOvervoltage | devicestatus.ErrLoadOvercurrent | devicestatus.ErrLoadShortCircuit)
	} else {
		l.controlMainOutput(stat, now)
	}

	if !l.USBEnable {
		l.USBState = StateDisabled
		l.USBPGood = false
	} else {
		l.controlUSBOutput(stat, now)
	}
}

func (l *LoadOutput) controlMainOutput(stat *devicestatus.DeviceStatus, now time.Time) {
	switch l.State {
	case StateOn, StateDisabled:
		if batteryFault := l.batteryFault(stat); batteryFault != StateOn {
			l.trip(stat, batteryFault)
			return
		}
		if l.port.Bus.Voltage > l.Overvoltage {
			l.ovDebounce++
			if l.ovDebounce >= controlFrequency {
				l.trip(stat, StateOffOvervoltage)
				return
			}
		} else {
			l.ovDebounce = 0
		}

		// Pseudo-thermal integrator: proportional to (I/Imax)^2, decays
		// when current is below the rated maximum.
		ratio := l.port.Current / l.CurrentMax
		l.thermalAccum += (ratio*ratio - 1) / (mosfetThermalTimeConstant * controlFrequency)
		if l.thermalAccum < 0 {
			l.thermalAccum = 0
		}
		if l.thermalAccum >= 1 {
			l.trip(stat, StateOffOvercurrent)
			return
		}

		l.State = StateOn
		l.PGood = true
		stat.ClearError(devicestatus.ErrLoadOvervoltage | devicestatus.ErrLoadOvercurrent | devicestatus.ErrLoadShortCircuit)

	case StateOffOvervoltage:
		if l.port.Bus.Voltage <= l.port.Bus.SinkVoltageBound-l.OVHysteresis {
			l.recover(stat)
		}

	case StateOffOvercurrent:
		if now.Sub(l.OCTimestamp) >= l.OCRecoveryDelay {
			l.recover(stat)
		}

	case StateOffShortCircuit:
		// Only a manual re-enable (Enable toggled off then on) clears a
		// short-circuit trip; handled by the StateDisabled branch above
		// the next time Control observes Enable having gone false.

	case StateOffLowSOC:
		if now.Sub(l.LVDTimestamp) >= l.LVDRecoveryDelay && !stat.HasError(devicestatus.ErrBatUndervoltage) {
			l.recover(stat)
		}

	case StateOffTemperature:
		if l.batteryFault(stat) == StateOn {
			l.recover(stat)
		}
	}
}

func (l *LoadOutput) controlUSBOutput(stat *devicestatus.DeviceStatus, now time.Time) {
	// The USB output shares the battery-temperature/low-SOC gates with the
	// main output but has no overvoltage, overcurrent or short-circuit trip
	// (tests_load.cpp: control_off_overcurrent_to_on_after_delay asserts
	// usb_state is untouched by the main output's overcurrent fault).
	switch l.USBState {
	case StateOn, StateDisabled:
		if batteryFault := l.batteryFault(stat); batteryFault != StateOn {
			l.USBState = batteryFault
			l.USBPGood = false
			return
		}
		l.USBState = StateOn
		l.USBPGood = true
	case StateOffLowSOC:
		if now.Sub(l.LVDTimestamp) >= l.LVDRecoveryDelay && !stat.HasError(devicestatus.ErrBatUndervoltage) {
			l.USBState = StateOn
			l.USBPGood = true
		}
	case StateOffTemperature:
		if l.batteryFault(stat) == StateOn {
			l.USBState = StateOn
			l.USBPGood = true
		}
	}
}

// batteryFault reports StateOn if nothing upstream blocks the output, or the
// fault state to enter given stat's currently-set battery-side flags.
func (l *LoadOutput) batteryFault(stat *devicestatus.DeviceStatus) State {
	switch {
	case stat.HasError(devicestatus.ErrBatDisOvertemp), stat.HasError(devicestatus.ErrBatDisUndertemp), stat.HasError(devicestatus.ErrIntOvertemp):
		return StateOffTemperature
	case stat.HasError(devicestatus.ErrBatUndervoltage):
		return StateOffLowSOC
	default:
		return StateOn
	}
}

// trip is the fault-entry path driven from within Control itself (as
// opposed to Stop, which is the externally-invoked fast-trip entry point).
// StateOffTemperature sets no flag of its own: the temperature flags are
// set by whatever upstream component detected the condition, and loadoutput
// only reacts to them.
func (l *LoadOutput) trip(stat *devicestatus.DeviceStatus, state State) {
	var flag devicestatus.ErrorFlag
	switch state {
	case StateOffOvervoltage:
		flag = devicestatus.ErrLoadOvervoltage
	case StateOffOvercurrent:
		flag = devicestatus.ErrLoadOvercurrent
	case StateOffLowSOC:
		flag = devicestatus.ErrLoadLowSOC
	case StateOffShortCircuit:
		flag = devicestatus.ErrLoadShortCircuit
	}
	l.Stop(stat, state, flag)
}

func (l *LoadOutput) recover(stat *devicestatus.DeviceStatus) {
	l.State = StateOn
	l.PGood = true
	l.ovDebounce = 0
	l.thermalAccum = 0
	stat.ClearError(devicestatus.ErrLoadOvervoltage | devicestatus.ErrLoadOvercurrent | devicestatus.ErrLoadLowSOC)
}
