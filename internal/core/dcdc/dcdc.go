// Package dcdc implements the bidirectional buck/boost MPPT control loop
// that drives a halfbridge.HalfBridge between a high-side and a low-side
// PowerPort. Grounded in original_source/test/tests_dcdc.cpp, which is the
// authoritative source for check_start_conditions()'s four start-blocking
// guards, the six derate conditions evaluated in Control, and the
// perturb-and-observe MPPT algorithm's direction-flip rule.
package dcdc

import (
	"time"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/core/halfbridge"
	"github.com/libresolar/powerctl/internal/core/powerport"
)

// Mode selects which port is the solar (unregulated source) side and which
// is the battery (regulated sink) side.
type Mode int

const (
	ModeOff Mode = iota
	ModeBuck
	ModeBoost
	ModeNanogrid
)

func (m Mode) String() string {
	switch m {
	case ModeBuck:
		return "BUCK"
	case ModeBoost:
		return "BOOST"
	case ModeNanogrid:
		return "NANOGRID"
	default:
		return "OFF"
	}
}

// ControlState is the fine-grained state Control leaves the loop in on its
// most recent tick: either running the MPPT perturb-and-observe algorithm,
// or clamped to one of six derate conditions, or idle/ramping.
type ControlState int

const (
	StateOff ControlState = iota
	StateRamp
	StateMPPT
	StateDerateOutputVoltage
	StateDerateOutputCurrent
	StateDerateInductorCurrent
	StateDerateInputVoltage
	StateDerateInputCurrent
	StateDerateTemperature
)

func (s ControlState) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateRamp:
		return "RAMP"
	case StateMPPT:
		return "MPPT"
	case StateDerateOutputVoltage:
		return "DERATE_OUTPUT_VOLTAGE"
	case StateDerateOutputCurrent:
		return "DERATE_OUTPUT_CURRENT"
	case StateDerateInductorCurrent:
		return "DERATE_INDUCTOR_CURRENT"
	case StateDerateInputVoltage:
		return "DERATE_INPUT_VOLTAGE"
	case StateDerateInputCurrent:
		return "DERATE_INPUT_CURRENT"
	case StateDerateTemperature:
		return "DERATE_TEMPERATURE"
	default:
		return "UNKNOWN"
	}
}

const (
	warmupTicks = 2
	mpptStep    = 0.001
	derateStep  = 0.004
)

// Dcdc is one MPPT control loop driving hb between hv (the high-side port)
// and lv (the low-side port).
type Dcdc struct {
	clock clock.Clock
	hb    *halfbridge.HalfBridge

	Mode  Mode
	State ControlState

	Enable bool

	InductorCurrent    float64
	InductorCurrentMax float64
	TempMosfets        float64
	TempMosfetsMax     float64

	Power     float64
	powerPrev float64
	pwmDelta  int // +1 or -1; carries the MPPT perturb direction across ticks

	LsVoltageMin float64
	LsVoltageMax float64
	HsVoltageMax float64

	RestartInterval    time.Duration
	PowerGoodTimeout   time.Duration
	OffTimestamp       time.Time
	PowerGoodTimestamp time.Time

	rampTicks int
}

// New creates a Dcdc loop. lsVoltageMin/Max and hsVoltageMax are the
// hardware absolute limits of the low-side and high-side ports;
// inductorCurrentMax is the PCB's inductor hardware limit.
func New(clk clock.Clock, hb *halfbridge.HalfBridge, lsVoltageMin, lsVoltageMax, hsVoltageMax, inductorCurrentMax float64, restartInterval time.Duration) *Dcdc {
	return &Dcdc{
		clock:              clk,
		hb:                 hb,
		Enable:             true,
		InductorCurrentMax: inductorCurrentMax,
		TempMosfetsMax:     80,
		LsVoltageMin:       lsVoltageMin,
		LsVoltageMax:       lsVoltageMax,
		HsVoltageMax:       hsVoltageMax,
		RestartInterval:    restartInterval,
		PowerGoodTimeout:   10 * time.Second,
	}
}

// increasingDirection is the duty-cycle step sign that increases transferred
// power for the given mode: +1 for buck (more duty draws more from the
// solar side), -1 for boost (the same half-bridge hardware inverts the
// relationship between duty and transferred power once high/low side are
// swapped).
func increasingDirection(mode Mode) int {
	if mode == ModeBoost {
		return -1
	}
	return 1
}

// CheckStartConditions reports which mode (if any) the converter may start
// in, given cfg and the current hv/lv port measurements. hv and lv must have
// had UpdateBusCurrentMargins called already.
func (d *Dcdc) CheckStartConditions(cfg batteryconfig.Config, hv, lv *powerport.PowerPort) Mode {
	if !d.Enable {
		return ModeOff
	}
	if !d.OffTimestamp.IsZero() && d.clock.Now().Sub(d.OffTimestamp) < d.RestartInterval {
		return ModeOff
	}
	if lv.Bus.Voltage < d.LsVoltageMin {
		return ModeOff
	}

	scalar := cfg.AsScalar()

	buckOK := lv.Bus.Voltage <= scalar.VoltageTopping*float64(lv.Bus.SeriesMultiplier) &&
		lv.PosCurrentMargin > 0 &&
		hv.Bus.Voltage <= d.HsVoltageMax &&
		hv.Bus.Voltage > hv.Bus.SrcVoltageIntercept
	if buckOK {
		return ModeBuck
	}

	boostOK := hv.Bus.Voltage <= scalar.VoltageTopping*float64(hv.Bus.SeriesMultiplier) &&
		hv.PosCurrentMargin > 0 &&
		lv.Bus.Voltage <= d.LsVoltageMax &&
		lv.Bus.Voltage > lv.Bus.SrcVoltageIntercept
	if boostOK {
		return ModeBoost
	}

	return ModeOff
}

// Stop disables the half bridge and records the restart cooldown deadline.
func (d *Dcdc) Stop() {
	d.hb.Stop()
	d.State = StateOff
	d.OffTimestamp = d.clock.Now()
}

// Control runs one 10 Hz control tick: start/restart gating while stopped,
// a short soft-start ramp, then steady-state derate-or-MPPT operation.
func (d *Dcdc) Control(cfg batteryconfig.Config, hv, lv *powerport.PowerPort) {
	now := d.clock.Now()

	switch d.State {
	case StateOff:
		mode := d.CheckStartConditions(cfg, hv, lv)
		if mode == ModeOff {
			return
		}
		d.Mode = mode
		d.State = StateRamp
		d.rampTicks = 0
		d.pwmDelta = increasingDirection(mode)
		d.powerPrev = 0
		d.PowerGoodTimestamp = now
		if hv.Bus.Voltage > 0 {
			d.hb.SetDutyCycle(lv.Bus.Voltage / hv.Bus.Voltage)
		}
		d.hb.Start()
		return

	case StateRamp:
		d.rampTicks++
		d.step(increasingDirection(d.Mode))
		if d.rampTicks >= warmupTicks {
			d.State = StateMPPT
			d.PowerGoodTimestamp = now
		}
		return
	}

	if d.emergencyStop(hv, lv) {
		d.Stop()
		return
	}
	if now.Sub(d.PowerGoodTimestamp) > d.PowerGoodTimeout {
		d.Stop()
		return
	}

	if state, triggered := d.evaluateDerates(hv, lv); triggered {
		d.State = state
		d.step(-increasingDirection(d.Mode))
		return
	}

	d.State = StateMPPT
	d.PowerGoodTimestamp = now
	d.step(d.perturb())
}

func (d *Dcdc) step(direction int) {
	d.hb.SetDutyCycle(d.hb.DutyCycle() + float64(direction)*derateStepFor(d.State))
}

// derateStepFor uses the finer mpptStep while tracking the MPPT or
// soft-start ramp, and the coarser derateStep once a derate condition has
// forced a correction.
func derateStepFor(state ControlState) float64 {
	if state == StateMPPT || state == StateRamp {
		return mpptStep
	}
	return derateStep
}

// perturb runs one tick of perturb-and-observe: keep the current direction
// while transferred power is flat or rising, flip it the moment power drops.
func (d *Dcdc) perturb() int {
	if abs(d.Power) < abs(d.powerPrev) {
		d.pwmDelta = -d.pwmDelta
	}
	d.powerPrev = d.Power
	return d.pwmDelta
}

// emergencyStop reports whether the regulated output side has exceeded its
// hardware-absolute voltage limit, which halts the converter immediately
// rather than derating.
func (d *Dcdc) emergencyStop(hv, lv *powerport.PowerPort) bool {
	switch d.Mode {
	case ModeBuck:
		return lv.Bus.Voltage > d.LsVoltageMax
	case ModeBoost:
		return hv.Bus.Voltage > d.HsVoltageMax
	default:
		return false
	}
}

// evaluateDerates checks the six derate conditions in priority order: output
// over-voltage, output over-current, inductor hardware over-current, input
// under-voltage, input over-current, over-temperature. The boost branch's
// input-over-current check compares the inductor current directly against
// the source port's negative current limit rather than the port's own
// current reading, because in boost mode the inductor current and the
// low-side (solar) port current are the same physical quantity — matching
// tests_dcdc.cpp's boost_derating_input_current_too_high, which drives
// dcdc.inductor_current rather than lv_terminal.current.
func (d *Dcdc) evaluateDerates(hv, lv *powerport.PowerPort) (ControlState, bool) {
	switch d.Mode {
	case ModeBuck:
		switch {
		case lv.Bus.Voltage > lv.Bus.SinkVoltageIntercept:
			return StateDerateOutputVoltage, true
		case lv.Current > lv.PosCurrentLimit:
			return StateDerateOutputCurrent, true
		case abs(d.InductorCurrent) > d.InductorCurrentMax:
			return StateDerateInductorCurrent, true
		case hv.Bus.Voltage < hv.Bus.SrcVoltageIntercept:
			return StateDerateInputVoltage, true
		case hv.Current < hv.NegCurrentLimit:
			return StateDerateInputCurrent, true
		case d.TempMosfets > d.TempMosfetsMax:
			return StateDerateTemperature, true
		}
	case ModeBoost:
		switch {
		case hv.Bus.Voltage > hv.Bus.SinkVoltageIntercept:
			return StateDerateOutputVoltage, true
		case hv.Current > hv.PosCurrentLimit:
			return StateDerateOutputCurrent, true
		case abs(d.InductorCurrent) > d.InductorCurrentMax:
			return StateDerateInductorCurrent, true
		case lv.Bus.Voltage < lv.Bus.SrcVoltageIntercept:
			return StateDerateInputVoltage, true
		case d.InductorCurrent < lv.NegCurrentLimit:
			return StateDerateInputCurrent, true
		case d.TempMosfets > d.TempMosfetsMax:
			return StateDerateTemperature, true
		}
	}
	return StateMPPT, false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
