// Package charger implements the per-chemistry charge state machine (bulk,
// topping/absorption, trickle/float, optional equalization) and the
// discharge gate, driving target_voltage/target_current back into a
// PowerPort. Grounded line-for-line in
// original_source/test/tests_bat_charger.cpp, which is the authoritative
// source for the exact transition ordering (including the documented
// topping/equalization cascade quirk preserved in spec §9).
package charger

import (
	"time"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/core/powerport"
)

// State is a charger state machine state.
type State int

const (
	StateIdle State = iota
	StateBulk
	StateTopping
	StateTrickle
	StateEqualization
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBulk:
		return "BULK"
	case StateTopping:
		return "TOPPING"
	case StateTrickle:
		return "TRICKLE"
	case StateEqualization:
		return "EQUALIZATION"
	default:
		return "UNKNOWN"
	}
}

// toppingRegressionWindow is the undocumented 8-hour fallback from spec §4.4
// / §9: if TOPPING has been continuously entered for this long while current
// still exceeds the cutoff, regress to BULK. Preserved exactly, bug and all.
const toppingRegressionWindow = 8 * time.Hour

// socFilterSamples is the first-order SOC filter window (100-sample),
// spec §4.4.
const socFilterSamples = 100

// Charger drives one battery PowerPort's charge/discharge targets.
type Charger struct {
	clock clock.Clock

	State State

	TargetVoltage float64
	TargetCurrent float64

	BatTemperature float64
	ExtTempSensor  bool

	TimeStateChanged        time.Time
	TimeVoltageLimitReached time.Time
	TimeLastEqualization    time.Time
	TargetVoltageTimer      time.Duration

	SOC                     int // 0..100
	SOH                     int
	NumBatteries            int
	NumFullCharges          int
	NumDeepDischarges       int
	DeepDisLastEqualization int

	socFiltered    float64
	socInitialized bool
}

// New creates a Charger using clk as its time source, starting in IDLE with
// TimeLastEqualization set to the current time, so the day-based
// equalization trigger stays quiet until EqualizationTriggerDays have passed.
func New(clk clock.Clock) *Charger {
	return &Charger{
		clock:                clk,
		State:                StateIdle,
		TimeStateChanged:     clk.Now(),
		TimeLastEqualization: clk.Now(),
		NumBatteries:         1,
	}
}

func (c *Charger) enter(state State) {
	c.State = state
	c.TimeStateChanged = c.clock.Now()
	c.TargetVoltageTimer = 0
}

func (c *Charger) withinChargeTemp(cfg batteryconfig.Config) bool {
	return c.BatTemperature <= cfg.ChargeTempMax && c.BatTemperature >= cfg.ChargeTempMin
}

func (c *Charger) withinDischargeTemp(cfg batteryconfig.Config) bool {
	return c.BatTemperature <= cfg.DischargeTempMax && c.BatTemperature >= cfg.DischargeTempMin
}

// equalizationDue reports whether the day-based or deep-discharge-based
// equalization trigger has fired.
func (c *Charger) equalizationDue(cfg batteryconfig.Config) bool {
	if !cfg.EqualizationEnabled {
		return false
	}
	dueByTime := c.clock.Now().Sub(c.TimeLastEqualization) >= time.Duration(cfg.EqualizationTriggerDays)*24*time.Hour
	dueByCycles := c.NumDeepDischarges-c.DeepDisLastEqualization >= cfg.EqualizationTriggerDeepCycles
	return dueByTime || dueByCycles
}

// nextAfterTopping decides what state to enter once TOPPING's own exit
// condition has fired. It evaluates equalization eligibility immediately,
// in the same tick as the topping exit, rather than waiting for a
// subsequent tick spent in TRICKLE first — this is the cascade spec §9
// calls out ("ensure the transition zeroes the timer") and is preserved
// exactly as original_source/test/tests_bat_charger.cpp exercises it
// (trickle_to_equalization_if_enabled_and_time_limit_reached reaches
// EQUALIZATION from a single charge_control call starting in TOPPING).
func (c *Charger) nextAfterTopping(cfg batteryconfig.Config) State {
	if cfg.Chemistry.IsLithium() {
		return StateIdle
	}
	if c.equalizationDue(cfg) {
		c.TimeLastEqualization = c.clock.Now()
		c.DeepDisLastEqualization = c.NumDeepDischarges
		return StateEqualization
	}
	return StateTrickle
}

// ChargeControl runs one tick of the charge state machine and writes
// TargetVoltage/TargetCurrent back into port's bus sink bound and positive
// current limit.
func (c *Charger) ChargeControl(cfg batteryconfig.Config, port *powerport.PowerPort) {
	scalar := cfg.AsScalar()
	now := c.clock.Now()

	switch c.State {
	case StateIdle:
		blockedByError := false // ChargeControl has no access to device-status flags, and System.HousekeepingTick calls it without checking them: no error flag blocks this transition
		if port.Bus.Voltage < scalar.VoltageRecharge &&
			now.Sub(c.TimeStateChanged) > cfg.TimeLimitRecharge &&
			c.withinChargeTemp(cfg) &&
			!blockedByError {
			c.enter(StateBulk)
		}

	case StateBulk:
		if port.Bus.Voltage >= scalar.VoltageTopping {
			c.enter(StateTopping)
		}

	case StateTopping:
		hitTimeLimit := c.TargetVoltageTimer >= cfg.TimeLimitTopping
		c.TargetVoltageTimer += tickInterval
		droopAdjustedTarget := scalar.VoltageTopping - port.Current*port.SinkDroopRes

		regressToBulk := now.Sub(c.TimeStateChanged) >= toppingRegressionWindow &&
			port.Current > scalar.ToppingCurrentCutoff
		if regressToBulk {
			c.enter(StateBulk)
			break
		}

		hitCutoffCurrent := port.Current < scalar.ToppingCurrentCutoff && port.Bus.Voltage >= droopAdjustedTarget
		if hitTimeLimit || hitCutoffCurrent {
			next := c.nextAfterTopping(cfg)
			c.enter(next)
		}

	case StateTrickle:
		if port.Bus.Voltage < scalar.VoltageTrickle && now.Sub(c.TimeStateChanged) >= cfg.TimeTrickleRecharge {
			c.enter(StateBulk)
		}

	case StateEqualization:
		if now.Sub(c.TimeStateChanged) >= cfg.TimeLimitEqualization {
			c.enter(StateTrickle)
		}
	}

	c.writeTargets(cfg, scalar, port)
}

// tickInterval is the housekeeping-tick cadence (1 Hz) that advances
// TargetVoltageTimer; it matches the 1 Hz cadence spec §5 assigns to the
// charger context.
const tickInterval = time.Second

func (c *Charger) writeTargets(cfg batteryconfig.Config, scalar batteryconfig.Scalar, port *powerport.PowerPort) {
	var targetV, targetI float64
	switch c.State {
	case StateBulk:
		targetV, targetI = scalar.VoltageTopping, cfg.ChargeCurrentMax
	case StateTopping:
		targetV, targetI = scalar.VoltageTopping, cfg.ChargeCurrentMax
	case StateTrickle:
		targetV, targetI = scalar.VoltageTrickle, scalar.ChargeCurrentMax
	case StateEqualization:
		targetV, targetI = scalar.VoltageEqualization, scalar.CurrentLimitEqualization
	default: // IDLE
		targetV, targetI = scalar.VoltageRecharge, 0
	}

	targetV = cfg.TemperatureCompensatedVoltage(targetV, c.BatTemperature)

	c.TargetVoltage = targetV
	c.TargetCurrent = targetI
	port.Bus.SinkVoltageBound = targetV
	port.Bus.SinkVoltageIntercept = targetV
	port.PosCurrentLimit = targetI
}

// dischargeReconnectHysteresis is the voltage margin above
// CellVoltageAbsoluteMin*NumCells required to re-enable discharge once it
// has been blocked by undervoltage, spec §4.4: "~0.1 V".
const dischargeReconnectHysteresis = 0.1

// DischargeControl sets port.NegCurrentLimit per spec §4.4: zero (blocked) if
// battery voltage is at or below the absolute minimum, temperature is outside
// the discharge window, or an explicit low-SOC fault is set; otherwise
// -cfg.ChargeCurrentMax (the configured charge current limit, negated), with
// voltage hysteresis on re-enable.
func (c *Charger) DischargeControl(cfg batteryconfig.Config, port *powerport.PowerPort, lowSOCFault bool) {
	scalar := cfg.AsScalar()

	tempOK := c.withinDischargeTemp(cfg)
	voltageOK := port.Bus.Voltage > scalar.VoltageAbsoluteMin+dischargeReconnectHysteresis

	blocked := port.Bus.Voltage <= scalar.VoltageAbsoluteMin || !tempOK || lowSOCFault

	switch {
	case blocked:
		port.NegCurrentLimit = 0
	case port.NegCurrentLimit == 0 && !voltageOK:
		// Was blocked by undervoltage; stay blocked until past the
		// hysteresis margin, not merely back above the absolute minimum.
		port.NegCurrentLimit = 0
	default:
		port.NegCurrentLimit = -cfg.ChargeCurrentMax
	}
}

// UpdateSOC runs the open-circuit-voltage SOC estimator described in spec
// §4.4: only sampled when |current| < 0.2A, passed through a 100-sample
// first-order filter, bypassed on its first plausible sample. The original
// firmware's filter does not guard against ocv_empty sitting above the
// resting voltage (spec §9 "preserve as-is, not fix"); the result is simply
// clamped to [0,100] here, same as the source.
func (c *Charger) UpdateSOC(cfg batteryconfig.Config, port *powerport.PowerPort) {
	const restingCurrentThreshold = 0.2
	if abs(port.Current) >= restingCurrentThreshold {
		return
	}

	full, empty := cfg.SOCReferencePoints()
	raw := (port.Bus.Voltage - empty) / (full - empty)
	raw = clamp01(raw)

	if !c.socInitialized {
		c.socFiltered = raw
		c.socInitialized = true
	} else {
		alpha := 1.0 / socFilterSamples
		c.socFiltered += alpha * (raw - c.socFiltered)
	}

	c.SOC = int(clamp01(c.socFiltered) * 100)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
