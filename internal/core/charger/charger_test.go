package charger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/core/dcbus"
	"github.com/libresolar/powerctl/internal/core/powerport"
)

// newTestRig builds a charger, a fake clock and a battery PowerPort wired
// together against the SixCellFloodedLeadAcid fixture, mirroring the
// fixture setup at the top of original_source/test/tests_bat_charger.cpp.
func newTestRig() (*Charger, *clock.Fake, batteryconfig.Config, *powerport.PowerPort) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	cfg := batteryconfig.SixCellFloodedLeadAcid()
	bus := dcbus.InitBattery(cfg.CellVoltageTopping*float64(cfg.NumCells), cfg.CellVoltageAbsoluteMin*float64(cfg.NumCells), cfg.NumCells)
	port := powerport.New(bus)
	c := New(clk)
	return c, clk, cfg, port
}

func TestNoStartAtHighVoltage(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	port.Bus.Voltage = cfg.AsScalar().VoltageRecharge + 1
	clk.Advance(2 * cfg.TimeLimitRecharge)

	c.ChargeControl(cfg, port)

	assert.Equal(t, StateIdle, c.State)
}

func TestNoStartAfterShortRest(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	port.Bus.Voltage = cfg.AsScalar().VoltageRecharge - 0.1
	clk.Advance(cfg.TimeLimitRecharge / 2)

	c.ChargeControl(cfg, port)

	assert.Equal(t, StateIdle, c.State)
}

func TestNoStartOutsideTemperatureLimits(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	port.Bus.Voltage = cfg.AsScalar().VoltageRecharge - 0.1
	clk.Advance(2 * cfg.TimeLimitRecharge)

	c.BatTemperature = cfg.ChargeTempMax + 1
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateIdle, c.State)

	c.BatTemperature = cfg.ChargeTempMin - 1
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateIdle, c.State)
}

func TestStartIfEverythingJustFine(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	port.Bus.Voltage = cfg.AsScalar().VoltageRecharge - 0.1
	clk.Advance(2 * cfg.TimeLimitRecharge)
	c.BatTemperature = 25

	c.ChargeControl(cfg, port)

	assert.Equal(t, StateBulk, c.State)
}

// enterTopping drives the rig from IDLE into TOPPING, mirroring
// enter_topping_at_voltage_setpoint in the source test file.
func enterTopping(t *testing.T, c *Charger, clk *clock.Fake, cfg batteryconfig.Config, port *powerport.PowerPort) {
	t.Helper()
	port.Bus.Voltage = cfg.AsScalar().VoltageRecharge - 0.1
	clk.Advance(2 * cfg.TimeLimitRecharge)
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateBulk, c.State)

	port.Bus.Voltage = cfg.AsScalar().VoltageTopping
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTopping, c.State)
}

func TestEnterToppingAtVoltageSetpoint(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)
}

func TestToppingToBulkAfter8hLowPower(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	port.Current = cfg.AsScalar().ToppingCurrentCutoff + 1 // still drawing current, never hits cutoff

	c.TimeStateChanged = clk.Now().Add(-8*time.Hour + time.Second)
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTopping, c.State, "must not regress before the 8h window elapses")

	c.TimeStateChanged = clk.Now().Add(-8*time.Hour - time.Second)
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateBulk, c.State, "must regress to bulk once the 8h window has elapsed")
}

func TestStopToppingAfterTimeLimit(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)
	port.Current = cfg.AsScalar().ToppingCurrentCutoff + 1 // current never drops below cutoff

	c.TargetVoltageTimer = cfg.TimeLimitTopping - time.Second
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTopping, c.State)

	c.TargetVoltageTimer = cfg.TimeLimitTopping + time.Second
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTrickle, c.State)
}

func TestStopToppingAtCutoffCurrent(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	port.Current = scalar.ToppingCurrentCutoff + 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTopping, c.State)

	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTrickle, c.State)
}

func TestTrickleToIdleForLiIon(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	cfg.Chemistry = batteryconfig.ChemistryLFP
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)

	assert.Equal(t, StateIdle, c.State, "lithium chemistries skip trickle entirely")
}

func TestNoEqualizationIfDisabled(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	cfg.EqualizationEnabled = false
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	c.TimeLastEqualization = clk.Now().Add(-time.Duration(cfg.EqualizationTriggerDays+1) * 24 * time.Hour)
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)

	assert.Equal(t, StateTrickle, c.State)
}

func TestNoEqualizationIfLimitsNotReached(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	c.TimeLastEqualization = clk.Now() // just happened, and no deep discharges recorded
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)

	assert.Equal(t, StateTrickle, c.State)
}

func TestTrickleToEqualizationIfEnabledAndTimeLimitReached(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	c.TimeLastEqualization = clk.Now().Add(-time.Duration(cfg.EqualizationTriggerDays+1) * 24 * time.Hour)
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)

	assert.Equal(t, StateEqualization, c.State, "topping exits straight to equalization, never dwelling in trickle first")
}

func TestTrickleToEqualizationIfEnabledAndDeepDisLimitReached(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	c.NumDeepDischarges = cfg.EqualizationTriggerDeepCycles
	c.DeepDisLastEqualization = 0
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)

	assert.Equal(t, StateEqualization, c.State)
}

func TestStopEqualizationAfterTimeLimit(t *testing.T) {
	c, clk, cfg, port := newTestRig()
	enterTopping(t, c, clk, cfg, port)

	scalar := cfg.AsScalar()
	c.NumDeepDischarges = cfg.EqualizationTriggerDeepCycles
	port.Current = scalar.ToppingCurrentCutoff - 0.1
	port.Bus.Voltage = scalar.VoltageTopping - port.Current*port.SinkDroopRes
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateEqualization, c.State)

	c.TimeStateChanged = clk.Now().Add(-cfg.TimeLimitEqualization + time.Second)
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateEqualization, c.State)

	c.TimeStateChanged = clk.Now().Add(-cfg.TimeLimitTopping - time.Second) // comfortably longer than equalization duration
	c.ChargeControl(cfg, port)
	assert.Equal(t, StateTrickle, c.State)
}

func TestStopDischargeAtLowVoltage(t *testing.T) {
	c, _, cfg, port := newTestRig()
	scalar := cfg.AsScalar()
	port.NegCurrentLimit = -cfg.ChargeCurrentMax
	port.Bus.Voltage = scalar.VoltageAbsoluteMin - 0.1
	c.BatTemperature = 25

	c.DischargeControl(cfg, port, false)

	assert.Zero(t, port.NegCurrentLimit)
}

func TestStopDischargeAtOvertemp(t *testing.T) {
	c, _, cfg, port := newTestRig()
	scalar := cfg.AsScalar()
	port.NegCurrentLimit = -cfg.ChargeCurrentMax
	port.Bus.Voltage = scalar.VoltageAbsoluteMin + 1
	c.BatTemperature = cfg.DischargeTempMax + 1

	c.DischargeControl(cfg, port, false)

	assert.Zero(t, port.NegCurrentLimit)
}

func TestStopDischargeAtUndertemp(t *testing.T) {
	c, _, cfg, port := newTestRig()
	scalar := cfg.AsScalar()
	port.NegCurrentLimit = -cfg.ChargeCurrentMax
	port.Bus.Voltage = scalar.VoltageAbsoluteMin + 1
	c.BatTemperature = cfg.DischargeTempMin - 1

	c.DischargeControl(cfg, port, false)

	assert.Zero(t, port.NegCurrentLimit)
}

func TestRestartDischargeIfAllowed(t *testing.T) {
	c, _, cfg, port := newTestRig()
	scalar := cfg.AsScalar()
	c.BatTemperature = 25

	port.Bus.Voltage = scalar.VoltageAbsoluteMin
	c.DischargeControl(cfg, port, false)
	assert.Zero(t, port.NegCurrentLimit)

	port.Bus.Voltage = scalar.VoltageAbsoluteMin + 0.05
	c.DischargeControl(cfg, port, false)
	assert.Zero(t, port.NegCurrentLimit, "0.05V above the floor is still inside the reconnect hysteresis band")

	port.Bus.Voltage = scalar.VoltageAbsoluteMin + 0.15
	c.DischargeControl(cfg, port, false)
	assert.Equal(t, -cfg.ChargeCurrentMax, port.NegCurrentLimit, "0.15V above the floor clears the reconnect hysteresis band")
}
