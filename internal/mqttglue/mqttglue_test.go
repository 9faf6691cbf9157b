package mqttglue

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/config"
	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/daq"
	"github.com/libresolar/powerctl/internal/gpio"
	"github.com/libresolar/powerctl/internal/persistence"
	"github.com/libresolar/powerctl/internal/system"
)

func newTestGlue() *Glue {
	clk := clock.NewFake(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC))
	elec := config.Electrical{
		LVBus:      config.BusBounds{SinkVoltageBound: 14.4, SrcVoltageBound: 11.0},
		HVBus:      config.BusBounds{SinkVoltageBound: 55, SrcVoltageBound: 9},
		HalfBridge: config.HalfBridgeConfig{FreqKHz: 70, DeadTimeNs: 200, MinDuty: 0, MaxDuty: 0.97},
	}
	profile := daq.SolarDayProfile{DayLength: 24 * time.Hour, HVOpenCircuitVoltage: 40, HVShortCircuitAmps: 5, LVNominalVoltage: 13.5}
	sys := system.New(clk, logrus.NewEntry(logrus.New()), elec, batteryconfig.SixCellFloodedLeadAcid(),
		daq.NewSimulatedSource(clk, profile), persistence.NewMemory(), gpio.NewMemory(), gpio.NewMemory())
	return &Glue{sys: sys, log: logrus.NewEntry(logrus.New())}
}

func boolPtr(b bool) *bool { return &b }

func TestApplyCommandSetsLoadEnable(t *testing.T) {
	g := newTestGlue()
	g.sys.SetLoadEnable(true)

	g.applyCommand(Command{LoadEnable: boolPtr(false)})
	g.sys.ControlTick()
	assert.False(t, g.sys.Snapshot().LoadPGood)
}

func TestApplyCommandSetsUSBEnable(t *testing.T) {
	g := newTestGlue()
	g.applyCommand(Command{USBEnable: boolPtr(false)})
	g.sys.ControlTick()
	assert.False(t, g.sys.Snapshot().USBPGood)
}

func TestApplyCommandRequestsEqualization(t *testing.T) {
	g := newTestGlue()
	g.applyCommand(Command{RequestEqualization: true})
	// RequestEqualization only backdates the timer; asserting it didn't
	// panic and left the charger in a valid state is the relevant check
	// here since a full equalization-trigger test belongs to the charger
	// package's own test suite.
	g.sys.HousekeepingTick()
	assert.NotEmpty(t, g.sys.Snapshot().ChargerState)
}

func TestApplyCommandIgnoresUnsetFields(t *testing.T) {
	g := newTestGlue()
	g.sys.SetLoadEnable(true)
	g.applyCommand(Command{})
	g.sys.ControlTick()
	assert.True(t, g.sys.Snapshot().LoadPGood)
}
