package daq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/libresolar/powerctl/internal/clock"
)

func TestRawVoltageRoundTrip(t *testing.T) {
	const vrefMV = 3300
	for raw := 0; raw <= 65535; raw += 37 {
		v := RawToVoltage(raw, vrefMV)
		assert.Equal(t, raw, VoltageToRaw(v, vrefMV))
	}
}

func TestSimulatedSourceHVAlertDebounce(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	profile := SolarDayProfile{
		DayLength:            24 * time.Hour,
		HVOpenCircuitVoltage: 60,
		HVShortCircuitAmps:   5,
		LVNominalVoltage:     14,
		LoadCurrentAmps:      1,
	}
	src := NewSimulatedSource(clk, profile)

	var tripped int
	src.SetHVLimit(55, 2, func(Measurement) { tripped++ })

	clk.Advance(12 * time.Hour) // noon: full irradiance, hvVoltage = 60 > 55
	for i := 0; i < 2; i++ {
		src.Sample()
		assert.Zero(t, tripped, "debounce not yet exceeded")
	}
	src.Sample()
	assert.Equal(t, 1, tripped)
}

func TestCalibrateCurrentSensorsZeroesOffset(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	profile := SolarDayProfile{DayLength: 24 * time.Hour, LVNominalVoltage: 14, LoadCurrentAmps: 2}
	src := NewSimulatedSource(clk, profile)

	src.Sample()
	before := src.Latest().LVCurrent
	assert.NotZero(t, before)

	src.CalibrateCurrentSensors()
	src.Sample()
	assert.Zero(t, src.Latest().LVCurrent)
}
