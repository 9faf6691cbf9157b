package daq

import (
	"math"
	"time"
)

// SolarDayProfile is a deterministic synthetic irradiance/load waveform: HV
// (solar) voltage and power follow a clipped sine over a configurable day
// length, LV (battery) voltage sags with load current, and load current is
// constant. Grounded in the teacher's governor.ForecastExcessState style of a pure,
// hardware-independent state generator standing in for real telemetry.
type SolarDayProfile struct {
	DayLength time.Duration

	HVOpenCircuitVoltage float64
	HVShortCircuitAmps   float64

	LVNominalVoltage float64

	LoadCurrentAmps float64

	MosfetTemp   float64
	BatTemp      float64
	InternalTemp float64
}

// At returns the synthetic Measurement for elapsed simulated time since the
// profile's epoch.
func (p SolarDayProfile) At(elapsed time.Duration) Measurement {
	phase := math.Mod(elapsed.Hours(), p.DayLength.Hours()) / p.DayLength.Hours()
	irradiance := math.Max(0, math.Sin(phase*math.Pi))

	hvVoltage := p.HVOpenCircuitVoltage * (0.5 + 0.5*irradiance)
	hvCurrent := p.HVShortCircuitAmps * irradiance
	hvPower := hvVoltage * hvCurrent

	lvVoltage := p.LVNominalVoltage - 0.05*p.LoadCurrentAmps
	loadPower := lvVoltage * p.LoadCurrentAmps
	lvCurrent := hvCurrent - p.LoadCurrentAmps // net into the battery

	return Measurement{
		HVVoltage:       hvVoltage,
		HVCurrent:       hvCurrent,
		HVPower:         hvPower,
		LVVoltage:       lvVoltage,
		LVCurrent:       lvCurrent,
		LVPower:         lvVoltage * lvCurrent,
		LoadCurrent:     p.LoadCurrentAmps,
		LoadPower:       loadPower,
		InductorCurrent: hvCurrent,
		MosfetTemp:      p.MosfetTemp,
		BatTemp:         p.BatTemp,
		InternalTemp:    p.InternalTemp,
	}
}
