// Package powerport models a logical DC terminal that owns a view onto a
// dcbus.DcBus: signed current, current limits, derived margins, droop
// resistances and energy counters. Grounded in original_source/src/dc_bus.h
// (PowerPort) and exercised end-to-end by test/tests_power_port.cpp's
// energy_calculation_init scenario (ported as TestEnergyCalculationValid here).
package powerport

import "github.com/libresolar/powerctl/internal/core/dcbus"

// PowerPort is a signed-current view onto one DcBus.
type PowerPort struct {
	Bus *dcbus.DcBus

	// Current is signed: positive means current flows into the port,
	// i.e. charging the bus.
	Current float64
	// Power is the directly-measured power flow through this port, signed
	// the same way as Current. Device-status min/max tracking reads this
	// rather than recomputing Voltage*Current, matching the original
	// firmware's separately-measured power channel.
	Power float64

	PosCurrentLimit float64 // >= 0
	NegCurrentLimit float64 // <= 0

	// PosCurrentMargin/NegCurrentMargin are recomputed by
	// UpdateBusCurrentMargins from the latest Current and limits.
	PosCurrentMargin float64
	NegCurrentMargin float64

	SinkDroopRes float64 // ohm, >= 0
	SrcDroopRes  float64 // ohm, >= 0

	// PosEnergyWh/NegEnergyWh are running Wh counters, reset on day boundary
	// by the device-status aggregator.
	PosEnergyWh float64
	NegEnergyWh float64
}

// New creates a PowerPort view onto bus.
func New(bus *dcbus.DcBus) *PowerPort {
	return &PowerPort{Bus: bus}
}

// UpdateBusCurrentMargins recomputes the positive/negative current margins
// from the latest measured current and configured limits.
//
// Invariant (spec §8, property 3): PosCurrentMargin + Current == PosCurrentLimit
// exactly, for every sample.
func (p *PowerPort) UpdateBusCurrentMargins() {
	p.PosCurrentMargin = p.PosCurrentLimit - p.Current
	p.NegCurrentMargin = p.NegCurrentLimit - p.Current
}

// SinkTargetVoltage returns the droop-adjusted voltage target when this port
// is acting as a sink (e.g. the battery charge target at the present current).
func (p *PowerPort) SinkTargetVoltage() float64 {
	return p.Bus.SinkVoltageIntercept - p.SinkDroopRes*absf(p.Current)
}

// SrcTargetVoltage returns the droop-adjusted voltage floor when this port is
// acting as a source.
func (p *PowerPort) SrcTargetVoltage() float64 {
	return p.Bus.SrcVoltageIntercept + p.SrcDroopRes*absf(p.Current)
}

// EnergyBalance accumulates Wh counters for one elapsed second of current at
// the bus voltage. Must be called exactly once per second per port (the 1 Hz
// housekeeping tick owns this responsibility); missing or duplicate calls
// cause cumulative error, same as the original firmware.
func (p *PowerPort) EnergyBalance() {
	if p.Current >= 0 {
		p.PosEnergyWh += p.Bus.Voltage * p.Current / 3600
	} else {
		p.NegEnergyWh -= p.Bus.Voltage * p.Current / 3600
	}
}

// ResetDailyEnergy zeroes the daily Wh counters at a day boundary, preserving
// whatever cumulative totals the caller (device-status) tracks separately.
func (p *PowerPort) ResetDailyEnergy() {
	p.PosEnergyWh = 0
	p.NegEnergyWh = 0
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
