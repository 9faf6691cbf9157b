// Package devicestatus aggregates the error bitfield, min/max latches and
// cumulative/day energy counters that the rest of the control core reports
// through. Grounded in original_source/test/tests_device_status.cpp and the
// dev_stat.{set_error,clear_error,has_error,update_energy,update_min_max_values}
// call sites referenced from daq.cpp and main.cpp.
package devicestatus

import (
	"sync/atomic"

	"github.com/libresolar/powerctl/internal/core/powerport"
)

// ErrorFlag is one bit in the device's sticky error bitfield.
type ErrorFlag uint32

const (
	ErrBatUndervoltage ErrorFlag = 1 << iota
	ErrBatOvervoltage
	ErrBatDisOvertemp
	ErrBatDisUndertemp
	ErrBatChgOvertemp
	ErrBatChgUndertemp
	ErrIntOvertemp
	ErrLoadOvervoltage
	ErrLoadOvercurrent
	ErrLoadShortCircuit
	ErrLoadLowSOC
	ErrLoadVoltageDip

	// ErrAnyError is the mask passed to ClearError to clear every flag at once.
	ErrAnyError ErrorFlag = (1 << iota) - 1
)

// DeviceStatus aggregates status shared across all control-core components.
// ErrorFlags is an atomic.Uint32 (spec's concurrency model, §5) since both
// the 10 Hz control tick and the fast-trip DAQ alert path write to it.
type DeviceStatus struct {
	ErrorFlags atomic.Uint32

	SolarVoltageMax   float64
	BatteryVoltageMax float64
	DcdcCurrentMax    float64
	LoadCurrentMax    float64

	SolarPowerMaxDay   float64
	SolarPowerMaxTotal float64
	LoadPowerMaxDay    float64
	LoadPowerMaxTotal  float64

	MosfetTempMax float64
	BatTempMax    float64
	IntTempMax    float64
	InternalTemp  float64

	SolarInTotalWh float64
	BatDisTotalWh  float64
	BatChgTotalWh  float64
	LoadOutTotalWh float64
	DayCounter     int

	solarBase, batDisBase, batChgBase, loadBase float64
	wasDaytime                                  bool
}

// SetError ORs f into the sticky error bitfield.
func (d *DeviceStatus) SetError(f ErrorFlag) {
	for {
		old := d.ErrorFlags.Load()
		if old&uint32(f) == uint32(f) {
			return
		}
		if d.ErrorFlags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearError AND-NOTs f out of the sticky error bitfield. Pass ErrAnyError to
// clear everything.
func (d *DeviceStatus) ClearError(f ErrorFlag) {
	for {
		old := d.ErrorFlags.Load()
		next := old &^ uint32(f)
		if next == old {
			return
		}
		if d.ErrorFlags.CompareAndSwap(old, next) {
			return
		}
	}
}

// HasError reports whether every bit in f is currently set.
func (d *DeviceStatus) HasError(f ErrorFlag) bool {
	return d.ErrorFlags.Load()&uint32(f) == uint32(f)
}

// UpdateMinMaxValues latches new highs across the whole-run and
// start-of-day power counters, matching the per-field update_min_max_values
// scenarios in tests_device_status.cpp.
func (d *DeviceStatus) UpdateMinMaxValues(solar, battery *powerport.PowerPort, dcdcInductorCurrent, loadCurrent float64, mosfetTemp, batTemp, internalTemp float64) {
	if solar.Bus.Voltage > d.SolarVoltageMax {
		d.SolarVoltageMax = solar.Bus.Voltage
	}
	if battery.Bus.Voltage > d.BatteryVoltageMax {
		d.BatteryVoltageMax = battery.Bus.Voltage
	}
	if dcdcInductorCurrent > d.DcdcCurrentMax {
		d.DcdcCurrentMax = dcdcInductorCurrent
	}
	if loadCurrent > d.LoadCurrentMax {
		d.LoadCurrentMax = loadCurrent
	}

	solarPower := abs(solar.Power)
	if solarPower > d.SolarPowerMaxDay {
		d.SolarPowerMaxDay = solarPower
	}
	if solarPower > d.SolarPowerMaxTotal {
		d.SolarPowerMaxTotal = solarPower
	}

	if mosfetTemp > d.MosfetTempMax {
		d.MosfetTempMax = mosfetTemp
	}
	if batTemp > d.BatTempMax {
		d.BatTempMax = batTemp
	}
	if internalTemp > d.IntTempMax {
		d.IntTempMax = internalTemp
	}
}

// UpdateLoadPowerMax latches new highs on the load output's power counters;
// kept separate from UpdateMinMaxValues because load is its own PowerPort
// owned by the loadoutput package, not the solar/battery pair threaded
// through the DC/DC loop.
func (d *DeviceStatus) UpdateLoadPowerMax(load *powerport.PowerPort) {
	loadPower := abs(load.Power)
	if loadPower > d.LoadPowerMaxDay {
		d.LoadPowerMaxDay = loadPower
	}
	if loadPower > d.LoadPowerMaxTotal {
		d.LoadPowerMaxTotal = loadPower
	}
}

// UpdateEnergy runs the 1 Hz energy-accounting tick: it mirrors each port's
// running daily Wh counter into the corresponding *_total_Wh field, and at
// the moment solar voltage first exceeds battery voltage (dawn), rolls the
// day counter, latches the day's totals as the new running base, and resets
// every port's daily counter to zero. Grounded in
// tests_device_status.cpp's reset_counters_at_start_of_day.
func (d *DeviceStatus) UpdateEnergy(solar, battery, load *powerport.PowerPort) {
	d.SolarInTotalWh = d.solarBase + solar.NegEnergyWh
	d.BatDisTotalWh = d.batDisBase + battery.NegEnergyWh
	d.BatChgTotalWh = d.batChgBase + battery.PosEnergyWh
	d.LoadOutTotalWh = d.loadBase + load.PosEnergyWh

	daytimeNow := solar.Bus.Voltage > battery.Bus.Voltage
	if daytimeNow && !d.wasDaytime {
		d.DayCounter++
		d.solarBase = d.SolarInTotalWh
		d.batDisBase = d.BatDisTotalWh
		d.batChgBase = d.BatChgTotalWh
		d.loadBase = d.LoadOutTotalWh

		solar.ResetDailyEnergy()
		battery.ResetDailyEnergy()
		load.ResetDailyEnergy()

		d.SolarInTotalWh = d.solarBase
		d.BatDisTotalWh = d.batDisBase
		d.BatChgTotalWh = d.batChgBase
		d.LoadOutTotalWh = d.loadBase
	}
	d.wasDaytime = daytimeNow
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
