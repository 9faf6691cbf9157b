// Package daq models the measurement-source collaborator the control core
// reads through: a filtered signed reading per ADC channel, the ADC
// raw-count/voltage conversion, and comparator-style fast-trip alert
// registration. Grounded in original_source/src/daq.{h,cpp} and
// original_source/test/tests_dcdc.cpp's ADC-scaling helpers.
//
// The only implementation carried here is SimulatedSource, which stands in
// the same relation to real ADC hardware that the teacher's
// governor.ForecastExcessState (not carried into this module's
// internal/governor) stands in relation to a real solar-forecast API: a pure, deterministic
// state machine driving a synthetic irradiance/load profile instead of
// reading register DMA buffers.
package daq

import (
	"sync/atomic"
	"time"
)

// adcFullScale and vrefDivisor implement the spec's
// adc_raw_to_voltage(raw, vref_mV) = raw * vref_mV / (4096*1000) conversion.
const (
	adcFullScale = 4096
	vrefDivisor  = 1000
)

// RawToVoltage converts a 12-bit raw ADC count to volts given the reference
// voltage in millivolts.
func RawToVoltage(raw int, vrefMV int) float64 {
	return float64(raw) * float64(vrefMV) / (adcFullScale * vrefDivisor)
}

// VoltageToRaw is RawToVoltage's inverse, rounding to the nearest raw count.
// Exercised by the round-trip property test (spec §8 property 5).
func VoltageToRaw(voltage float64, vrefMV int) int {
	return int(voltage*(adcFullScale*vrefDivisor)/float64(vrefMV) + 0.5)
}

// Measurement is one filtered snapshot of every channel the control tick
// reads. It is shared between the ISR-equivalent sampling path and the
// control tick through an atomic.Pointer, never a mutex (spec §5).
type Measurement struct {
	Timestamp time.Time

	HVVoltage float64
	HVCurrent float64
	HVPower   float64

	LVVoltage float64
	LVCurrent float64
	LVPower   float64

	LoadCurrent float64
	LoadPower   float64

	InductorCurrent float64

	MosfetTemp   float64
	BatTemp      float64
	InternalTemp float64
}

// AlertCallback is invoked synchronously, on whatever goroutine calls
// Source.Sample, when a registered threshold is exceeded past its debounce
// count. It must not block.
type AlertCallback func(m Measurement)

// Source is the measurement-source collaborator contract. Implementations
// must never block inside Sample, matching the ISR's "never block" rule.
type Source interface {
	// Sample takes one reading, updates the latest Measurement snapshot and
	// evaluates any registered fast-trip alerts, invoking callbacks inline.
	Sample() Measurement

	// Latest returns the most recently sampled Measurement without blocking.
	Latest() Measurement

	// SetLVAlerts installs upper/lower voltage comparators on the low-voltage
	// bus, debounced over debounceSamples consecutive over-threshold samples.
	SetLVAlerts(upper, lower float64, debounceSamples int, cb AlertCallback)

	// SetHVLimit installs an upper voltage comparator on the high-voltage
	// bus, debounced over debounceSamples consecutive over-threshold samples.
	SetHVLimit(upper float64, debounceSamples int, cb AlertCallback)

	// CalibrateCurrentSensors zeroes current-channel offsets; callers must
	// ensure all outputs are off first, same precondition as the firmware.
	CalibrateCurrentSensors()
}

// Profile generates one synthetic Measurement per Sample call, parameterized
// by elapsed simulated time. SimulatedSource owns the loop; Profile owns the
// waveform, so alternate irradiance/load shapes can be swapped in tests.
type Profile interface {
	At(elapsed time.Duration) Measurement
}

// SimulatedSource is the in-tree Source implementation: no real ADC exists
// behind this Go process, so a deterministic Profile stands in for the
// DMA-filtered hardware reading.
type SimulatedSource struct {
	clock   interface{ Now() time.Time }
	start   time.Time
	profile Profile

	latest atomic.Pointer[Measurement]

	lvUpper, lvLower   float64
	lvDebounce         int
	lvOverCount        int
	lvUnderCount       int
	lvCallback         AlertCallback

	hvUpper     float64
	hvDebounce  int
	hvOverCount int
	hvCallback  AlertCallback

	currentOffset float64
}

// NewSimulatedSource creates a SimulatedSource driven by profile, with its
// synthetic clock starting at clk.Now().
func NewSimulatedSource(clk interface{ Now() time.Time }, profile Profile) *SimulatedSource {
	s := &SimulatedSource{clock: clk, start: clk.Now(), profile: profile}
	m := profile.At(0)
	s.latest.Store(&m)
	return s
}

// Sample advances the simulated profile to the current clock time, applies
// the calibrated current offset, stores the new snapshot, and evaluates any
// registered alerts inline.
func (s *SimulatedSource) Sample() Measurement {
	elapsed := s.clock.Now().Sub(s.start)
	m := s.profile.At(elapsed)
	m.Timestamp = s.clock.Now()
	m.LVCurrent -= s.currentOffset

	s.latest.Store(&m)
	s.evaluateAlerts(m)
	return m
}

// Latest returns the most recently sampled Measurement without blocking,
// via a single atomic pointer read.
func (s *SimulatedSource) Latest() Measurement {
	return *s.latest.Load()
}

func (s *SimulatedSource) SetLVAlerts(upper, lower float64, debounceSamples int, cb AlertCallback) {
	s.lvUpper, s.lvLower, s.lvDebounce, s.lvCallback = upper, lower, debounceSamples, cb
	s.lvOverCount, s.lvUnderCount = 0, 0
}

func (s *SimulatedSource) SetHVLimit(upper float64, debounceSamples int, cb AlertCallback) {
	s.hvUpper, s.hvDebounce, s.hvCallback = upper, debounceSamples, cb
	s.hvOverCount = 0
}

// CalibrateCurrentSensors zeroes the LV current channel's offset against
// whatever the profile is currently reporting, mirroring the firmware's
// "assume outputs are off, so any non-zero reading is sensor offset" logic.
func (s *SimulatedSource) CalibrateCurrentSensors() {
	s.currentOffset += s.Latest().LVCurrent
}

func (s *SimulatedSource) evaluateAlerts(m Measurement) {
	if s.lvCallback != nil {
		if s.lvUpper != 0 && m.LVVoltage > s.lvUpper {
			s.lvOverCount++
		} else {
			s.lvOverCount = 0
		}
		if s.lvLower != 0 && m.LVVoltage < s.lvLower {
			s.lvUnderCount++
		} else {
			s.lvUnderCount = 0
		}
		if s.lvOverCount > s.lvDebounce || s.lvUnderCount > s.lvDebounce {
			s.lvCallback(m)
		}
	}

	if s.hvCallback != nil {
		if s.hvUpper != 0 && m.HVVoltage > s.hvUpper {
			s.hvOverCount++
		} else {
			s.hvOverCount = 0
		}
		if s.hvOverCount > s.hvDebounce {
			s.hvCallback(m)
		}
	}
}
