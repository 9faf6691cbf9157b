// Package batteryconfig holds the immutable per-chemistry charge profile
// consumed by the charger state machine. Grounded in
// original_source/src/battery.h's battery_conf_t and BatteryConfigUser, with
// the derived-view accessor methods modeled on the teacher's
// BatteryConfig.CalibConfig()/SOCConfig()/LowVoltageProtectionConfig()
// pattern in battery_config.go: the stored config is per-cell, and callers
// read string-scalar views through methods rather than recomputing
// num_cells multiplication ad hoc at every call site.
package batteryconfig

import "time"

// ChemistryType selects which charging strategy and cell voltage limits apply.
type ChemistryType int

const (
	ChemistryNone ChemistryType = iota
	ChemistryFlooded
	ChemistryGel
	ChemistryAGM
	ChemistryLFP
	ChemistryNMC
	ChemistryNMCHighVoltage
)

// IsLithium reports whether the chemistry skips the trickle/float phase
// (spec §4.4: "Lithium chemistries skip trickle").
func (c ChemistryType) IsLithium() bool {
	switch c {
	case ChemistryLFP, ChemistryNMC, ChemistryNMCHighVoltage:
		return true
	default:
		return false
	}
}

// Config is the immutable per-run battery configuration, expressed per-cell
// exactly as original_source/src/battery.h's battery_conf_t stores it.
type Config struct {
	Chemistry   ChemistryType
	NumCells    int
	CapacityAh  float64

	// Standby / recharge.
	CellVoltageRecharge  float64 // V per cell
	TimeLimitRecharge    time.Duration

	CellVoltageAbsoluteMin float64 // V per cell; below this the battery is considered damaged
	CellVoltageAbsoluteMax float64

	// Bulk / CC.
	ChargeCurrentMax float64 // A

	// Topping / CV.
	CellVoltageTopping    float64
	TimeLimitTopping      time.Duration
	ToppingCurrentCutoff  float64 // A

	// Trickle / float.
	TrickleEnabled       bool
	CellVoltageTrickle   float64
	TimeTrickleRecharge  time.Duration

	// Equalization.
	EqualizationEnabled          bool
	CellVoltageEqualization      float64
	TimeLimitEqualization        time.Duration
	CurrentLimitEqualization     float64
	EqualizationTriggerDays      int
	EqualizationTriggerDeepCycles int

	CellVoltageLoadDisconnect float64
	CellVoltageLoadReconnect  float64

	CellOCVFull  float64
	CellOCVEmpty float64

	// TemperatureCompensation is in volts/Kelvin/cell, typically negative
	// (suggested -3 mV/°C/cell in the original firmware).
	TemperatureCompensation float64

	ChargeTempMax    float64
	ChargeTempMin    float64
	DischargeTempMax float64
	DischargeTempMin float64

	InternalResistance float64 // ohm, whole pack
	WireResistance     float64 // ohm, whole pack
}

// Scalar is the per-string (NumCells-multiplied) view of a Config, the form
// the charger actually writes into a PowerPort's bus sink bound / current
// limits.
type Scalar struct {
	VoltageRecharge     float64
	VoltageAbsoluteMin  float64
	VoltageAbsoluteMax  float64
	ChargeCurrentMax    float64
	VoltageTopping      float64
	ToppingCurrentCutoff float64
	VoltageTrickle      float64
	VoltageEqualization float64
	CurrentLimitEqualization float64
	VoltageLoadDisconnect float64
	VoltageLoadReconnect  float64
}

// AsScalar multiplies every per-cell voltage by NumCells, mirroring the
// "Exposed scalar form" entity note in the spec's BatteryConfig data model.
func (c Config) AsScalar() Scalar {
	n := float64(c.NumCells)
	return Scalar{
		VoltageRecharge:           c.CellVoltageRecharge * n,
		VoltageAbsoluteMin:        c.CellVoltageAbsoluteMin * n,
		VoltageAbsoluteMax:        c.CellVoltageAbsoluteMax * n,
		ChargeCurrentMax:          c.ChargeCurrentMax,
		VoltageTopping:            c.CellVoltageTopping * n,
		ToppingCurrentCutoff:      c.ToppingCurrentCutoff,
		VoltageTrickle:            c.CellVoltageTrickle * n,
		VoltageEqualization:       c.CellVoltageEqualization * n,
		CurrentLimitEqualization:  c.CurrentLimitEqualization,
		VoltageLoadDisconnect:     c.CellVoltageLoadDisconnect * n,
		VoltageLoadReconnect:      c.CellVoltageLoadReconnect * n,
	}
}

// SOCReferencePoints returns the (full, empty) open-circuit-voltage pair used
// by the charger's SOC filter, scaled to the full string.
func (c Config) SOCReferencePoints() (full, empty float64) {
	n := float64(c.NumCells)
	return c.CellOCVFull * n, c.CellOCVEmpty * n
}

// TemperatureCompensatedVoltage applies the spec §4.4 formula:
// target_voltage += temperature_compensation * num_cells * (T - 25°C).
func (c Config) TemperatureCompensatedVoltage(baseVoltage, temperatureC float64) float64 {
	return baseVoltage + c.TemperatureCompensation*float64(c.NumCells)*(temperatureC-25)
}

// SixCellFloodedLeadAcid returns the literal fixture used throughout spec §8's
// end-to-end scenarios (S1-S3): 6-cell flooded lead-acid, topping 14.4V,
// recharge 13.8V, absolute min 11.0V, topping_current_cutoff 2A,
// time_limit_recharge 60s, topping_duration 120min.
func SixCellFloodedLeadAcid() Config {
	return Config{
		Chemistry:                    ChemistryFlooded,
		NumCells:                     6,
		CapacityAh:                   100,
		CellVoltageRecharge:          13.8 / 6,
		TimeLimitRecharge:            60 * time.Second,
		CellVoltageAbsoluteMin:       11.0 / 6,
		CellVoltageAbsoluteMax:       15.5 / 6,
		ChargeCurrentMax:             20,
		CellVoltageTopping:           14.4 / 6,
		TimeLimitTopping:             120 * time.Minute,
		ToppingCurrentCutoff:         2,
		TrickleEnabled:               true,
		CellVoltageTrickle:           13.5 / 6,
		TimeTrickleRecharge:          30 * time.Minute,
		EqualizationEnabled:          true,
		CellVoltageEqualization:      14.8 / 6,
		TimeLimitEqualization:        60 * time.Minute,
		CurrentLimitEqualization:     5,
		EqualizationTriggerDays:      60,
		EqualizationTriggerDeepCycles: 10,
		CellVoltageLoadDisconnect:    11.8 / 6,
		CellVoltageLoadReconnect:     12.2 / 6,
		CellOCVFull:                  12.6 / 6,
		CellOCVEmpty:                 11.8 / 6,
		TemperatureCompensation:      -0.003,
		ChargeTempMax:                45,
		ChargeTempMin:                0,
		DischargeTempMax:             45,
		DischargeTempMin:             -20,
		InternalResistance:           0.05,
		WireResistance:               0.02,
	}
}
