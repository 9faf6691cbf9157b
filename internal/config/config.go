// Package config loads the two-layer process configuration: a .env file
// (github.com/joho/godotenv) for connection secrets, and a config.toml file
// (github.com/BurntSushi/toml) for the electrical model. Grounded in the
// teacher's own main.go godotenv.Load()/os.Getenv() pattern for the secrets
// layer, and the sweeney-ups-mqtt example's nested-struct config-loading
// shape for the richer electrical layer a .env file cannot express cleanly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/daq"
)

// Secrets holds connection-level configuration loaded from .env.
type Secrets struct {
	MQTTBrokerURL string
	MQTTUsername  string
	MQTTPassword  string
	MQTTClientID  string
	WebsocketAddr string
	MetricsAddr   string
}

// LoadSecrets loads .env from the working directory (a missing file is not
// an error, mirroring the teacher's own godotenv.Load() handling, since a
// deployment may supply these as real environment variables instead) and
// reads the resulting environment.
func LoadSecrets() (Secrets, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Secrets{}, fmt.Errorf("config: loading .env: %w", err)
	}

	s := Secrets{
		MQTTBrokerURL: os.Getenv("MQTT_BROKER_URL"),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		MQTTClientID:  os.Getenv("MQTT_CLIENT_ID"),
		WebsocketAddr: os.Getenv("WEBSOCKET_ADDR"),
		MetricsAddr:   os.Getenv("METRICS_ADDR"),
	}
	if s.MQTTClientID == "" {
		s.MQTTClientID = "powerctl"
	}
	if s.WebsocketAddr == "" {
		s.WebsocketAddr = ":8080"
	}
	if s.MetricsAddr == "" {
		s.MetricsAddr = ":9100"
	}
	return s, nil
}

// BusBounds is the TOML-facing view of a dcbus.DcBus's sink/source voltage
// window, kept separate from dcbus.DcBus itself so the core package has no
// toml struct tags threaded through it.
type BusBounds struct {
	SinkVoltageBound float64 `toml:"sink_voltage_bound"`
	SrcVoltageBound  float64 `toml:"src_voltage_bound"`
}

// HalfBridgeConfig is the TOML-facing view of halfbridge.New's parameters.
type HalfBridgeConfig struct {
	FreqKHz    int     `toml:"freq_khz"`
	DeadTimeNs int     `toml:"dead_time_ns"`
	MinDuty    float64 `toml:"min_duty"`
	MaxDuty    float64 `toml:"max_duty"`
}

// TickConfig holds the control-tick/housekeeping-tick cadence in seconds
// (TOML has no native duration type, and time.Duration doesn't implement
// encoding.TextUnmarshaler, so fractional seconds are the plainest
// representation BurntSushi/toml decodes without a custom unmarshaler).
type TickConfig struct {
	ControlTickSeconds      float64 `toml:"control_tick_s"`
	HousekeepingTickSeconds float64 `toml:"housekeeping_tick_s"`
	PersistIntervalSeconds  float64 `toml:"persist_interval_s"`
}

// ControlTick returns the control-tick cadence as a time.Duration.
func (t TickConfig) ControlTick() time.Duration {
	return time.Duration(t.ControlTickSeconds * float64(time.Second))
}

// HousekeepingTick returns the housekeeping-tick cadence as a time.Duration.
func (t TickConfig) HousekeepingTick() time.Duration {
	return time.Duration(t.HousekeepingTickSeconds * float64(time.Second))
}

// PersistInterval returns the persistence write-through cadence as a
// time.Duration.
func (t TickConfig) PersistInterval() time.Duration {
	return time.Duration(t.PersistIntervalSeconds * float64(time.Second))
}

// BatteryTOML mirrors batteryconfig.Config field-for-field with toml tags;
// kept as a distinct type (rather than tagging batteryconfig.Config
// directly) so the core battery model carries no config-loading concerns.
type BatteryTOML struct {
	Chemistry  string  `toml:"chemistry"`
	NumCells   int     `toml:"num_cells"`
	CapacityAh float64 `toml:"capacity_ah"`

	CellVoltageRecharge float64 `toml:"cell_voltage_recharge"`
	TimeLimitRecharge   float64 `toml:"time_limit_recharge_s"`

	CellVoltageAbsoluteMin float64 `toml:"cell_voltage_absolute_min"`
	CellVoltageAbsoluteMax float64 `toml:"cell_voltage_absolute_max"`

	ChargeCurrentMax float64 `toml:"charge_current_max"`

	CellVoltageTopping   float64 `toml:"cell_voltage_topping"`
	TimeLimitTopping     float64 `toml:"time_limit_topping_s"`
	ToppingCurrentCutoff float64 `toml:"topping_current_cutoff"`

	TrickleEnabled      bool    `toml:"trickle_enabled"`
	CellVoltageTrickle  float64 `toml:"cell_voltage_trickle"`
	TimeTrickleRecharge float64 `toml:"time_trickle_recharge_s"`

	EqualizationEnabled           bool    `toml:"equalization_enabled"`
	CellVoltageEqualization       float64 `toml:"cell_voltage_equalization"`
	TimeLimitEqualization         float64 `toml:"time_limit_equalization_s"`
	CurrentLimitEqualization      float64 `toml:"current_limit_equalization"`
	EqualizationTriggerDays       int     `toml:"equalization_trigger_days"`
	EqualizationTriggerDeepCycles int     `toml:"equalization_trigger_deep_cycles"`

	CellVoltageLoadDisconnect float64 `toml:"cell_voltage_load_disconnect"`
	CellVoltageLoadReconnect  float64 `toml:"cell_voltage_load_reconnect"`

	CellOCVFull  float64 `toml:"cell_ocv_full"`
	CellOCVEmpty float64 `toml:"cell_ocv_empty"`

	TemperatureCompensation float64 `toml:"temperature_compensation"`

	ChargeTempMax    float64 `toml:"charge_temp_max"`
	ChargeTempMin    float64 `toml:"charge_temp_min"`
	DischargeTempMax float64 `toml:"discharge_temp_max"`
	DischargeTempMin float64 `toml:"discharge_temp_min"`

	InternalResistance float64 `toml:"internal_resistance"`
	WireResistance     float64 `toml:"wire_resistance"`
}

// SimulationConfig parameterizes the daq.SolarDayProfile that stands in for
// real ADC hardware (no sysfs/periph.io driver is wired, per DESIGN.md:
// the interface seam is daq.Source, not this struct).
type SimulationConfig struct {
	DayLengthHours       float64 `toml:"day_length_hours"`
	HVOpenCircuitVoltage float64 `toml:"hv_open_circuit_voltage"`
	HVShortCircuitAmps   float64 `toml:"hv_short_circuit_amps"`
	LVNominalVoltage     float64 `toml:"lv_nominal_voltage"`
	LoadCurrentAmps      float64 `toml:"load_current_amps"`
}

// Electrical is the full config.toml document: the battery profile, bus
// bounds, half-bridge timing, tick cadence, and simulated-DAQ parameters.
type Electrical struct {
	Battery    BatteryTOML      `toml:"battery"`
	LVBus      BusBounds        `toml:"lv_bus"`
	HVBus      BusBounds        `toml:"hv_bus"`
	HalfBridge HalfBridgeConfig `toml:"half_bridge"`
	Ticks      TickConfig       `toml:"ticks"`
	Simulation SimulationConfig `toml:"simulation"`
}

// Snapshot is the payload persisted inside the persistence.Store blob's
// versioned header (spec §6's "format opaque to the core"). Serialized with
// encoding/json rather than a denser binary encoding, for readability during
// development; a deliberate, named deviation from the original firmware's
// packed struct, justified in DESIGN.md.
type Snapshot struct {
	SOC            int     `json:"soc"`
	SOH            int     `json:"soh"`
	NumFullCharges int     `json:"num_full_charges"`
	DayCounter     int     `json:"day_counter"`
	SolarInTotalWh float64 `json:"solar_in_total_wh"`
	BatDisTotalWh  float64 `json:"bat_dis_total_wh"`
	BatChgTotalWh  float64 `json:"bat_chg_total_wh"`
	LoadOutTotalWh float64 `json:"load_out_total_wh"`
}

// Encode marshals s to the bytes a persistence.Store writes as its payload.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode unmarshals payload (as read back from a persistence.Store) into s.
func (s *Snapshot) Decode(payload []byte) error {
	return json.Unmarshal(payload, s)
}

// SolarProfile converts the TOML simulation section into the daq.SolarDayProfile
// the composition root feeds to daq.NewSimulatedSource.
func (s SimulationConfig) SolarProfile() daq.SolarDayProfile {
	return daq.SolarDayProfile{
		DayLength:            time.Duration(s.DayLengthHours * float64(time.Hour)),
		HVOpenCircuitVoltage: s.HVOpenCircuitVoltage,
		HVShortCircuitAmps:   s.HVShortCircuitAmps,
		LVNominalVoltage:     s.LVNominalVoltage,
		LoadCurrentAmps:      s.LoadCurrentAmps,
	}
}

// LoadElectrical decodes path as TOML into an Electrical configuration.
func LoadElectrical(path string) (Electrical, error) {
	var e Electrical
	if _, err := toml.DecodeFile(path, &e); err != nil {
		return Electrical{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return e, nil
}

var chemistryNames = map[string]batteryconfig.ChemistryType{
	"flooded":          batteryconfig.ChemistryFlooded,
	"gel":              batteryconfig.ChemistryGel,
	"agm":              batteryconfig.ChemistryAGM,
	"lfp":              batteryconfig.ChemistryLFP,
	"nmc":              batteryconfig.ChemistryNMC,
	"nmc_high_voltage": batteryconfig.ChemistryNMCHighVoltage,
}

// BatteryConfig converts the TOML-facing BatteryTOML into the core
// batteryconfig.Config the charger state machine consumes.
func (b BatteryTOML) BatteryConfig() (batteryconfig.Config, error) {
	chem, ok := chemistryNames[b.Chemistry]
	if !ok {
		return batteryconfig.Config{}, fmt.Errorf("config: unknown battery chemistry %q", b.Chemistry)
	}
	return batteryconfig.Config{
		Chemistry:                     chem,
		NumCells:                      b.NumCells,
		CapacityAh:                    b.CapacityAh,
		CellVoltageRecharge:           b.CellVoltageRecharge,
		TimeLimitRecharge:             time.Duration(b.TimeLimitRecharge * float64(time.Second)),
		CellVoltageAbsoluteMin:        b.CellVoltageAbsoluteMin,
		CellVoltageAbsoluteMax:        b.CellVoltageAbsoluteMax,
		ChargeCurrentMax:              b.ChargeCurrentMax,
		CellVoltageTopping:            b.CellVoltageTopping,
		TimeLimitTopping:              time.Duration(b.TimeLimitTopping * float64(time.Second)),
		ToppingCurrentCutoff:          b.ToppingCurrentCutoff,
		TrickleEnabled:                b.TrickleEnabled,
		CellVoltageTrickle:            b.CellVoltageTrickle,
		TimeTrickleRecharge:           time.Duration(b.TimeTrickleRecharge * float64(time.Second)),
		EqualizationEnabled:           b.EqualizationEnabled,
		CellVoltageEqualization:       b.CellVoltageEqualization,
		TimeLimitEqualization:         time.Duration(b.TimeLimitEqualization * float64(time.Second)),
		CurrentLimitEqualization:      b.CurrentLimitEqualization,
		EqualizationTriggerDays:       b.EqualizationTriggerDays,
		EqualizationTriggerDeepCycles: b.EqualizationTriggerDeepCycles,
		CellVoltageLoadDisconnect:     b.CellVoltageLoadDisconnect,
		CellVoltageLoadReconnect:      b.CellVoltageLoadReconnect,
		CellOCVFull:                   b.CellOCVFull,
		CellOCVEmpty:                  b.CellOCVEmpty,
		TemperatureCompensation:       b.TemperatureCompensation,
		ChargeTempMax:                 b.ChargeTempMax,
		ChargeTempMin:                 b.ChargeTempMin,
		DischargeTempMax:              b.DischargeTempMax,
		DischargeTempMin:              b.DischargeTempMin,
		InternalResistance:            b.InternalResistance,
		WireResistance:                b.WireResistance,
	}, nil
}
