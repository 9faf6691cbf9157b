// Package metrics exposes the controller's live state as Prometheus gauges,
// scraped over /metrics. Grounded on the PossumXI-Asgard_Arobi example's
// Pricilla/internal/metrics/prometheus.go: a promauto-registered gauge set
// behind a small typed recorder, one Update method fed the latest snapshot
// rather than scattering WithLabelValues calls through the control core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/libresolar/powerctl/internal/system"
)

// Recorder owns every powerctl Prometheus metric.
type Recorder struct {
	hvVoltage prometheus.Gauge
	hvCurrent prometheus.Gauge
	lvVoltage prometheus.Gauge
	lvCurrent prometheus.Gauge

	chargerState *prometheus.GaugeVec
	socPercent   prometheus.Gauge
	socBand      prometheus.Gauge

	dcdcState *prometheus.GaugeVec
	loadPGood prometheus.Gauge
	usbPGood  prometheus.Gauge

	errorFlags prometheus.Gauge
	dayCounter prometheus.Gauge

	hvPowerMin prometheus.Gauge
	hvPowerMax prometheus.Gauge
}

// NewRecorder registers every gauge against the default Prometheus registry.
func NewRecorder() *Recorder {
	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: "powerctl", Subsystem: "controller", Name: name, Help: help}
	}

	return &Recorder{
		hvVoltage: promauto.NewGauge(opts("hv_voltage_volts", "High-side (solar) bus voltage")),
		hvCurrent: promauto.NewGauge(opts("hv_current_amps", "High-side (solar) bus current")),
		lvVoltage: promauto.NewGauge(opts("lv_voltage_volts", "Low-side (battery) bus voltage")),
		lvCurrent: promauto.NewGauge(opts("lv_current_amps", "Low-side (battery) bus current")),

		chargerState: promauto.NewGaugeVec(opts("charger_state", "1 for the charger's current state, labeled by state name"), []string{"state"}),
		socPercent:   promauto.NewGauge(opts("soc_percent", "Estimated battery state of charge")),
		socBand:      promauto.NewGauge(opts("soc_band", "Hysteresis-quantized SOC band (0-4)")),

		dcdcState: promauto.NewGaugeVec(opts("dcdc_state", "1 for the DC/DC loop's current control state, labeled by state name"), []string{"state"}),
		loadPGood: promauto.NewGauge(opts("load_power_good", "1 if the main load output is enabled and healthy")),
		usbPGood:  promauto.NewGauge(opts("usb_power_good", "1 if the USB auxiliary output is enabled and healthy")),

		errorFlags: promauto.NewGauge(opts("error_flags", "Current sticky error bitfield, as a raw integer")),
		dayCounter: promauto.NewGauge(opts("day_counter", "Number of day boundaries crossed since the energy counters were last reset")),

		hvPowerMin: promauto.NewGauge(opts("hv_power_min_watts", "Rolling 1-hour minimum HV power")),
		hvPowerMax: promauto.NewGauge(opts("hv_power_max_watts", "Rolling 1-hour maximum HV power")),
	}
}

var allChargerStates = []string{
	"IDLE", "BULK", "TOPPING", "TRICKLE", "EQUALIZATION",
}

var allDcdcStates = []string{
	"OFF", "RAMP", "MPPT",
	"DERATE_OUTPUT_VOLTAGE", "DERATE_OUTPUT_CURRENT", "DERATE_INDUCTOR_CURRENT",
	"DERATE_INPUT_VOLTAGE", "DERATE_INPUT_CURRENT", "DERATE_TEMPERATURE",
}

// Update sets every gauge from the controller's latest snapshot.
func (r *Recorder) Update(snap system.Snapshot) {
	r.hvVoltage.Set(snap.HVVoltage)
	r.hvCurrent.Set(snap.HVCurrent)
	r.lvVoltage.Set(snap.LVVoltage)
	r.lvCurrent.Set(snap.LVCurrent)

	for _, state := range allChargerStates {
		value := 0.0
		if state == snap.ChargerState {
			value = 1
		}
		r.chargerState.WithLabelValues(state).Set(value)
	}
	r.socPercent.Set(float64(snap.SOC))
	r.socBand.Set(float64(snap.SOCBand))

	for _, state := range allDcdcStates {
		value := 0.0
		if state == snap.DcdcState {
			value = 1
		}
		r.dcdcState.WithLabelValues(state).Set(value)
	}
	r.loadPGood.Set(boolToFloat(snap.LoadPGood))
	r.usbPGood.Set(boolToFloat(snap.USBPGood))

	r.errorFlags.Set(float64(snap.ErrorFlags))
	r.dayCounter.Set(float64(snap.DayCounter))

	r.hvPowerMin.Set(snap.HVPowerMin)
	r.hvPowerMax.Set(snap.HVPowerMax)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
