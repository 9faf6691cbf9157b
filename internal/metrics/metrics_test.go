package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libresolar/powerctl/internal/system"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRecorderUpdateSetsGauges(t *testing.T) {
	r := NewRecorder()
	r.Update(system.Snapshot{
		HVVoltage:    42.5,
		LVVoltage:    13.2,
		ChargerState: "BULK",
		SOC:          61,
		SOCBand:      2,
		DcdcState:    "MPPT",
		LoadPGood:    true,
		USBPGood:     false,
		ErrorFlags:   0,
		DayCounter:   3,
	})

	assert.Equal(t, 42.5, gaugeValue(t, r.hvVoltage))
	assert.Equal(t, 13.2, gaugeValue(t, r.lvVoltage))
	assert.Equal(t, 61.0, gaugeValue(t, r.socPercent))
	assert.Equal(t, 2.0, gaugeValue(t, r.socBand))
	assert.Equal(t, 1.0, gaugeValue(t, r.loadPGood))
	assert.Equal(t, 0.0, gaugeValue(t, r.usbPGood))
	assert.Equal(t, 3.0, gaugeValue(t, r.dayCounter))

	assert.Equal(t, 1.0, gaugeValue(t, r.chargerState.WithLabelValues("BULK")))
	assert.Equal(t, 0.0, gaugeValue(t, r.chargerState.WithLabelValues("IDLE")))
	assert.Equal(t, 1.0, gaugeValue(t, r.dcdcState.WithLabelValues("MPPT")))
}
