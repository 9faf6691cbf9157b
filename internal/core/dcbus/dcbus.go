// Package dcbus models one DC voltage domain (e.g. the low-voltage battery
// bus or the high-voltage solar bus) that one or more PowerPort views attach
// to. Grounded in original_source/src/dc_bus.h's dc_bus_t.
package dcbus

// DcBus is a single voltage domain with sink/source voltage set-points.
//
// Invariant: SrcVoltageBound <= SinkVoltageBound, and both are > 0 once
// initialized by InitSolar/InitNanogrid/InitBattery.
type DcBus struct {
	// Voltage is the last measured bus voltage.
	Voltage float64

	// SinkVoltageBound is the upper voltage the bus should be driven to
	// when acting as a sink (e.g. battery topping voltage).
	SinkVoltageBound float64
	// SinkVoltageIntercept is the open-circuit equivalent of SinkVoltageBound
	// after adding droop; the starting point before subtracting droop*current.
	SinkVoltageIntercept float64

	// SrcVoltageBound is the lower voltage below which sourcing stops.
	SrcVoltageBound float64
	// SrcVoltageIntercept is the open-circuit equivalent used for start thresholds.
	SrcVoltageIntercept float64

	// SeriesMultiplier is the number of identical batteries assumed in
	// series, used for auto 12/24V bus detection.
	SeriesMultiplier int
}

// InitBattery configures the bus as a battery terminal: its sink bound is the
// charge target, its source bound is the discharge cutoff.
func InitBattery(sinkBound, srcBound float64, seriesMultiplier int) *DcBus {
	return &DcBus{
		SinkVoltageBound:     sinkBound,
		SinkVoltageIntercept: sinkBound,
		SrcVoltageBound:      srcBound,
		SrcVoltageIntercept:  srcBound,
		SeriesMultiplier:     seriesMultiplier,
	}
}

// InitSolar configures the bus as an unregulated solar input: it only ever
// sources (no sink bound is meaningful), modeled with a very high sink bound
// so downstream droop math never mistakes it for a charge target.
func InitSolar(absoluteMaxVoltage float64) *DcBus {
	return &DcBus{
		SinkVoltageBound:     absoluteMaxVoltage,
		SinkVoltageIntercept: absoluteMaxVoltage,
		SrcVoltageBound:      0,
		SrcVoltageIntercept:  0,
		SeriesMultiplier:     1,
	}
}

// InitNanogrid configures the bus as an externally-regulated DC grid
// participant with both a sink (export) and source (import) voltage window.
func InitNanogrid(sinkBound, srcBound float64) *DcBus {
	return &DcBus{
		SinkVoltageBound:     sinkBound,
		SinkVoltageIntercept: sinkBound,
		SrcVoltageBound:      srcBound,
		SrcVoltageIntercept:  srcBound,
		SeriesMultiplier:     1,
	}
}
