// Package system is the composition root: it owns every core control-core
// entity plus its collaborator implementations, runs the 10 Hz control tick
// and 1 Hz housekeeping tick, and exposes Snapshot() for the outer-glue
// consumers (MQTT, websocket, metrics, debug console) to read without
// reaching into core state directly. Grounded in the teacher's main.go
// composition pattern and broadcast_worker.go's "consumers only ever touch
// a copy" discipline.
package system

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/config"
	"github.com/libresolar/powerctl/internal/core/batteryconfig"
	"github.com/libresolar/powerctl/internal/core/charger"
	"github.com/libresolar/powerctl/internal/core/dcbus"
	"github.com/libresolar/powerctl/internal/core/dcdc"
	"github.com/libresolar/powerctl/internal/core/devicestatus"
	"github.com/libresolar/powerctl/internal/core/halfbridge"
	"github.com/libresolar/powerctl/internal/core/loadoutput"
	"github.com/libresolar/powerctl/internal/core/powerport"
	"github.com/libresolar/powerctl/internal/daq"
	"github.com/libresolar/powerctl/internal/governor"
	"github.com/libresolar/powerctl/internal/gpio"
	"github.com/libresolar/powerctl/internal/persistence"
)

// dcdcInductorCurrentMax and dcdcRestartInterval are hardware/firmware
// constants not worth exposing in config.toml: the inductor current rating
// is fixed by the PCB, and the restart cooldown matches the original
// firmware's DCDC_RESTART_DELAY.
const (
	dcdcInductorCurrentMax = 25.0
	dcdcRestartInterval    = 60 * time.Second

	// loadCurrentMax and loadOvervoltageMargin are the load switch's own
	// hardware ratings, independent of the battery's charge current limit.
	loadCurrentMax        = 20.0
	loadOvervoltageMargin = 0.5

	// socBandSteps/thresholds quantize SOC into a dashboard-friendly battery
	// band (0..4) with a 5-point hysteresis gap between bands.
	socBandSteps         = 4
	socBandIncreaseStart = 25.0
	socBandIncreaseEnd   = 100.0
	socBandDecreaseStart = 20.0
	socBandDecreaseEnd   = 95.0
)

// Snapshot is the read-only view every outer-glue consumer polls or
// receives, never a pointer into live core state.
type Snapshot struct {
	Timestamp time.Time

	HVVoltage, HVCurrent float64
	LVVoltage, LVCurrent float64

	ChargerState   string
	TargetVoltage  float64
	TargetCurrent  float64
	SOC            int

	DcdcMode  string
	DcdcState string

	LoadState    string
	LoadPGood    bool
	USBState     string
	USBPGood     bool

	ErrorFlags uint32
	DayCounter int

	HVPowerMin, HVPowerMax float64
	SOCBand                int
}

// System owns every core entity for one controller instance.
type System struct {
	clock clock.Clock
	log   *logrus.Entry

	cfg batteryconfig.Config

	hvBus, lvBus *dcbus.DcBus
	hv, lv       *powerport.PowerPort
	load         *powerport.PowerPort

	hb       *halfbridge.HalfBridge
	dcdcLoop *dcdc.Dcdc
	chg      *charger.Charger
	loadOut  *loadoutput.LoadOutput
	stat     *devicestatus.DeviceStatus

	source daq.Source
	store  persistence.Store

	loadEnablePin, usbEnablePin gpio.Pin

	hvPowerMinMax governor.RollingMinMax
	socBand       *governor.SteppedHysteresis

	persistInterval time.Duration
	lastPersist     time.Time

	snapshot atomic.Pointer[Snapshot]

	mu sync.Mutex // serializes Control/Housekeeping against external Enable/SOC writes
}

// New builds a System from an electrical config, a measurement source, a
// persistence store and two GPIO pins (main load + USB). clk drives every
// time-gated transition; log is attached to state-transition boundaries
// only, never the hot per-sample path (spec §10).
func New(clk clock.Clock, log *logrus.Entry, elec config.Electrical, bc batteryconfig.Config, source daq.Source, store persistence.Store, loadEnablePin, usbEnablePin gpio.Pin) *System {
	lvBus := dcbus.InitBattery(elec.LVBus.SinkVoltageBound, elec.LVBus.SrcVoltageBound, 1)
	hvBus := dcbus.InitSolar(elec.HVBus.SinkVoltageBound)

	lv := powerport.New(lvBus)
	hv := powerport.New(hvBus)
	load := powerport.New(lvBus)

	hb := halfbridge.New(elec.HalfBridge.FreqKHz, elec.HalfBridge.DeadTimeNs, elec.HalfBridge.MinDuty, elec.HalfBridge.MaxDuty)

	s := &System{
		clock:           clk,
		log:             log,
		cfg:             bc,
		hvBus:           hvBus,
		lvBus:           lvBus,
		hv:              hv,
		lv:              lv,
		load:            load,
		hb:              hb,
		dcdcLoop:        dcdc.New(clk, hb, elec.LVBus.SrcVoltageBound, elec.LVBus.SinkVoltageBound, elec.HVBus.SinkVoltageBound, dcdcInductorCurrentMax, dcdcRestartInterval),
		chg:             charger.New(clk),
		loadOut:         loadoutput.New(clk, load, loadCurrentMax, lvBus.SinkVoltageBound+loadOvervoltageMargin),
		stat:            &devicestatus.DeviceStatus{},
		source:          source,
		store:           store,
		loadEnablePin:   loadEnablePin,
		usbEnablePin:    usbEnablePin,
		hvPowerMinMax:   governor.NewRollingMinMax(),
		socBand: governor.NewSteppedHysteresis(
			socBandSteps, true,
			socBandIncreaseStart, socBandIncreaseEnd,
			socBandDecreaseStart, socBandDecreaseEnd,
		),
		persistInterval: elec.Ticks.PersistInterval(),
	}
	s.snapshot.Store(&Snapshot{})
	return s
}

// ControlTick runs one 10 Hz control-tick iteration: sample measurements,
// feed them into the ports, run the DC/DC loop and the load-output fault
// state machine, then publish a fresh Snapshot. Must never block (spec §5): the only I/O is the
// measurement source, which SimulatedSource guarantees is non-blocking.
func (s *System) ControlTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.source.Sample()

	s.hv.Bus.Voltage = m.HVVoltage
	s.hv.Current = m.HVCurrent
	s.hv.Power = m.HVPower
	s.lv.Bus.Voltage = m.LVVoltage
	s.lv.Current = m.LVCurrent
	s.lv.Power = m.LVPower
	s.load.Current = m.LoadCurrent
	s.load.Power = m.LoadPower
	s.dcdcLoop.InductorCurrent = m.InductorCurrent
	s.dcdcLoop.TempMosfets = m.MosfetTemp

	s.hv.UpdateBusCurrentMargins()
	s.lv.UpdateBusCurrentMargins()
	s.load.UpdateBusCurrentMargins()

	prevDcdcState := s.dcdcLoop.State
	s.dcdcLoop.Control(s.cfg, s.hv, s.lv)
	if s.dcdcLoop.State != prevDcdcState {
		s.log.WithFields(logrus.Fields{"dcdc.mode": s.dcdcLoop.Mode, "dcdc.state": s.dcdcLoop.State}).Info("dcdc state changed")
	}

	prevLoadState := s.loadOut.State
	s.loadOut.Control(s.stat)
	if s.loadOut.State != prevLoadState {
		s.log.WithFields(logrus.Fields{"load.state": s.loadOut.State}).Info("load state changed")
	}

	s.loadEnablePin.Set(s.loadOut.PGood)
	s.usbEnablePin.Set(s.loadOut.USBPGood)

	s.publishSnapshot()
}

// HousekeepingTick runs one 1 Hz housekeeping iteration: charger state
// machine, SOC estimation, discharge gating, min/max latching, energy
// accounting, and the periodic persistence write-through.
func (s *System) HousekeepingTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lv.Bus.Voltage <= s.cfg.AsScalar().VoltageAbsoluteMin {
		s.stat.SetError(devicestatus.ErrBatUndervoltage)
	} else {
		s.stat.ClearError(devicestatus.ErrBatUndervoltage)
	}

	prevChargerState := s.chg.State
	s.chg.UpdateSOC(s.cfg, s.lv)
	s.chg.ChargeControl(s.cfg, s.lv)
	s.chg.DischargeControl(s.cfg, s.lv, s.stat.HasError(devicestatus.ErrBatUndervoltage))
	if s.chg.State != prevChargerState {
		s.log.WithFields(logrus.Fields{"charger.state": s.chg.State}).Info("charger state changed")
	}

	s.stat.UpdateMinMaxValues(s.hv, s.lv, s.dcdcLoop.InductorCurrent, s.load.Current, s.dcdcLoop.TempMosfets, s.chg.BatTemperature, 0)
	s.stat.UpdateLoadPowerMax(s.load)
	s.stat.UpdateEnergy(s.hv, s.lv, s.load)

	s.hv.EnergyBalance()
	s.lv.EnergyBalance()
	s.load.EnergyBalance()

	now := s.clock.Now()
	s.hvPowerMinMax.Update(s.hv.Power, now)
	s.socBand.Update(float64(s.chg.SOC))

	s.publishSnapshot()

	if s.persistInterval > 0 && now.Sub(s.lastPersist) >= s.persistInterval {
		if err := s.persist(); err != nil {
			s.log.WithError(err).Warn("persistence write-through failed")
		}
		s.lastPersist = now
	}
}

func (s *System) publishSnapshot() {
	snap := &Snapshot{
		Timestamp:     s.clock.Now(),
		HVVoltage:     s.hv.Bus.Voltage,
		HVCurrent:     s.hv.Current,
		LVVoltage:     s.lv.Bus.Voltage,
		LVCurrent:     s.lv.Current,
		ChargerState:  s.chg.State.String(),
		TargetVoltage: s.chg.TargetVoltage,
		TargetCurrent: s.chg.TargetCurrent,
		SOC:           s.chg.SOC,
		DcdcMode:      s.dcdcLoop.Mode.String(),
		DcdcState:     s.dcdcLoop.State.String(),
		LoadState:     s.loadOut.State.String(),
		LoadPGood:     s.loadOut.PGood,
		USBState:      s.loadOut.USBState.String(),
		USBPGood:      s.loadOut.USBPGood,
		ErrorFlags:    s.stat.ErrorFlags.Load(),
		DayCounter:    s.stat.DayCounter,
		HVPowerMin:    s.hvPowerMinMax.Min(),
		HVPowerMax:    s.hvPowerMinMax.Max(),
		SOCBand:       s.socBand.Current,
	}
	s.snapshot.Store(snap)
}

// Snapshot returns the most recently published read-only state copy.
func (s *System) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// SetLoadEnable toggles the main load output's Enable flag from outside the
// control tick (an MQTT command, a debug-console override).
func (s *System) SetLoadEnable(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadOut.Enable = enable
}

// SetUSBEnable toggles the USB auxiliary output's Enable flag.
func (s *System) SetUSBEnable(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadOut.USBEnable = enable
}

// RequestEqualization backdates TimeLastEqualization so the day-based
// equalization trigger is due; the charger acts on it the next time it
// leaves TOPPING, and only if equalization is enabled in the battery config.
func (s *System) RequestEqualization() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chg.TimeLastEqualization = time.Time{}
}

func (s *System) persist() error {
	snap := config.Snapshot{
		SOC:            s.chg.SOC,
		SOH:            s.chg.SOH,
		NumFullCharges: s.chg.NumFullCharges,
		DayCounter:     s.stat.DayCounter,
		SolarInTotalWh: s.stat.SolarInTotalWh,
		BatDisTotalWh:  s.stat.BatDisTotalWh,
		BatChgTotalWh:  s.stat.BatChgTotalWh,
		LoadOutTotalWh: s.stat.LoadOutTotalWh,
	}
	payload, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("system: encoding persisted snapshot: %w", err)
	}
	return s.store.Write(payload)
}

// Persist forces an out-of-band persistence write-through, independent of
// the housekeeping tick's own persistInterval gating. Exposed for the
// cron-scheduled maintenance worker (spec §6.1), which runs this from the
// main/idle context rather than the housekeeping goroutine itself.
func (s *System) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// Restore reads the persisted snapshot (if any) and seeds the counters it
// covers; called once at startup before the ticks begin.
func (s *System) Restore() error {
	payload, err := s.store.Read()
	if err != nil {
		return fmt.Errorf("system: reading persisted snapshot: %w", err)
	}
	var snap config.Snapshot
	if err := snap.Decode(payload); err != nil {
		return fmt.Errorf("system: decoding persisted snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chg.SOC = snap.SOC
	s.chg.SOH = snap.SOH
	s.chg.NumFullCharges = snap.NumFullCharges
	s.stat.DayCounter = snap.DayCounter
	s.stat.SolarInTotalWh = snap.SolarInTotalWh
	s.stat.BatDisTotalWh = snap.BatDisTotalWh
	s.stat.BatChgTotalWh = snap.BatChgTotalWh
	s.stat.LoadOutTotalWh = snap.LoadOutTotalWh
	return nil
}

// Run drives the control and housekeeping ticks off ctx's lifetime, using
// plain time.Tickers: the production clock is always the real wall clock,
// so there is no need to route tick scheduling through clock.Clock itself
// (only the *gating logic* inside each tick needs to be fake-clock driven
// for tests, per spec §5/§10).
func (s *System) Run(ctx context.Context, controlPeriod, housekeepingPeriod time.Duration) {
	controlTicker := time.NewTicker(controlPeriod)
	defer controlTicker.Stop()
	housekeepingTicker := time.NewTicker(housekeepingPeriod)
	defer housekeepingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-controlTicker.C:
			s.ControlTick()
		case <-housekeepingTicker.C:
			s.HousekeepingTick()
		}
	}
}
