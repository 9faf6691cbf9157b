package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/clock"
	"github.com/libresolar/powerctl/internal/config"
	"github.com/libresolar/powerctl/internal/daq"
	"github.com/libresolar/powerctl/internal/debugconsole"
	"github.com/libresolar/powerctl/internal/gpio"
	"github.com/libresolar/powerctl/internal/maintenance"
	"github.com/libresolar/powerctl/internal/metrics"
	"github.com/libresolar/powerctl/internal/mqttglue"
	"github.com/libresolar/powerctl/internal/persistence"
	"github.com/libresolar/powerctl/internal/system"
	"github.com/libresolar/powerctl/internal/wsfeed"
)

// SafeGo launches fn in its own goroutine, restarting it with exponential
// backoff on panic, and gives up and cancels ctx after too many retries in
// too short a time. Ported from the teacher's own main.go SafeGo helper,
// unchanged in algorithm.
func SafeGo(ctx context.Context, cancel context.CancelFunc, name string, log *logrus.Entry, fn func(ctx context.Context)) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			start := time.Now()
			var panicValue any

			func() {
				defer func() { panicValue = recover() }()
				fn(ctx)
			}()

			if panicValue == nil {
				return
			}

			if time.Since(start) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.WithFields(logrus.Fields{"worker": name, "attempt": retries, "max": maxRetries, "panic": panicValue}).Error("worker panicked")

			if retries >= maxRetries {
				log.WithField("worker", name).Error("worker exhausted retries, shutting down")
				cancel()
				return
			}

			log.WithFields(logrus.Fields{"worker": name, "delay": delay}).Warn("worker will retry")
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the electrical configuration TOML file")
	statePath := flag.String("state", "powerctl.state", "path to the persisted device-state file")
	debugMode := flag.Bool("debug", false, "launch the interactive debug console instead of running headless")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())
	log.Info("starting powerctl")

	secrets, err := config.LoadSecrets()
	if err != nil {
		log.WithError(err).Fatal("loading secrets")
	}

	elec, err := config.LoadElectrical(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading electrical configuration")
	}
	bc, err := elec.Battery.BatteryConfig()
	if err != nil {
		log.WithError(err).Fatal("decoding battery configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.System{}
	source := daq.NewSimulatedSource(clk, elec.Simulation.SolarProfile())
	store := persistence.NewFileStore(*statePath)

	sys := system.New(clk, log, elec, bc, source, store, gpio.NewMemory(), gpio.NewMemory())
	if err := sys.Restore(); err != nil {
		log.WithError(err).Warn("no usable persisted state, starting from zero")
	}

	SafeGo(ctx, cancel, "control-loop", log, func(ctx context.Context) {
		sys.Run(ctx, elec.Ticks.ControlTick(), elec.Ticks.HousekeepingTick())
	})

	if secrets.MQTTBrokerURL != "" {
		glue, err := mqttglue.New(mqttglue.Config{
			BrokerURL: secrets.MQTTBrokerURL,
			ClientID:  secrets.MQTTClientID,
			Username:  secrets.MQTTUsername,
			Password:  secrets.MQTTPassword,
		}, sys, log)
		if err != nil {
			log.WithError(err).Error("mqtt telemetry disabled: connection failed")
		} else {
			SafeGo(ctx, cancel, "mqtt-glue", log, func(ctx context.Context) {
				glue.Run(ctx, elec.Ticks.HousekeepingTick())
			})
		}
	} else {
		log.Info("MQTT_BROKER_URL not set, mqtt telemetry disabled")
	}

	recorder := metrics.NewRecorder()
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: secrets.MetricsAddr, Handler: metricsMux}
	SafeGo(ctx, cancel, "metrics-server", log, func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			_ = metricsServer.Close()
		}()
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("metrics server: %v", err))
		}
	})
	SafeGo(ctx, cancel, "metrics-recorder", log, func(ctx context.Context) {
		ticker := time.NewTicker(elec.Ticks.HousekeepingTick())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				recorder.Update(sys.Snapshot())
			}
		}
	})

	hub := wsfeed.NewHub(log)
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", wsfeed.NewHandler(hub, sys))
	wsServer := &http.Server{Addr: secrets.WebsocketAddr, Handler: wsMux}
	SafeGo(ctx, cancel, "websocket-server", log, func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			_ = wsServer.Close()
		}()
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(fmt.Sprintf("websocket server: %v", err))
		}
	})
	SafeGo(ctx, cancel, "websocket-feed", log, func(ctx context.Context) {
		wsfeed.Run(ctx, hub, sys, elec.Ticks.HousekeepingTick())
	})

	sched := maintenance.New(log)
	if err := sched.AddPersistJob("0 */6 * * *", sys); err != nil {
		log.WithError(err).Error("scheduling persistence write-through")
	}
	if err := sched.AddLogRotateJob("0 0 * * *", "powerctl.log"); err != nil {
		log.WithError(err).Error("scheduling log rotation")
	}
	sched.Start()
	defer sched.Stop()

	if *debugMode {
		console, err := debugconsole.New(sys, log)
		if err != nil {
			log.WithError(err).Fatal("starting debug console")
		}
		SafeGo(ctx, cancel, "debug-console", log, func(ctx context.Context) {
			console.Run(ctx, cancel, elec.Ticks.HousekeepingTick())
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case <-ctx.Done():
		log.Error("shutting down due to worker failure")
	}
	cancel()

	if err := sys.Persist(); err != nil {
		log.WithError(err).Error("final persistence write-through failed")
	}
}
