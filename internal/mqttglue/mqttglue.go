// Package mqttglue publishes the controller's telemetry snapshot over MQTT
// and accepts remote load/USB/equalization commands over a command topic.
// Grounded on the teacher's src/mqtt_worker.go (connection lifecycle,
// subscribe-on-connect) and src/mqtt_sender.go (publish helper, queue while
// disconnected), simplified: one telemetry topic instead of per-entity
// Home Assistant discovery, since this domain has one controller instance
// rather than a fleet of battery sensors.
package mqttglue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/system"
)

// TelemetryTopic is the topic the latest Snapshot is published to, retained,
// once per housekeeping tick.
const TelemetryTopic = "powerctl/telemetry"

// CommandTopic is the topic remote command payloads are received on.
const CommandTopic = "powerctl/command"

// Command is the JSON payload accepted on CommandTopic. A field is only
// applied if present; omitted fields leave the corresponding state alone.
type Command struct {
	LoadEnable          *bool `json:"load_enable,omitempty"`
	USBEnable           *bool `json:"usb_enable,omitempty"`
	RequestEqualization bool  `json:"request_equalization,omitempty"`
}

// Glue owns the MQTT client and the System it reads/drives.
type Glue struct {
	client mqtt.Client
	sys    *system.System
	log    *logrus.Entry

	messageQueue [][]byte
}

// Config is the connection configuration, mirroring the teacher's own
// mqttWorker parameters.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// New connects to the broker, subscribes to CommandTopic, and returns a Glue
// ready to have Run called. Connection failures are returned, not fatal:
// the composition root decides whether MQTT telemetry is optional.
func New(cfg Config, sys *system.System, log *logrus.Entry) (*Glue, error) {
	g := &Glue{sys: sys, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		g.log.WithError(err).Warn("mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		g.log.Info("mqtt connected")
		if token := client.Subscribe(CommandTopic, 1, g.onCommand); token.Wait() && token.Error() != nil {
			g.log.WithError(token.Error()).Error("mqtt subscribe failed")
		}
		g.flushQueue()
	})

	g.client = mqtt.NewClient(opts)
	if token := g.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttglue: connecting to %s: %w", cfg.BrokerURL, token.Error())
	}
	return g, nil
}

// onCommand handles an inbound CommandTopic message, tagging the log entry
// with a correlation ID for the resulting state change.
func (g *Glue) onCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		g.log.WithError(err).Warn("mqttglue: malformed command payload")
		return
	}
	g.applyCommand(cmd)
}

// applyCommand applies cmd to sys, tagging the log entry with a fresh
// correlation ID so each remote command can be traced through the logs.
func (g *Glue) applyCommand(cmd Command) {
	log := g.log.WithField("correlation_id", uuid.NewString())

	if cmd.LoadEnable != nil {
		g.sys.SetLoadEnable(*cmd.LoadEnable)
		log.WithField("load_enable", *cmd.LoadEnable).Info("applied remote command")
	}
	if cmd.USBEnable != nil {
		g.sys.SetUSBEnable(*cmd.USBEnable)
		log.WithField("usb_enable", *cmd.USBEnable).Info("applied remote command")
	}
	if cmd.RequestEqualization {
		g.sys.RequestEqualization()
		log.Info("applied remote equalization request")
	}
}

// Publish marshals snap and sends it to TelemetryTopic, queuing it if the
// client is momentarily disconnected (mirroring mqttSenderWorker's queue).
func (g *Glue) Publish(snap system.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		g.log.WithError(err).Error("mqttglue: encoding telemetry snapshot")
		return
	}

	if g.client.IsConnected() {
		token := g.client.Publish(TelemetryTopic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			g.log.WithError(token.Error()).Warn("mqttglue: publish failed")
		}
		return
	}
	g.messageQueue = append(g.messageQueue, payload)
}

func (g *Glue) flushQueue() {
	queued := g.messageQueue
	g.messageQueue = nil
	for _, payload := range queued {
		token := g.client.Publish(TelemetryTopic, 0, true, payload)
		token.Wait()
		if token.Error() != nil {
			g.log.WithError(token.Error()).Warn("mqttglue: publish of queued message failed")
		}
	}
}

// Run publishes the latest snapshot every period until ctx is done.
func (g *Glue) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if g.client.IsConnected() {
				g.client.Disconnect(250)
			}
			return
		case <-ticker.C:
			g.Publish(g.sys.Snapshot())
		}
	}
}
