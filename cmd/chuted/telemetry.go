package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TelemetryLink bridges the MQTT broker and the daemon. Incoming vehicle
// frames become VehicleObserved events; outgoing status text is published
// fire-and-forget on the text topic.
type TelemetryLink struct {
	cfg    TelemetryConfig
	client mqtt.Client
	events chan<- Event
	logger *slog.Logger
}

// gcsText is the wire form of a status message published for the ground
// station bridge.
type gcsText struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

func NewTelemetryLink(cfg TelemetryConfig, events chan<- Event, logger *slog.Logger) *TelemetryLink {
	return &TelemetryLink{
		cfg:    cfg,
		events: events,
		logger: logger,
	}
}

func (t *TelemetryLink) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL)

	hostname, _ := os.Hostname()
	opts.SetClientID(fmt.Sprintf("chuted-%s-%d", hostname, os.Getpid()))

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = t.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		t.logger.Warn("telemetry broker connection lost", "error", err)
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		t.logger.Info("telemetry broker reconnecting")
	}

	t.client = mqtt.NewClient(opts)

	t.logger.Info("connecting to telemetry broker", "broker", t.cfg.BrokerURL)
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("telemetry broker connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry broker connect: %w", err)
	}
	return nil
}

func (t *TelemetryLink) Stop() {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(500)
	}
}

func (t *TelemetryLink) onConnect(client mqtt.Client) {
	t.logger.Info("telemetry broker connected")

	token := client.Subscribe(t.cfg.VehicleTopic, 0, t.onVehicleFrame)
	if !token.WaitTimeout(5 * time.Second) {
		t.logger.Error("vehicle topic subscribe timeout", "topic", t.cfg.VehicleTopic)
		return
	}
	if err := token.Error(); err != nil {
		t.logger.Error("vehicle topic subscribe failed", "topic", t.cfg.VehicleTopic, "error", err)
		return
	}
	t.logger.Info("subscribed to vehicle telemetry", "topic", t.cfg.VehicleTopic)
}

func (t *TelemetryLink) onVehicleFrame(_ mqtt.Client, msg mqtt.Message) {
	v, err := decodeVehicleFrame(msg.Payload(), time.Now())
	if err != nil {
		t.logger.Debug("dropping malformed vehicle frame", "error", err)
		return
	}

	// Never block the paho callback goroutine. A full queue means the
	// daemon is behind; the next frame supersedes this one anyway.
	select {
	case t.events <- VehicleObserved{Vehicle: v}:
	default:
		t.logger.Warn("event queue full, dropping vehicle frame")
	}
}

// SendText publishes a status message without waiting for broker delivery.
func (t *TelemetryLink) SendText(severity Severity, text string) error {
	if t.client == nil || !t.client.IsConnected() {
		return fmt.Errorf("telemetry broker not connected")
	}

	payload, err := json.Marshal(gcsText{
		Severity: string(severity),
		Text:     text,
		TS:       time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding status text: %w", err)
	}

	t.client.Publish(t.cfg.TextTopic, 0, false, payload)
	return nil
}
