package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the chuted daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and systemd drop-ins. Keep defaults and validation
// centralized so the rest of the code can assume a well-formed config.
//
// Release parameters (CHUTE_*) are NOT configured here: they live in the
// parameter store file and are changed at runtime through param_set, the
// same way the autopilot's own parameters work.
type Config struct {
	// Telemetry link to the autopilot bridge
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Release actuator hardware
	Actuator ActuatorConfig `yaml:"actuator"`

	// Physical deploy switch
	Switch SwitchConfig `yaml:"switch"`

	// IPC configuration (chute-ctl and scripts)
	IPC IPCConfig `yaml:"ipc"`

	// Ground-station state WebSocket
	StateWS StateWSConfig `yaml:"state_ws"`

	// Engine loop
	Engine EngineConfig `yaml:"engine"`

	// Parameter store persistence
	Params ParamsConfig `yaml:"params"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type TelemetryConfig struct {
	BrokerURL    string `yaml:"broker_url"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	VehicleTopic string `yaml:"vehicle_topic"`
	TextTopic    string `yaml:"text_topic"`
}

type ActuatorConfig struct {
	// Driver selects the hardware backend: "rpio" or "none".
	Driver string `yaml:"driver"`

	// RelayPins maps relay index -> BCM pin number.
	RelayPins []int `yaml:"relay_pins,omitempty"`

	// ServoPin is the BCM pin for the hardware PWM servo output; -1 disables.
	ServoPin int `yaml:"servo_pin"`

	// LEDPin drives the release indicator; -1 disables.
	LEDPin int `yaml:"led_pin"`
}

type SwitchConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device,omitempty"`
	KeyCode uint16 `yaml:"key_code,omitempty"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StateWSConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	Path         string `yaml:"path"`
	SendBuf      int    `yaml:"send_buf,omitempty"`
	BroadcastBuf int    `yaml:"broadcast_buf,omitempty"`
}

type EngineConfig struct {
	TickHz int `yaml:"tick_hz"`
}

type ParamsConfig struct {
	File string `yaml:"file"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Telemetry: TelemetryConfig{
			BrokerURL:    "tcp://127.0.0.1:1883",
			VehicleTopic: "vehicle/state",
			TextTopic:    "gcs/statustext",
		},
		Actuator: ActuatorConfig{
			Driver:    "rpio",
			RelayPins: []int{17, 27, 22, 23},
			ServoPin:  18,
			LEDPin:    24,
		},
		Switch: SwitchConfig{
			Enabled: false,
			Device:  "/dev/input/event0",
			KeyCode: 256, // BTN_0
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/chuted.sock",
		},
		StateWS: StateWSConfig{
			ListenAddr: "127.0.0.1:3702",
			Path:       "/ws/state",
		},
		Engine: EngineConfig{
			TickHz: defaultTickHz,
		},
		Params: ParamsConfig{
			File: "/var/lib/chuted/params.yaml",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags pass pointers; each override is only applied if the pointer is
// non-nil, so a zero value can still be set explicitly.
type FlagOverrides struct {
	BrokerURL    *string
	VehicleTopic *string
	TextTopic    *string

	ActuatorDriver *string

	SwitchEnabled *bool
	SwitchDevice  *string

	IPCSocketPath *string
	WSListenAddr  *string

	TickHz     *int
	ParamsFile *string

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.BrokerURL != nil {
		cfg.Telemetry.BrokerURL = *o.BrokerURL
	}
	if o.VehicleTopic != nil {
		cfg.Telemetry.VehicleTopic = *o.VehicleTopic
	}
	if o.TextTopic != nil {
		cfg.Telemetry.TextTopic = *o.TextTopic
	}

	if o.ActuatorDriver != nil {
		cfg.Actuator.Driver = *o.ActuatorDriver
	}

	if o.SwitchEnabled != nil {
		cfg.Switch.Enabled = *o.SwitchEnabled
	}
	if o.SwitchDevice != nil {
		cfg.Switch.Device = *o.SwitchDevice
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.WSListenAddr != nil {
		cfg.StateWS.ListenAddr = *o.WSListenAddr
	}

	if o.TickHz != nil {
		cfg.Engine.TickHz = *o.TickHz
	}
	if o.ParamsFile != nil {
		cfg.Params.File = *o.ParamsFile
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Telemetry
	if c.Telemetry.BrokerURL == "" {
		return errors.New("telemetry.broker_url must not be empty")
	}
	if c.Telemetry.VehicleTopic == "" {
		return errors.New("telemetry.vehicle_topic must not be empty")
	}
	if c.Telemetry.TextTopic == "" {
		return errors.New("telemetry.text_topic must not be empty")
	}

	// Actuator
	switch c.Actuator.Driver {
	case "rpio", "none":
	default:
		return fmt.Errorf("actuator.driver must be \"rpio\" or \"none\", got %q", c.Actuator.Driver)
	}
	if len(c.Actuator.RelayPins) > 4 {
		return errors.New("actuator.relay_pins supports at most 4 relays")
	}
	for i, pin := range c.Actuator.RelayPins {
		if pin < 0 {
			return fmt.Errorf("actuator.relay_pins[%d] must be >= 0", i)
		}
	}

	// Switch
	if c.Switch.Enabled {
		if c.Switch.Device == "" {
			return errors.New("switch.enabled is true but switch.device is empty")
		}
		if c.Switch.KeyCode == 0 {
			return errors.New("switch.enabled is true but switch.key_code is zero")
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// State WS
	if c.StateWS.ListenAddr == "" {
		return errors.New("state_ws.listen_addr must not be empty")
	}
	if c.StateWS.Path == "" {
		return errors.New("state_ws.path must not be empty")
	}

	// Engine
	if c.Engine.TickHz <= 0 || c.Engine.TickHz > 100 {
		return errors.New("engine.tick_hz must be between 1 and 100")
	}

	// Params
	if c.Params.File == "" {
		return errors.New("params.file must not be empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
