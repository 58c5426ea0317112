package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testTime() time.Time {
	return time.Date(2026, 8, 12, 14, 30, 0, 0, time.UTC)
}

func TestConfig_DefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfig_LoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
telemetry:
  broker_url: tcp://broker.local:1883
actuator:
  driver: none
engine:
  tick_hz: 20
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}

	if cfg.Telemetry.BrokerURL != "tcp://broker.local:1883" {
		t.Fatalf("broker not loaded: %q", cfg.Telemetry.BrokerURL)
	}
	if cfg.Actuator.Driver != "none" {
		t.Fatalf("driver not loaded: %q", cfg.Actuator.Driver)
	}
	if cfg.Engine.TickHz != 20 {
		t.Fatalf("tick_hz not loaded: %d", cfg.Engine.TickHz)
	}
	// Untouched sections keep their defaults.
	if cfg.IPC.SocketPath != "/tmp/chuted.sock" {
		t.Fatalf("defaults lost for untouched sections: %q", cfg.IPC.SocketPath)
	}
}

func TestConfig_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("telemetry:\n  borker_url: x\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected a typo'd field to be rejected")
	}
}

func TestConfig_FlagOverridesApply(t *testing.T) {
	cfg := DefaultConfig()

	broker := "tcp://10.0.0.5:1883"
	driver := "none"
	enabled := true
	o := FlagOverrides{
		BrokerURL:      &broker,
		ActuatorDriver: &driver,
		SwitchEnabled:  &enabled,
	}
	o.Apply(&cfg)

	if cfg.Telemetry.BrokerURL != broker {
		t.Fatalf("broker override not applied: %q", cfg.Telemetry.BrokerURL)
	}
	if cfg.Actuator.Driver != "none" {
		t.Fatalf("driver override not applied: %q", cfg.Actuator.Driver)
	}
	if !cfg.Switch.Enabled {
		t.Fatal("switch override not applied")
	}
}

func TestConfig_ValidateCatches(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad driver", func(c *Config) { c.Actuator.Driver = "gpiozero" }, "actuator.driver"},
		{"too many relays", func(c *Config) { c.Actuator.RelayPins = []int{1, 2, 3, 4, 5} }, "relay_pins"},
		{"bad tick", func(c *Config) { c.Engine.TickHz = 0 }, "tick_hz"},
		{"switch without device", func(c *Config) { c.Switch.Enabled = true; c.Switch.Device = "" }, "switch.device"},
		{"empty broker", func(c *Config) { c.Telemetry.BrokerURL = "" }, "broker_url"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestUnmarshalEvent_AcceptsOperatorEventsOnly(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"manual_release","data":{"origin":"gcs"}}`))
	if err != nil {
		t.Fatalf("manual_release: %v", err)
	}
	if mr, ok := ev.(ManualReleaseRequested); !ok || mr.Origin != "gcs" {
		t.Fatalf("wrong event: %#v", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"manual_release"}`))
	if err != nil {
		t.Fatalf("bare manual_release: %v", err)
	}
	if mr, ok := ev.(ManualReleaseRequested); !ok || mr.Origin != "ipc" {
		t.Fatalf("expected default ipc origin: %#v", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"param_set","data":{"name":"CHUTE_ENABLED","value":1}}`))
	if err != nil {
		t.Fatalf("param_set: %v", err)
	}
	if ps, ok := ev.(ParamSetRequested); !ok || ps.Name != "CHUTE_ENABLED" || ps.Value != 1 {
		t.Fatalf("wrong event: %#v", ev)
	}

	if _, err := UnmarshalEvent([]byte(`{"type":"param_set","data":{"value":1}}`)); err == nil {
		t.Fatal("param_set without a name must fail")
	}
	if _, err := UnmarshalEvent([]byte(`{"type":"tick"}`)); err == nil {
		t.Fatal("internal events must not be injectable")
	}
	if _, err := UnmarshalEvent([]byte(`not json`)); err == nil {
		t.Fatal("garbage must fail")
	}
}

func TestDecodeVehicleFrame(t *testing.T) {
	frame := []byte(`{"mode":"AUTO","is_flying":true,"takeoff_complete":true,"roll_cd":-1200,"pitch_cd":300,"roll_limit_cd":4500,"pitch_limit_min_cd":-2000,"sink_rate_ms":2.5,"relative_alt_m":42.5,"extra_field":"ignored"}`)

	v, err := decodeVehicleFrame(frame, testTime())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Mode != "AUTO" || !v.IsFlying || v.RollCD != -1200 || v.RelativeAltM != 42.5 {
		t.Fatalf("fields wrong: %+v", v)
	}
	if v.At != testTime() {
		t.Fatal("receive time not stamped")
	}

	if _, err := decodeVehicleFrame([]byte(`{"is_flying":true}`), testTime()); err == nil {
		t.Fatal("frame without mode must fail")
	}
	if _, err := decodeVehicleFrame([]byte(`[]`), testTime()); err == nil {
		t.Fatal("non-object frame must fail")
	}
}
