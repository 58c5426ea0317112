package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer and to the daemon loop
// ============================================================================
// Events represent intent and observations from every source: the 10 Hz
// ticker, the telemetry link, the physical deploy switch, IPC clients and
// the ground station. The daemon loop consumes them; the reducer applies
// policy.
// ============================================================================

// Event is the marker interface for all daemon inputs.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at the engine update rate. NowMS is
// the daemon's monotonic millisecond clock (uint32, wraps ~49 days); Now is
// wall time for broadcast timestamps only - engine decisions never use it.
type Tick struct {
	Now   time.Time
	NowMS uint32
}

func (Tick) eventMarker() {}

// VehicleObserved carries a decoded telemetry frame.
type VehicleObserved struct {
	Vehicle VehicleState
}

func (VehicleObserved) eventMarker() {}

// ManualReleaseRequested is the operator release command. Origin records
// where it came from ("switch", "ipc", "gcs") for the log.
type ManualReleaseRequested struct {
	Origin string `json:"origin,omitempty"`

	// Reply, when non-nil, receives the release outcome. Not serializable;
	// IPC attaches it server-side.
	Reply chan ManualReleaseResult `json:"-"`
}

func (ManualReleaseRequested) eventMarker() {}

// ParamSetRequested stages a parameter write. Handled by the daemon loop
// against the parameter store; takes effect at the next tick boundary.
type ParamSetRequested struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`

	// Reply, when non-nil, receives the applied (clamped) value.
	// Not serializable; IPC attaches it server-side.
	Reply chan ParamReply `json:"-"`
}

func (ParamSetRequested) eventMarker() {}

// ParamGetRequested reads a committed parameter value.
type ParamGetRequested struct {
	Name  string          `json:"name"`
	Reply chan ParamReply `json:"-"`
}

func (ParamGetRequested) eventMarker() {}

// ParamReply is the daemon's answer to a parameter request.
type ParamReply struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	OK    bool    `json:"ok"`
	Err   string  `json:"err,omitempty"`
}

// RequestStateSnapshot asks the reducer for a coherent engine snapshot.
// Used for the WS state_init message and the IPC status command.
type RequestStateSnapshot struct {
	Reply chan EngineSnapshot `json:"-"`
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON envelope for IPC
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON
// marshaling over the IPC socket.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent parses a line-delimited JSON event from an IPC client.
// Only operator-facing events are accepted; ticks and telemetry frames
// cannot be injected from outside.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	switch env.Type {
	case "manual_release":
		var e ManualReleaseRequested
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &e); err != nil {
				return nil, fmt.Errorf("parse manual_release: %w", err)
			}
		}
		if e.Origin == "" {
			e.Origin = "ipc"
		}
		return e, nil

	case "param_set":
		var e ParamSetRequested
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("parse param_set: %w", err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("param_set: missing name")
		}
		return e, nil

	case "param_get":
		var e ParamGetRequested
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("parse param_get: %w", err)
		}
		if e.Name == "" {
			return nil, fmt.Errorf("param_get: missing name")
		}
		return e, nil

	case "status":
		return RequestStateSnapshot{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an event for transmission to the daemon.
func MarshalEvent(ev Event) ([]byte, error) {
	var (
		typ  string
		data any
	)

	switch e := ev.(type) {
	case ManualReleaseRequested:
		typ, data = "manual_release", e
	case ParamSetRequested:
		typ, data = "param_set", e
	case ParamGetRequested:
		typ, data = "param_get", e
	case RequestStateSnapshot:
		typ, data = "status", nil
	default:
		return nil, fmt.Errorf("event type %T is not IPC-serializable", ev)
	}

	env := EventEnvelope{Type: typ}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = b
	}
	return json.Marshal(env)
}
