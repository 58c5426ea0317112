package main

import "time"

// ============================================================================
// Engine state
// ============================================================================
//
// EngineState is the reducer-owned state container for the release engine.
// The reducer computes next state + commands from it without performing I/O;
// the daemon loop is the only place side effects run.
//
// Time inside the engine is a uint32 monotonic millisecond counter supplied
// by the daemon. It wraps after ~49 days; all comparisons use unsigned
// subtraction so a wrap costs at most one over-long debounce window, never
// an early fire.
// ============================================================================

// PulsePhase is the release pulse controller phase. An explicit phase plus
// the armed-at timestamp replaces the firmware's release_time==0 sentinel,
// which is ambiguous under clock wraparound.
type PulsePhase int

const (
	// PulseIdle: actuator de-energized, nothing pending.
	PulseIdle PulsePhase = iota
	// PulseDelaying: armed, waiting out CHUTE_DELAY_MS before energizing.
	PulseDelaying
	// PulseEnergized: actuator energized, holding for releaseDurationMS.
	PulseEnergized
)

func (p PulsePhase) String() string {
	switch p {
	case PulseIdle:
		return "idle"
	case PulseDelaying:
		return "delaying"
	case PulseEnergized:
		return "energized"
	default:
		return "unknown"
	}
}

// PulseState is the release pulse controller state.
type PulseState struct {
	Phase     PulsePhase
	ArmedAtMS uint32 // valid while Phase != PulseIdle
}

// EngineState holds everything the engine owns. Zero value is the boot
// state: nothing released, no debounce windows open, no vehicle data yet.
type EngineState struct {
	Pulse PulseState

	// Released latches true once the pulse has fired and stays true for
	// the lifetime of the session. It gates every subsequent arm attempt.
	Released bool

	// ReleaseInitiated is true once an operator or the trigger has armed
	// the pulse controller.
	ReleaseInitiated bool

	// ControlLossMS is when the control-loss debounce window opened;
	// 0 = closed. Cleared whenever an interlock fails or the vehicle
	// recovers.
	ControlLossMS uint32

	// EmergencyStartMS is when emergency mode was entered; 0 = not in
	// emergency mode. Nonzero implies ControlLossMS nonzero.
	EmergencyStartMS uint32

	// NotifyRelease mirrors the notification subsystem flag (LED/buzzer).
	NotifyRelease bool

	// ActuatorEnergized is the last commanded actuator level. Used to turn
	// "ensure de-energized" into a transition instead of a 10 Hz command
	// stream.
	ActuatorEnergized bool

	// Vehicle is the most recent telemetry frame. VehicleKnown goes false
	// at boot and whenever telemetry goes stale; the trigger treats an
	// unknown vehicle as an interlock failure.
	Vehicle      VehicleState
	VehicleKnown bool

	// LastTickMS is the engine clock as of the most recent Tick. Events
	// that arrive between ticks (manual release) are stamped with it.
	LastTickMS uint32
}

// ReleaseInProgress reports whether the actuator is currently energized by
// the pulse controller.
func (s *EngineState) ReleaseInProgress() bool {
	return s.Pulse.Phase == PulseEnergized
}

// EngineSnapshot is the externally visible engine state, published to WS
// clients and returned to IPC status queries. Keep decoupled from
// EngineState so internals can evolve without breaking consumers.
type EngineSnapshot struct {
	Enabled     bool `json:"enabled"`
	AutoEnabled bool `json:"auto_enabled"`

	Released          bool   `json:"released"`
	ReleaseInitiated  bool   `json:"release_initiated"`
	ReleaseInProgress bool   `json:"release_in_progress"`
	PulsePhase        string `json:"pulse_phase"`

	ControlLossOpen bool `json:"control_loss_open"`
	InEmergency     bool `json:"in_emergency"`
	NotifyRelease   bool `json:"notify_release"`

	VehicleKnown bool    `json:"vehicle_known"`
	Mode         string  `json:"mode,omitempty"`
	RelativeAltM float64 `json:"relative_alt_m"`

	At time.Time `json:"at"`
}

func makeSnapshot(s *EngineState, p ParamSnapshot, at time.Time) EngineSnapshot {
	return EngineSnapshot{
		Enabled:           p.Enabled,
		AutoEnabled:       p.AutoEnabled,
		Released:          s.Released,
		ReleaseInitiated:  s.ReleaseInitiated,
		ReleaseInProgress: s.ReleaseInProgress(),
		PulsePhase:        s.Pulse.Phase.String(),
		ControlLossOpen:   s.ControlLossMS != 0,
		InEmergency:       s.EmergencyStartMS != 0,
		NotifyRelease:     s.NotifyRelease,
		VehicleKnown:      s.VehicleKnown,
		Mode:              s.Vehicle.Mode,
		RelativeAltM:      s.Vehicle.RelativeAltM,
		At:                at,
	}
}

// sameSnapshot compares the fields that matter for broadcast-on-change,
// ignoring timestamps and the continuously varying altitude.
func sameSnapshot(a, b EngineSnapshot) bool {
	return a.Enabled == b.Enabled &&
		a.AutoEnabled == b.AutoEnabled &&
		a.Released == b.Released &&
		a.ReleaseInitiated == b.ReleaseInitiated &&
		a.ReleaseInProgress == b.ReleaseInProgress &&
		a.PulsePhase == b.PulsePhase &&
		a.ControlLossOpen == b.ControlLossOpen &&
		a.InEmergency == b.InEmergency &&
		a.NotifyRelease == b.NotifyRelease &&
		a.VehicleKnown == b.VehicleKnown &&
		a.Mode == b.Mode
}

// elapsedMS is the wraparound-safe distance from then to now.
func elapsedMS(now, then uint32) uint32 {
	return now - then // unsigned subtraction absorbs wrap
}

// nonzeroMS maps the one-in-four-billion tick where the clock reads exactly
// 0 onto 1, so an open debounce window is never mistaken for a closed one.
func nonzeroMS(now uint32) uint32 {
	if now == 0 {
		return 1
	}
	return now
}
