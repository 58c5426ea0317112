package main

import (
	"fmt"
	"time"
)

// This file implements the reducer-style building blocks of the engine:
//
//   - Commands: side effects requested by the reducer (actuator writes,
//     notification flag, GCS text messages, snapshot replies)
//   - Broadcasts: state change notifications fanned out to WS clients
//   - Reduce(): computes next state + commands + broadcasts, without I/O
//
// The reducer must be pure. All engine state lives in EngineState; the
// daemon loop executes Commands and feeds observations back as Events.
// Within one Tick the pulse controller is advanced before the trigger
// evaluator runs, so an arm decision is never acted on in the tick that
// made it.

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon
// loop's effects stage.
type Command interface {
	commandMarker()
	String() string
}

// CmdRelayOn energizes a release relay.
type CmdRelayOn struct {
	Index int
}

func (CmdRelayOn) commandMarker() {}
func (c CmdRelayOn) String() string {
	return fmt.Sprintf("CmdRelayOn(index=%d)", c.Index)
}

// CmdRelayOff de-energizes a release relay.
type CmdRelayOff struct {
	Index int
}

func (CmdRelayOff) commandMarker() {}
func (c CmdRelayOff) String() string {
	return fmt.Sprintf("CmdRelayOff(index=%d)", c.Index)
}

// CmdServoSet commands the parachute servo channel.
type CmdServoSet struct {
	PWMUS int
}

func (CmdServoSet) commandMarker() {}
func (c CmdServoSet) String() string {
	return fmt.Sprintf("CmdServoSet(pwm_us=%d)", c.PWMUS)
}

// CmdSetNotify raises or clears the parachute-release notification flag
// (LED/buzzer line).
type CmdSetNotify struct {
	On bool
}

func (CmdSetNotify) commandMarker() {}
func (c CmdSetNotify) String() string {
	return fmt.Sprintf("CmdSetNotify(on=%v)", c.On)
}

// CmdSendText sends a STATUSTEXT-style message to the ground station.
// Delivery is fire-and-forget; the engine never retries.
type CmdSendText struct {
	Severity Severity
	Text     string
}

func (CmdSendText) commandMarker() {}
func (c CmdSendText) String() string {
	return fmt.Sprintf("CmdSendText(severity=%s, text=%q)", c.Severity, c.Text)
}

// CmdPublishSnapshot delivers a reducer-produced engine snapshot to a
// requester. Keeps the reducer pure by moving the channel send into the
// effects stage.
type CmdPublishSnapshot struct {
	Snapshot EngineSnapshot
	Reply    chan EngineSnapshot
}

func (CmdPublishSnapshot) commandMarker() {}
func (c CmdPublishSnapshot) String() string {
	return "CmdPublishSnapshot()"
}

// ManualReleaseResult is the outcome of a manual release request.
type ManualReleaseResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CmdPublishManualResult delivers a manual release outcome to a requester.
type CmdPublishManualResult struct {
	Result ManualReleaseResult
	Reply  chan ManualReleaseResult
}

func (CmdPublishManualResult) commandMarker() {}
func (c CmdPublishManualResult) String() string {
	return fmt.Sprintf("CmdPublishManualResult(ok=%v)", c.Result.OK)
}

// ==============================
// Broadcasts (WS fan-out)
// ==============================

// Broadcast is a state-change notification for external observers. Unlike
// Commands, broadcasts are best-effort and carry no engine semantics.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastEngineState is emitted whenever an externally visible engine
// flag changes (pulse phase, released, emergency mode, ...).
type BroadcastEngineState struct {
	Snapshot EngineSnapshot
	At       time.Time
}

func (BroadcastEngineState) broadcastMarker() {}

// BroadcastGCSText mirrors every GCS text message to WS clients.
type BroadcastGCSText struct {
	Severity Severity
	Text     string
	At       time.Time
}

func (BroadcastGCSText) broadcastMarker() {}

// ==============================
// Reducer
// ==============================

// ReduceResult is the output of Reduce(): next state plus the side effects
// and broadcasts it requests.
type ReduceResult struct {
	State      *EngineState
	Commands   []Command
	Broadcasts []Broadcast
}

// Reduce is the pure reducer. p is the parameter snapshot committed at the
// enclosing tick boundary; it cannot change while an event is reduced.
func Reduce(s *EngineState, e Event, p ParamSnapshot) ReduceResult {
	if s == nil {
		s = &EngineState{}
	}

	var cmds []Command
	var at time.Time

	before := makeSnapshot(s, p, time.Time{})

	switch ev := e.(type) {
	case Tick:
		at = ev.Now
		s.LastTickMS = ev.NowMS

		// Telemetry watchdog: drop to "vehicle unknown" when the last
		// frame is older than the staleness bound. The trigger treats an
		// unknown vehicle as an interlock failure.
		if s.VehicleKnown && ev.Now.Sub(s.Vehicle.At) > telemetryStaleMS*time.Millisecond {
			s.VehicleKnown = false
		}

		// Pulse controller first, trigger evaluator second (see file
		// comment for why the order matters).
		next, pulseCmds := pulseTick(*s, p, ev.NowMS)
		cmds = append(cmds, pulseCmds...)

		next, trigCmds := triggerTick(next, p, ev.NowMS)
		cmds = append(cmds, trigCmds...)

		*s = next

	case VehicleObserved:
		at = ev.Vehicle.At
		s.Vehicle = ev.Vehicle
		s.VehicleKnown = true

	case ManualReleaseRequested:
		at = time.Now()

		// Manual release acts on the last committed tick clock; the pulse
		// delay is measured from the next tick onward either way.
		next, ok, relCmds := manualRelease(*s, p, s.LastTickMS)
		*s = next
		cmds = append(cmds, relCmds...)

		if ev.Reply != nil {
			res := ManualReleaseResult{OK: ok}
			if !ok {
				res.Reason = "disabled or already released"
				for _, c := range relCmds {
					if t, isText := c.(CmdSendText); isText {
						res.Reason = t.Text
						break
					}
				}
			}
			cmds = append(cmds, CmdPublishManualResult{Result: res, Reply: ev.Reply})
		}

	case RequestStateSnapshot:
		at = time.Now()
		snap := makeSnapshot(s, p, at)
		cmds = append(cmds, CmdPublishSnapshot{Snapshot: snap, Reply: ev.Reply})

	default:
		// Unknown event type: no-op.
	}

	// Derive broadcasts: every GCS text is mirrored to WS clients, and the
	// snapshot goes out only when an externally visible flag changed.
	var bcasts []Broadcast
	for _, c := range cmds {
		if t, ok := c.(CmdSendText); ok {
			bcasts = append(bcasts, BroadcastGCSText{Severity: t.Severity, Text: t.Text, At: at})
		}
	}

	after := makeSnapshot(s, p, at)
	if !sameSnapshot(before, after) {
		bcasts = append(bcasts, BroadcastEngineState{Snapshot: after, At: at})
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcasts,
	}
}
