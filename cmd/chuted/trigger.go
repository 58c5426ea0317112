package main

import "fmt"

// ============================================================================
// Trigger evaluator
// ============================================================================
//
// Runs once per tick, after the pulse controller. Decides whether the
// vehicle has lost controlled flight and, if so, arms the pulse controller.
//
// Two nested debounce windows:
//
//   stage 1  control loss:  the out-of-control predicate must hold
//            continuously for controlLossTriggerMS before emergency mode
//            is entered. Rejects millisecond-scale sensor excursions.
//
//   stage 2  emergency mode: for emergencyDurationMS the engine re-checks
//            the CHUTE_ALT_MIN..CHUTE_ALT_MAX window every tick and arms
//            the moment the vehicle is inside it. If the window never
//            opens, emergency mode expires and the debounce restarts from
//            stage 1 (the predicate is re-evaluated every tick anyway).
//
// Any interlock failure closes both windows on the spot: a false positive
// here destroys the aircraft, so the evaluator never carries debounce
// credit across an interlock gap.
// ============================================================================

// triggerTick evaluates the automatic release policy for one tick.
func triggerTick(s EngineState, p ParamSnapshot, nowMS uint32) (EngineState, []Command) {
	// Interlock chain. Order matters: cheap configuration gates first,
	// then mission phase, then the altitude threshold.
	if !p.Enabled || !p.AutoEnabled || s.ReleaseInitiated {
		return clearDebounce(s), nil
	}
	if !s.VehicleKnown {
		return clearDebounce(s), nil
	}
	v := s.Vehicle
	if v.Mode != modeAuto {
		return clearDebounce(s), nil
	}
	if !v.TakeoffComplete || v.LandComplete || v.NavCmdID == navCmdLand {
		return clearDebounce(s), nil
	}
	if v.RelativeAltM > p.AltThresholdM {
		// Above the emergency band: the aircraft still has altitude to
		// recover on its own, so a parachute is not the last resort yet.
		return clearDebounce(s), nil
	}

	ooc, diag := outOfControl(v, p)
	if !ooc {
		return clearDebounce(s), nil
	}

	var cmds []Command

	// One diagnostic line per tick naming the tripped condition, so the
	// operator can see what the engine is reacting to before it commits.
	cmds = append(cmds, CmdSendText{Severity: SeverityWarning, Text: diag})

	// Stage 1: open or age the control-loss window.
	if s.ControlLossMS == 0 {
		s.ControlLossMS = nonzeroMS(nowMS)
		cmds = append(cmds, CmdSendText{Severity: SeverityWarning, Text: "Emergency: Starting to lose control"})
	} else if s.EmergencyStartMS == 0 && elapsedMS(nowMS, s.ControlLossMS) > controlLossTriggerMS {
		s.EmergencyStartMS = nonzeroMS(nowMS)
	}

	// Stage 2: while in emergency mode, arm the moment the altitude window
	// allows it.
	if s.EmergencyStartMS != 0 {
		if elapsedMS(nowMS, s.EmergencyStartMS) < emergencyDurationMS {
			if reason := altWindowReject(v.RelativeAltM, p); reason == "" {
				var armCmds []Command
				s, armCmds = armPulse(s, p, nowMS)
				cmds = append(cmds, armCmds...)
			} else {
				cmds = append(cmds, CmdSendText{Severity: SeverityWarning, Text: reason})
			}
		} else {
			// Window expired without an arm. Close both windows; if the
			// vehicle is still out of control the next tick starts over.
			cmds = append(cmds, CmdSendText{Severity: SeverityWarning, Text: "Emergency: Control restored"})
			s = clearDebounce(s)
		}
	}

	return s, cmds
}

func clearDebounce(s EngineState) EngineState {
	s.ControlLossMS = 0
	s.EmergencyStartMS = 0
	return s
}

// outOfControl is true when any of the attitude or sink-rate excursions
// holds. A zero CHUTE_SINK_RATE disables the sink-rate condition, matching
// the zero-disables convention of the rest of the parameter set.
func outOfControl(v VehicleState, p ParamSnapshot) (bool, string) {
	roll := absInt32(v.RollCD) >= v.RollLimitCD+p.RollMarginCD
	pitch := v.PitchCD <= v.PitchLimitMinCD-p.PitchMarginCD
	sink := p.SinkRateMS > 0 && v.SinkRateMS >= p.SinkRateMS

	switch {
	case roll:
		return true, fmt.Sprintf("Emergency: Roll %d exceeds limit", v.RollCD)
	case pitch:
		return true, fmt.Sprintf("Emergency: Pitch %d below limit", v.PitchCD)
	case sink:
		return true, fmt.Sprintf("Emergency: Sink rate %.1f m/s", v.SinkRateMS)
	default:
		return false, ""
	}
}

// altWindowReject re-verifies the release altitude band at arm time.
// Returns "" when the vehicle is inside the band. CHUTE_ALT_MIN of 0
// disables the lower bound; a negative CHUTE_ALT_MAX disables the upper.
func altWindowReject(altM float64, p ParamSnapshot) string {
	if p.AltMinM > 0 && altM <= p.AltMinM {
		return "Parachute: Too low"
	}
	if p.AltMaxM >= 0 && altM >= p.AltMaxM {
		return "Parachute: Too high"
	}
	return ""
}

// manualRelease is the operator-commanded release path (RC switch, ground
// station, IPC). Only the minimum altitude is enforced here: the upper
// bound exists to stop the auto trigger from deploying at cruise altitude,
// and an operator pulling the handle is presumed to know better.
func manualRelease(s EngineState, p ParamSnapshot, nowMS uint32) (EngineState, bool, []Command) {
	if !p.Enabled || s.Released {
		// Silent no-op: disabled or already spent.
		return s, false, nil
	}

	if !s.VehicleKnown || !s.Vehicle.IsFlying {
		return s, false, []Command{CmdSendText{Severity: SeverityWarning, Text: "Parachute: Not flying"}}
	}
	if s.Vehicle.RelativeAltM < p.AltMinM {
		return s, false, []Command{CmdSendText{Severity: SeverityWarning, Text: "Parachute: Too low"}}
	}

	s, cmds := armPulse(s, p, nowMS)
	return s, true, cmds
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
