package main

// ============================================================================
// Release pulse controller
// ============================================================================
//
// Time-driven state machine over PulseState. Once armed it waits out
// CHUTE_DELAY_MS, energizes the release mechanism for releaseDurationMS,
// then de-energizes and returns to idle. Pure: state in, state + commands
// out; the daemon's effects stage talks to the hardware.
//
// The phases and timing follow the firmware's parachute library; the
// latching Released flag means a session fires at most one pulse.
// ============================================================================

// armPulse requests deployment. Idempotent while a pulse is pending or in
// progress; a no-op when the master enable is off or the chute has already
// been released this session.
//
// On the idle-to-delaying transition it raises the notification flag and
// emits the one CRITICAL message this engine ever sends.
func armPulse(s EngineState, p ParamSnapshot, nowMS uint32) (EngineState, []Command) {
	if !p.Enabled {
		return s, nil
	}
	if s.Released {
		// Already fired this session; silent no-op.
		return s, nil
	}
	if s.Pulse.Phase != PulseIdle {
		// Already armed. Keep the initiated flag in sync and do nothing else.
		s.ReleaseInitiated = true
		return s, nil
	}

	s.Pulse = PulseState{Phase: PulseDelaying, ArmedAtMS: nonzeroMS(nowMS)}
	s.ReleaseInitiated = true
	s.NotifyRelease = true

	cmds := []Command{
		CmdSetNotify{On: true},
		CmdSendText{Severity: SeverityCritical, Text: "Parachute: Released"},
	}
	return s, cmds
}

// pulseTick advances the pulse controller one step. Called from the reducer
// at the start of every Tick, before the trigger evaluator, so a release
// armed in tick N is advanced in tick N+1 rather than re-evaluated in the
// tick that armed it.
func pulseTick(s EngineState, p ParamSnapshot, nowMS uint32) (EngineState, []Command) {
	var cmds []Command

	// Master enable off: a pending pulse is aborted, but an energized pulse
	// always runs to completion so the mechanism is never left half-driven.
	if !p.Enabled && s.Pulse.Phase == PulseDelaying {
		s.Pulse = PulseState{Phase: PulseIdle}
		if s.NotifyRelease {
			s.NotifyRelease = false
			cmds = append(cmds, CmdSetNotify{On: false})
		}
		return s, cmds
	}

	switch s.Pulse.Phase {
	case PulseIdle:
		// Ensure the mechanism is stowed and the notification cleared.
		if s.ActuatorEnergized {
			s.ActuatorEnergized = false
			cmds = append(cmds, deEnergizeCommand(p))
		}
		if s.NotifyRelease {
			s.NotifyRelease = false
			cmds = append(cmds, CmdSetNotify{On: false})
		}

	case PulseDelaying:
		if elapsedMS(nowMS, s.Pulse.ArmedAtMS) >= p.DelayMS {
			s.Pulse.Phase = PulseEnergized
			s.Released = true
			s.ActuatorEnergized = true
			cmds = append(cmds, energizeCommand(p))
		}

	case PulseEnergized:
		if elapsedMS(nowMS, s.Pulse.ArmedAtMS) >= p.DelayMS+releaseDurationMS {
			s.Pulse = PulseState{Phase: PulseIdle}
			s.ActuatorEnergized = false
			s.NotifyRelease = false
			cmds = append(cmds, deEnergizeCommand(p), CmdSetNotify{On: false})
		}
	}

	return s, cmds
}

// energizeCommand maps the logical "energize release mechanism" onto the
// configured actuation channel.
func energizeCommand(p ParamSnapshot) Command {
	if p.ReleaseType == ReleaseServo {
		return CmdServoSet{PWMUS: p.ServoOnPWM}
	}
	return CmdRelayOn{Index: int(p.ReleaseType)}
}

func deEnergizeCommand(p ParamSnapshot) Command {
	if p.ReleaseType == ReleaseServo {
		return CmdServoSet{PWMUS: p.ServoOffPWM}
	}
	return CmdRelayOff{Index: int(p.ReleaseType)}
}
