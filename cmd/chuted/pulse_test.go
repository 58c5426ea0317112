package main

import "testing"

func relayParams() ParamSnapshot {
	p := DefaultParams()
	p.Enabled = true
	p.ReleaseType = ReleaseRelay0
	return p
}

func hasCommand(cmds []Command, want Command) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}

func textCommands(cmds []Command) []CmdSendText {
	var out []CmdSendText
	for _, c := range cmds {
		if t, ok := c.(CmdSendText); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestPulse_ArmWhileDisabledIsNoOp(t *testing.T) {
	p := relayParams()
	p.Enabled = false

	s, cmds := armPulse(EngineState{}, p, 1000)

	if s.Pulse.Phase != PulseIdle {
		t.Fatalf("expected idle phase, got %v", s.Pulse.Phase)
	}
	if s.ReleaseInitiated {
		t.Fatal("expected ReleaseInitiated to stay false")
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands, got %v", cmds)
	}
}

func TestPulse_ArmSendsCriticalAndNotifies(t *testing.T) {
	p := relayParams()

	s, cmds := armPulse(EngineState{}, p, 1000)

	if s.Pulse.Phase != PulseDelaying {
		t.Fatalf("expected delaying phase, got %v", s.Pulse.Phase)
	}
	if !s.ReleaseInitiated || !s.NotifyRelease {
		t.Fatalf("expected initiated+notify, got initiated=%v notify=%v", s.ReleaseInitiated, s.NotifyRelease)
	}
	if !hasCommand(cmds, CmdSetNotify{On: true}) {
		t.Fatalf("expected notify command, got %v", cmds)
	}
	if !hasCommand(cmds, CmdSendText{Severity: SeverityCritical, Text: "Parachute: Released"}) {
		t.Fatalf("expected critical release message, got %v", cmds)
	}
}

func TestPulse_ArmIsIdempotentWhilePending(t *testing.T) {
	p := relayParams()

	s, _ := armPulse(EngineState{}, p, 1000)
	armedAt := s.Pulse.ArmedAtMS

	s2, cmds := armPulse(s, p, 1500)

	if s2.Pulse.ArmedAtMS != armedAt {
		t.Fatalf("re-arm moved the armed timestamp: %d -> %d", armedAt, s2.Pulse.ArmedAtMS)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands on re-arm, got %v", cmds)
	}
}

func TestPulse_ZeroDelayEnergizesOnNextTick(t *testing.T) {
	p := relayParams()
	p.DelayMS = 0

	s, _ := armPulse(EngineState{}, p, 1000)
	s, cmds := pulseTick(s, p, 1100)

	if s.Pulse.Phase != PulseEnergized {
		t.Fatalf("expected energized, got %v", s.Pulse.Phase)
	}
	if !s.Released {
		t.Fatal("expected Released latched on energize")
	}
	if !hasCommand(cmds, CmdRelayOn{Index: 0}) {
		t.Fatalf("expected relay on, got %v", cmds)
	}
}

func TestPulse_DelayRespected(t *testing.T) {
	p := relayParams()
	p.DelayMS = 500

	s, _ := armPulse(EngineState{}, p, 1000)

	s, cmds := pulseTick(s, p, 1400)
	if s.Pulse.Phase != PulseDelaying {
		t.Fatalf("energized too early at +400ms: %v", s.Pulse.Phase)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands yet, got %v", cmds)
	}

	s, cmds = pulseTick(s, p, 1500)
	if s.Pulse.Phase != PulseEnergized {
		t.Fatalf("expected energized at +500ms, got %v", s.Pulse.Phase)
	}
	if !hasCommand(cmds, CmdRelayOn{Index: 0}) {
		t.Fatalf("expected relay on, got %v", cmds)
	}
}

func TestPulse_DeEnergizesAfterReleaseDuration(t *testing.T) {
	p := relayParams()
	p.DelayMS = 0

	s, _ := armPulse(EngineState{}, p, 1000)
	s, _ = pulseTick(s, p, 1000) // energize

	s, cmds := pulseTick(s, p, 1000+releaseDurationMS-100)
	if s.Pulse.Phase != PulseEnergized {
		t.Fatalf("de-energized too early: %v", s.Pulse.Phase)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands mid-pulse, got %v", cmds)
	}

	s, cmds = pulseTick(s, p, 1000+releaseDurationMS)
	if s.Pulse.Phase != PulseIdle {
		t.Fatalf("expected idle after pulse, got %v", s.Pulse.Phase)
	}
	if !hasCommand(cmds, CmdRelayOff{Index: 0}) {
		t.Fatalf("expected relay off, got %v", cmds)
	}
	if !hasCommand(cmds, CmdSetNotify{On: false}) {
		t.Fatalf("expected notify clear, got %v", cmds)
	}
	if !s.Released {
		t.Fatal("Released must stay latched after the pulse completes")
	}
}

func TestPulse_ReleasedLatchBlocksSecondPulse(t *testing.T) {
	p := relayParams()
	p.DelayMS = 0

	s, _ := armPulse(EngineState{}, p, 1000)
	s, _ = pulseTick(s, p, 1000)
	s, _ = pulseTick(s, p, 1000+releaseDurationMS)

	s2, cmds := armPulse(s, p, 5000)
	if s2.Pulse.Phase != PulseIdle {
		t.Fatalf("second arm must be a no-op, got phase %v", s2.Pulse.Phase)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands on second arm, got %v", cmds)
	}
}

func TestPulse_DisableAbortsPendingPulse(t *testing.T) {
	p := relayParams()
	p.DelayMS = 1000

	s, _ := armPulse(EngineState{}, p, 1000)

	p.Enabled = false
	s, cmds := pulseTick(s, p, 1500)

	if s.Pulse.Phase != PulseIdle {
		t.Fatalf("expected pending pulse aborted, got %v", s.Pulse.Phase)
	}
	if s.Released {
		t.Fatal("aborted pulse must not latch Released")
	}
	if !hasCommand(cmds, CmdSetNotify{On: false}) {
		t.Fatalf("expected notify clear on abort, got %v", cmds)
	}
}

func TestPulse_DisableDoesNotAbortEnergizedPulse(t *testing.T) {
	p := relayParams()
	p.DelayMS = 0

	s, _ := armPulse(EngineState{}, p, 1000)
	s, _ = pulseTick(s, p, 1000) // energized

	p.Enabled = false
	s, _ = pulseTick(s, p, 1100)
	if s.Pulse.Phase != PulseEnergized {
		t.Fatalf("energized pulse must run to completion, got %v", s.Pulse.Phase)
	}

	s, cmds := pulseTick(s, p, 1000+releaseDurationMS)
	if s.Pulse.Phase != PulseIdle {
		t.Fatalf("expected idle after completion, got %v", s.Pulse.Phase)
	}
	if !hasCommand(cmds, CmdRelayOff{Index: 0}) {
		t.Fatalf("expected relay off at completion, got %v", cmds)
	}
}

func TestPulse_ServoChannelCommands(t *testing.T) {
	p := relayParams()
	p.ReleaseType = ReleaseServo
	p.DelayMS = 0

	s, _ := armPulse(EngineState{}, p, 1000)

	s, cmds := pulseTick(s, p, 1000)
	if !hasCommand(cmds, CmdServoSet{PWMUS: p.ServoOnPWM}) {
		t.Fatalf("expected servo on pulse %d, got %v", p.ServoOnPWM, cmds)
	}

	_, cmds = pulseTick(s, p, 1000+releaseDurationMS)
	if !hasCommand(cmds, CmdServoSet{PWMUS: p.ServoOffPWM}) {
		t.Fatalf("expected servo off pulse %d, got %v", p.ServoOffPWM, cmds)
	}
}

func TestPulse_ClockWraparound(t *testing.T) {
	p := relayParams()
	p.DelayMS = 500

	// Arm just before the uint32 clock wraps.
	armAt := uint32(0xFFFFFF00) // 256ms before wrap
	s, _ := armPulse(EngineState{}, p, armAt)

	s, _ = pulseTick(s, p, 0xFFFFFFF0)
	if s.Pulse.Phase != PulseDelaying {
		t.Fatalf("energized too early near wrap: %v", s.Pulse.Phase)
	}

	// 500ms after arming the clock has wrapped to a small value.
	s, cmds := pulseTick(s, p, armAt+500)
	if s.Pulse.Phase != PulseEnergized {
		t.Fatalf("expected energize across wrap, got %v", s.Pulse.Phase)
	}
	if !hasCommand(cmds, CmdRelayOn{Index: 0}) {
		t.Fatalf("expected relay on across wrap, got %v", cmds)
	}
}
