package main

import "log/slog"

// runEffect executes a single reducer-emitted Command against the hardware
// and the ground-station links.
//
// Design rules:
//   - This function is the only place actuator and link I/O happens.
//   - It never calls Reduce() and never blocks on a slow consumer.
//   - Failures are logged and dropped: the engine cannot verify deployment
//     and there is no retry or fallback actuator. The parachute is the
//     escalation.
func runEffect(act Actuator, notify Notifier, gcs TextSender, cmd Command, logger *slog.Logger) {
	switch c := cmd.(type) {
	case CmdRelayOn:
		if err := act.RelayOn(c.Index); err != nil {
			logger.Error("relay on failed", "index", c.Index, "error", err)
		}

	case CmdRelayOff:
		if err := act.RelayOff(c.Index); err != nil {
			logger.Error("relay off failed", "index", c.Index, "error", err)
		}

	case CmdServoSet:
		if err := act.ServoSet(c.PWMUS); err != nil {
			logger.Error("servo set failed", "pwm_us", c.PWMUS, "error", err)
		}

	case CmdSetNotify:
		if notify == nil {
			return
		}
		if err := notify.SetReleaseFlag(c.On); err != nil {
			logger.Error("notify flag failed", "on", c.On, "error", err)
		}

	case CmdSendText:
		if gcs == nil {
			return
		}
		if err := gcs.SendText(c.Severity, c.Text); err != nil {
			logger.Warn("gcs text dropped", "severity", c.Severity, "text", c.Text, "error", err)
		}

	case CmdPublishSnapshot:
		if c.Reply == nil {
			logger.Warn("snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("snapshot reply channel not ready; dropping snapshot")
		}

	case CmdPublishManualResult:
		if c.Reply == nil {
			return
		}
		select {
		case c.Reply <- c.Result:
		default:
			logger.Warn("manual release reply channel not ready; dropping result")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
