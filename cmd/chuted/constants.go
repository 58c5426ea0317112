package main

// Engine timing. The trigger windows mirror the autopilot's emergency
// deployment logic: one second of continuous loss of control opens the
// emergency window, which stays open for two seconds while the engine
// waits for the vehicle to pass through the configured altitude band.
const (
	defaultTickHz = 10 // engine update rate (Hz)

	// releaseDurationMS is how long the actuator stays energized once the
	// pulse fires. Long enough for any pyro cutter or pin-puller on the
	// market; short enough not to cook a relay coil.
	releaseDurationMS = 500

	controlLossTriggerMS = 1000 // continuous loss of control before emergency mode
	emergencyDurationMS  = 2000 // emergency window length once entered
)

// Release mechanism types. Values match the CHUTE_TYPE parameter encoding
// used by the autopilot firmware (relays 0-3, servo at 10).
type ReleaseType int

const (
	ReleaseRelay0 ReleaseType = 0
	ReleaseRelay1 ReleaseType = 1
	ReleaseRelay2 ReleaseType = 2
	ReleaseRelay3 ReleaseType = 3
	ReleaseServo  ReleaseType = 10
)

// Parameter defaults and clamp ranges.
const (
	defaultServoOnPWM  = 1300
	defaultServoOffPWM = 1100
	pwmMinUS           = 1000
	pwmMaxUS           = 2000

	defaultAltMinM = 10 // do not release below this altitude (m above home)
	defaultAltMaxM = -1 // -1 disables the upper bound

	altClampMaxM     = 32000
	delayClampMaxMS  = 5000
	marginClampMaxCD = 9000
	sinkClampMaxMS   = 20.0
)

// GCS message severities. Pre-release diagnostics go out as warnings;
// only the actual release is critical.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Flight modes as reported by the telemetry bridge. Automatic release is
// only armed in AUTO.
const modeAuto = "AUTO"

// navCmdLand is MAV_CMD_NAV_LAND. A landing mission item suppresses
// automatic release.
const navCmdLand uint16 = 21

// telemetryStaleMS is how long the engine trusts the last vehicle frame.
// A stale frame counts as an interlock failure: the engine will not decide
// to deploy on old data.
const telemetryStaleMS = 2000

// servoPWMCycleUS is the PWM period used for the parachute servo output
// (50 Hz frame, microsecond duty resolution).
const servoPWMCycleUS = 20000
