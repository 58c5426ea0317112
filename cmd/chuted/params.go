package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// Parameter store
// ============================================================================
//
// Named, operator-editable configuration in the autopilot's CHUTE_ namespace.
// Every parameter is exposed as a float (PARAM_SET/PARAM_GET convention) and
// clamped to its valid range at set time; there is no runtime rejection.
//
// Writes are staged: Set() mutates a staging copy, and the daemon commits the
// staging copy at tick boundaries. The engine only ever sees the immutable
// ParamSnapshot produced by Commit(), so a parameter can never change in the
// middle of a tick.
//
// The committed set is persisted to a YAML file so operator configuration
// survives reboot. Runtime engine state (released flag, debounce timers)
// deliberately does not.
// ============================================================================

// ParamSnapshot is the immutable per-tick view of the parachute parameters.
type ParamSnapshot struct {
	Enabled       bool        // CHUTE_ENABLED: master enable
	AutoEnabled   bool        // CHUTE_AUTO_ON: automatic emergency evaluation
	ReleaseType   ReleaseType // CHUTE_TYPE: relay 0-3 or servo
	ServoOnPWM    int         // CHUTE_SERVO_ON: released servo position (us)
	ServoOffPWM   int         // CHUTE_SERVO_OFF: stowed servo position (us)
	AltMinM       float64     // CHUTE_ALT_MIN: no release below (m above home, 0 disables)
	AltMaxM       float64     // CHUTE_ALT_MAX: no auto release above (m, -1 disables)
	DelayMS       uint32      // CHUTE_DELAY_MS: arming-to-energize delay
	RollMarginCD  int32       // CHUTE_ROLL_MRGN: roll margin beyond the vehicle limit (cd)
	PitchMarginCD int32       // CHUTE_PITCH_MRGN: pitch margin below the vehicle minimum (cd)
	SinkRateMS    float64     // CHUTE_SINK_RATE: emergency sink rate (m/s, 0 disables)
	AltThresholdM float64     // CHUTE_ALT_THRESH: auto release only at or below (m above home)
}

// DefaultParams mirrors the firmware defaults: release disabled, relay 0,
// AP servo endpoints, minimum altitude 10 m, no upper bound, no delay.
// CHUTE_ALT_THRESH defaults to 0, which keeps the auto trigger disengaged
// until the operator picks an altitude window.
func DefaultParams() ParamSnapshot {
	return ParamSnapshot{
		Enabled:       false,
		AutoEnabled:   false,
		ReleaseType:   ReleaseRelay0,
		ServoOnPWM:    defaultServoOnPWM,
		ServoOffPWM:   defaultServoOffPWM,
		AltMinM:       defaultAltMinM,
		AltMaxM:       defaultAltMaxM,
		DelayMS:       0,
		RollMarginCD:  0,
		PitchMarginCD: 0,
		SinkRateMS:    0,
		AltThresholdM: 0,
	}
}

// paramDef binds a CHUTE_ name to its snapshot field, including the set-time
// clamp. set returns the value actually applied.
type paramDef struct {
	get func(ParamSnapshot) float64
	set func(*ParamSnapshot, float64) float64
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var paramDefs = map[string]paramDef{
	"CHUTE_ENABLED": {
		get: func(p ParamSnapshot) float64 { return boolToFloat(p.Enabled) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.Enabled = v >= 0.5
			return boolToFloat(p.Enabled)
		},
	},
	"CHUTE_AUTO_ON": {
		get: func(p ParamSnapshot) float64 { return boolToFloat(p.AutoEnabled) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.AutoEnabled = v >= 0.5
			return boolToFloat(p.AutoEnabled)
		},
	},
	"CHUTE_TYPE": {
		get: func(p ParamSnapshot) float64 { return float64(p.ReleaseType) },
		set: func(p *ParamSnapshot, v float64) float64 {
			// Accepted encodings are relays 0-3 and servo (10); anything in
			// the unused 4-9 gap snaps to the nearest valid value.
			t := int(math.Round(v))
			switch {
			case t <= 0:
				p.ReleaseType = ReleaseRelay0
			case t <= 3:
				p.ReleaseType = ReleaseType(t)
			case t <= 6:
				p.ReleaseType = ReleaseRelay3
			default:
				p.ReleaseType = ReleaseServo
			}
			return float64(p.ReleaseType)
		},
	},
	"CHUTE_SERVO_ON": {
		get: func(p ParamSnapshot) float64 { return float64(p.ServoOnPWM) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.ServoOnPWM = int(clampFloat(math.Round(v), pwmMinUS, pwmMaxUS))
			return float64(p.ServoOnPWM)
		},
	},
	"CHUTE_SERVO_OFF": {
		get: func(p ParamSnapshot) float64 { return float64(p.ServoOffPWM) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.ServoOffPWM = int(clampFloat(math.Round(v), pwmMinUS, pwmMaxUS))
			return float64(p.ServoOffPWM)
		},
	},
	"CHUTE_ALT_MIN": {
		get: func(p ParamSnapshot) float64 { return p.AltMinM },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.AltMinM = clampFloat(v, 0, altClampMaxM)
			return p.AltMinM
		},
	},
	"CHUTE_ALT_MAX": {
		get: func(p ParamSnapshot) float64 { return p.AltMaxM },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.AltMaxM = clampFloat(v, -1, altClampMaxM)
			return p.AltMaxM
		},
	},
	"CHUTE_DELAY_MS": {
		get: func(p ParamSnapshot) float64 { return float64(p.DelayMS) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.DelayMS = uint32(clampFloat(math.Round(v), 0, delayClampMaxMS))
			return float64(p.DelayMS)
		},
	},
	"CHUTE_ROLL_MRGN": {
		get: func(p ParamSnapshot) float64 { return float64(p.RollMarginCD) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.RollMarginCD = int32(clampFloat(math.Round(v), 0, marginClampMaxCD))
			return float64(p.RollMarginCD)
		},
	},
	"CHUTE_PITCH_MRGN": {
		get: func(p ParamSnapshot) float64 { return float64(p.PitchMarginCD) },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.PitchMarginCD = int32(clampFloat(math.Round(v), 0, marginClampMaxCD))
			return float64(p.PitchMarginCD)
		},
	},
	"CHUTE_SINK_RATE": {
		get: func(p ParamSnapshot) float64 { return p.SinkRateMS },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.SinkRateMS = clampFloat(v, 0, sinkClampMaxMS)
			return p.SinkRateMS
		},
	},
	"CHUTE_ALT_THRESH": {
		get: func(p ParamSnapshot) float64 { return p.AltThresholdM },
		set: func(p *ParamSnapshot, v float64) float64 {
			p.AltThresholdM = clampFloat(v, 0, altClampMaxM)
			return p.AltThresholdM
		},
	},
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ParamNames returns the recognized parameter names, sorted.
func ParamNames() []string {
	names := make([]string, 0, len(paramDefs))
	for name := range paramDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamStore holds the committed parameter set plus a staging copy for
// pending writes. Safe for concurrent use; the daemon loop is the only
// caller of Commit.
type ParamStore struct {
	mu        sync.Mutex
	committed ParamSnapshot
	staged    ParamSnapshot
	dirty     bool

	path   string // persistence file; empty disables persistence
	logger *slog.Logger
}

// NewParamStore creates a store seeded from the persistence file at path,
// falling back to defaults when the file does not exist. An empty path
// disables persistence entirely.
func NewParamStore(path string, logger *slog.Logger) (*ParamStore, error) {
	s := &ParamStore{
		committed: DefaultParams(),
		path:      path,
		logger:    logger,
	}
	s.staged = s.committed

	if path == "" {
		return s, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read params file: %w", err)
	}

	var values map[string]float64
	if err := yaml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("decode params file: %w", err)
	}

	for name, v := range values {
		def, ok := paramDefs[name]
		if !ok {
			logger.Warn("ignoring unknown parameter in params file", "name", name)
			continue
		}
		def.set(&s.committed, v)
	}
	s.staged = s.committed

	return s, nil
}

// Set stages a parameter write. The value is clamped to the parameter's
// valid range and the applied value is returned. The write takes effect at
// the next tick boundary.
func (s *ParamStore) Set(name string, value float64) (float64, error) {
	def, ok := paramDefs[name]
	if !ok {
		return 0, fmt.Errorf("unknown parameter: %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied := def.set(&s.staged, value)
	s.dirty = true
	return applied, nil
}

// Get returns the committed value of a parameter.
func (s *ParamStore) Get(name string) (float64, bool) {
	def, ok := paramDefs[name]
	if !ok {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return def.get(s.committed), true
}

// Snapshot returns the committed parameter set without committing staged
// writes. Use from goroutines other than the daemon loop.
func (s *ParamStore) Snapshot() ParamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Commit promotes staged writes to the committed set and returns the new
// snapshot. Called by the daemon loop at tick boundaries. Persistence
// failures are logged and otherwise ignored; the in-memory set stays
// authoritative for the session.
func (s *ParamStore) Commit() ParamSnapshot {
	s.mu.Lock()
	wasDirty := s.dirty
	s.committed = s.staged
	s.dirty = false
	snap := s.committed
	s.mu.Unlock()

	if wasDirty && s.path != "" {
		if err := s.save(snap); err != nil {
			s.logger.Warn("failed to persist parameters", "path", s.path, "error", err)
		}
	}

	return snap
}

func (s *ParamStore) save(snap ParamSnapshot) error {
	values := make(map[string]float64, len(paramDefs))
	for name, def := range paramDefs {
		values[name] = def.get(snap)
	}

	b, err := yaml.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("write params file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace params file: %w", err)
	}
	return nil
}
