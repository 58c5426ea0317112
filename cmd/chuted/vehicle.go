package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// VehicleState is the per-tick readable vehicle state published by the
// flight-controller bridge. Angles are centidegrees, matching the
// autopilot's native units; sink rate is positive downward.
type VehicleState struct {
	Mode            string  `json:"mode"`               // flight mode name; auto release only in AUTO
	IsFlying        bool    `json:"is_flying"`          // flying-state detector output
	TakeoffComplete bool    `json:"takeoff_complete"`   // mission auto-state
	LandComplete    bool    `json:"land_complete"`      // mission auto-state
	NavCmdID        uint16  `json:"nav_cmd_id"`         // current mission item command id
	RollCD          int32   `json:"roll_cd"`            // AHRS roll, signed centidegrees
	PitchCD         int32   `json:"pitch_cd"`           // AHRS pitch, signed centidegrees
	RollLimitCD     int32   `json:"roll_limit_cd"`      // configured bank limit
	PitchLimitMinCD int32   `json:"pitch_limit_min_cd"` // configured minimum pitch (negative)
	SinkRateMS      float64 `json:"sink_rate_ms"`       // m/s, positive = sinking
	RelativeAltM    float64 `json:"relative_alt_m"`     // meters above home
	AltErrorCM      float64 `json:"alt_error_cm"`       // kept for the legacy altitude-error trigger

	At time.Time `json:"-"` // local receive time, assigned by the telemetry link
}

// decodeVehicleFrame parses one telemetry JSON frame. Frames with extra
// fields are accepted; the bridge publishes a superset for other consumers.
func decodeVehicleFrame(b []byte, at time.Time) (VehicleState, error) {
	var v VehicleState
	if err := json.Unmarshal(b, &v); err != nil {
		return VehicleState{}, fmt.Errorf("decode vehicle frame: %w", err)
	}
	if v.Mode == "" {
		return VehicleState{}, fmt.Errorf("decode vehicle frame: missing mode")
	}
	v.At = at
	return v, nil
}
