// Package motion generates time-parameterised platform trajectories and runs
// them against the actuator link.
package motion

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrAlreadyRunning = errors.New("a routine is already running")
	ErrInvalidRequest = errors.New("invalid motion request")
	ErrInvalidPose    = errors.New("pose outside the actuator stroke window")
)

// Routine names.
const (
	RoutineSineAxis   = "sine_axis"
	RoutineCircleXY   = "circle_xy"
	RoutineLissajous  = "lissajous_xy"
	RoutineHelix      = "helix"
	RoutineHeavePitch = "heave_pitch"
	RoutineWobble     = "wobble_precession"
)

// Request selects a routine and its parameters. Amplitudes are in mm for
// translations and degrees for angles; frequencies in Hz.
type Request struct {
	Routine  string  `json:"routine"`
	Axis     string  `json:"axis,omitempty"`
	Amp      float64 `json:"amp"`
	Hz       float64 `json:"hz"`
	PhaseDeg float64 `json:"phase_deg"`

	Ax  float64 `json:"ax"`
	Ay  float64 `json:"ay"`
	Fx  float64 `json:"fx"`
	Fy  float64 `json:"fy"`
	Phx float64 `json:"phx"`
	Phy float64 `json:"phy"`

	ZAmpMM  float64 `json:"z_amp_mm"`
	ZCycles float64 `json:"z_cycles"`

	TiltDeg     float64 `json:"tilt_deg"`
	TiltBiasDeg float64 `json:"tilt_bias_deg"`
	PrecHz      float64 `json:"prec_hz"`
	YawHz       float64 `json:"yaw_hz"`
	ZPhaseDeg   float64 `json:"z_phase_deg"`

	DurationS float64 `json:"duration_s"`
}

var axes = map[string]bool{"x": true, "y": true, "z": true, "roll": true, "pitch": true, "yaw": true}

// Validate checks the parameters the named routine depends on. An unknown
// routine is accepted and holds the home pose.
func (r Request) Validate() error {
	for name, v := range map[string]float64{
		"amp": r.Amp, "hz": r.Hz, "phase_deg": r.PhaseDeg, "ax": r.Ax, "ay": r.Ay,
		"fx": r.Fx, "fy": r.Fy, "phx": r.Phx, "phy": r.Phy, "z_amp_mm": r.ZAmpMM,
		"z_cycles": r.ZCycles, "tilt_deg": r.TiltDeg, "tilt_bias_deg": r.TiltBiasDeg,
		"prec_hz": r.PrecHz, "yaw_hz": r.YawHz, "z_phase_deg": r.ZPhaseDeg,
		"duration_s": r.DurationS,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidRequest, name)
		}
	}
	if r.DurationS <= 0 {
		return fmt.Errorf("%w: duration_s must be positive, got %g", ErrInvalidRequest, r.DurationS)
	}

	switch r.Routine {
	case RoutineSineAxis:
		if !axes[r.Axis] {
			return fmt.Errorf("%w: axis must be one of x, y, z, roll, pitch, yaw; got %q", ErrInvalidRequest, r.Axis)
		}
		return positive("hz", r.Hz)
	case RoutineCircleXY, RoutineHeavePitch:
		return positive("hz", r.Hz)
	case RoutineHelix:
		if err := positive("hz", r.Hz); err != nil {
			return err
		}
		if r.ZCycles < 0 {
			return fmt.Errorf("%w: z_cycles must not be negative", ErrInvalidRequest)
		}
	case RoutineLissajous:
		if err := positive("fx", r.Fx); err != nil {
			return err
		}
		return positive("fy", r.Fy)
	case RoutineWobble:
		if err := positive("prec_hz", r.PrecHz); err != nil {
			return err
		}
		if r.YawHz < 0 {
			return fmt.Errorf("%w: yaw_hz must not be negative", ErrInvalidRequest)
		}
	case "":
		return fmt.Errorf("%w: routine is required", ErrInvalidRequest)
	}
	return nil
}

func positive(name string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %g", ErrInvalidRequest, name, v)
	}
	return nil
}
