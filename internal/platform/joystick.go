package platform

import (
	"context"
	"math"

	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/motion"
)

const (
	// joystickDeadZone zeroes stick deflections smaller than this.
	joystickDeadZone = 0.05
	joystickMM       = 10.0 // full deflection in x and y
	joystickDeg      = 10.0 // full deflection in roll and pitch
)

// JoystickInput is one gamepad sample. Stick axes are in [-1, 1]; larger
// values are clamped.
type JoystickInput struct {
	LX    float64  `json:"lx"`
	LY    float64  `json:"ly"`
	RX    float64  `json:"rx"`
	RY    float64  `json:"ry"`
	Apply bool     `json:"apply"`
	ZBase *float64 `json:"z_base,omitempty"`
}

// JoystickResult reports the pose a sample maps to.
type JoystickResult struct {
	Valid      bool                             `json:"valid"`
	Applied    bool                             `json:"applied"`
	Pose       kinematics.Pose                  `json:"pose"`
	LengthsAbs kinematics.Lengths               `json:"lengths_abs"`
	CourseMM   [kinematics.NumActuators]float64 `json:"course_mm"`
}

func stick(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	if math.Abs(v) < joystickDeadZone {
		return 0
	}
	return v
}

// JoystickPose maps the left stick to x and y and the right stick to pitch
// and roll around the home height (or z_base). Stick up is +y and stick
// right is +pitch. When Apply is set and the pose is reachable the strokes
// are transmitted, unless a routine is running.
func (p *Platform) JoystickPose(ctx context.Context, in JoystickInput) (JoystickResult, error) {
	g := p.Geometry.Load()
	pose := kinematics.Pose{
		X:     joystickMM * stick(in.LX),
		Y:     -joystickMM * stick(in.LY),
		Z:     g.HomeHeight,
		Pitch: joystickDeg * stick(in.RX),
		Roll:  -joystickDeg * stick(in.RY),
	}
	if in.ZBase != nil {
		pose.Z = *in.ZBase
	}

	lengths, valid, _ := g.InverseKinematics(pose)
	res := JoystickResult{
		Valid:      valid,
		Pose:       pose,
		LengthsAbs: lengths,
		CourseMM:   g.LengthsToStroke(lengths),
	}
	if !in.Apply || !valid {
		return res, nil
	}
	if st := p.Runner.Status(); st.State != motion.StateIdle {
		return res, motion.ErrAlreadyRunning
	}
	applied, err := p.apply(ctx, g, pose)
	if err != nil {
		return res, err
	}
	res.Applied = applied.Applied
	return res, nil
}
