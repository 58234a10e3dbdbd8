package motion

import (
	"math"

	"github.com/banshee-data/stewart/internal/kinematics"
)

// maxRampWindow caps the ease-in and ease-out time, in seconds.
const maxRampWindow = 2.0

// Ramp returns the amplitude factor at t seconds into a run of duration
// seconds: a half-cosine rise over the ramp window, 1 in the interior, and a
// mirrored fall. The window is min(2 s, 20% of the duration).
func Ramp(t, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	t = clamp(t, 0, duration)
	tr := math.Min(maxRampWindow, 0.2*duration)
	switch {
	case t < tr:
		return 0.5 * (1 - math.Cos(math.Pi*t/tr))
	case t > duration-tr:
		return 0.5 * (1 - math.Cos(math.Pi*(duration-t)/tr))
	}
	return 1
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Generate returns the unclamped pose of routine r at t seconds with amplitude
// factor ramp, about the home height h0. Unknown routines hold the home pose.
func Generate(r Request, t, ramp, h0 float64) kinematics.Pose {
	p := kinematics.Pose{Z: h0}
	switch r.Routine {
	case RoutineSineAxis:
		v := ramp * r.Amp * math.Sin(2*math.Pi*r.Hz*t+rad(r.PhaseDeg))
		switch r.Axis {
		case "x":
			p.X = v
		case "y":
			p.Y = v
		case "z":
			p.Z = h0 + v
		case "roll":
			p.Roll = v
		case "pitch":
			p.Pitch = v
		case "yaw":
			p.Yaw = v
		}

	case RoutineCircleXY:
		w := 2*math.Pi*r.Hz*t + rad(r.PhaseDeg)
		p.X = ramp * r.Ax * math.Cos(w)
		p.Y = ramp * r.Ay * math.Sin(w)

	case RoutineLissajous:
		p.X = ramp * r.Ax * math.Sin(2*math.Pi*r.Fx*t+rad(r.Phx))
		p.Y = ramp * r.Ay * math.Sin(2*math.Pi*r.Fy*t+rad(r.Phy))

	case RoutineHelix:
		p = helix(r, t, ramp, h0)

	case RoutineHeavePitch:
		w := 2*math.Pi*r.Hz*t + rad(r.PhaseDeg)
		p.Z = h0 + ramp*r.Amp*math.Sin(w)
		p.Pitch = ramp * r.Ay * math.Sin(w+math.Pi/2)

	case RoutineWobble:
		// The tilt magnitude is constant apart from the ramp; only the
		// azimuth phi precesses.
		theta := ramp * (r.TiltDeg + r.TiltBiasDeg)
		phi := 2 * math.Pi * r.PrecHz * t
		p.Roll = theta * math.Cos(phi)
		p.Pitch = theta * math.Sin(phi)
		p.Yaw = ramp * 360 * r.YawHz * t
		p.Z = h0 + ramp*r.ZAmpMM*math.Sin(phi+rad(r.ZPhaseDeg))
	}
	return p
}

// helix climbs through one z cycle while turning forward and descends while
// turning back, so the rotation unwinds every cycle. z_cycles is the number
// of z cycles per revolution at hz; zero means one.
func helix(r Request, t, ramp, h0 float64) kinematics.Pose {
	cycles := r.ZCycles
	if cycles == 0 {
		cycles = 1
	}
	fz := r.Hz * cycles
	s := math.Mod(fz*t, 1)

	// k rises 0..1 over the first half of the cycle and falls back over the
	// second.
	k := 2 * s
	if s >= 0.5 {
		k = 2 - 2*s
	}
	angle := math.Pi * k / cycles

	return kinematics.Pose{
		X: ramp * r.Ax * math.Cos(angle),
		Y: ramp * r.Ay * math.Sin(angle),
		Z: h0 + ramp*r.ZAmpMM*(2*k-1),
	}
}
