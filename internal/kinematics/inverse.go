package kinematics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Lengths holds one absolute length per actuator, in millimetres.
type Lengths [NumActuators]float64

// InverseKinematics returns the actuator lengths for pose p, whether all of
// them fall inside the stroke window, and the platform anchors in the world
// frame.
func (g *Geometry) InverseKinematics(p Pose) (Lengths, bool, [NumActuators]Point) {
	var (
		lengths Lengths
		world   [NumActuators]Point
	)
	rot := p.Rotation()
	t := p.Translation()
	for i := range NumActuators {
		w := r3.Add(rot.Rotate(g.Platform[i].Vec()), t)
		world[i] = pointFromVec(w)
		lengths[i] = r3.Norm(r3.Sub(w, g.Base[i].Vec()))
	}
	return lengths, g.Valid(lengths), world
}

// Valid reports whether every length lies in [StrokeMin, StrokeMax].
func (g *Geometry) Valid(lengths Lengths) bool {
	for _, l := range lengths {
		if !g.InWindow(l) {
			return false
		}
	}
	return true
}

// InWindow reports whether a single length is inside the stroke window.
func (g *Geometry) InWindow(l float64) bool {
	return l >= g.StrokeMin && l <= g.StrokeMax
}

// StrokePercentage maps lengths onto 0..100 percent of the usable stroke.
func (g *Geometry) StrokePercentage(lengths Lengths) [NumActuators]float64 {
	var out [NumActuators]float64
	span := g.Span()
	for i, l := range lengths {
		out[i] = clamp((l-g.StrokeMin)/span*100, 0, 100)
	}
	return out
}

// LengthsToStroke converts absolute lengths into the per-actuator stroke
// setpoint in millimetres, clamped to [0, span].
func (g *Geometry) LengthsToStroke(lengths Lengths) [NumActuators]float64 {
	var out [NumActuators]float64
	span := g.Span()
	for i, l := range lengths {
		out[i] = clamp(l-g.StrokeMin, 0, span)
	}
	return out
}

// StrokeToLengths converts measured strokes into absolute lengths.
func (g *Geometry) StrokeToLengths(strokes [NumActuators]float64) Lengths {
	var out Lengths
	for i, s := range strokes {
		out[i] = s + g.StrokeMin
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
