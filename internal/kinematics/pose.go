package kinematics

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a platform pose. Translations are in millimetres, angles are in
// degrees and apply as intrinsic yaw, then pitch, then roll
// (R = Rz(yaw)·Ry(pitch)·Rx(roll)).
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// PoseRequest is a pose as supplied by a client; a missing z means the
// geometry home height.
type PoseRequest struct {
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Z     *float64 `json:"z,omitempty"`
	Roll  float64  `json:"roll"`
	Pitch float64  `json:"pitch"`
	Yaw   float64  `json:"yaw"`
}

// Resolve fills in the default height from g.
func (r PoseRequest) Resolve(g *Geometry) Pose {
	z := g.HomeHeight
	if r.Z != nil {
		z = *r.Z
	}
	return Pose{X: r.X, Y: r.Y, Z: z, Roll: r.Roll, Pitch: r.Pitch, Yaw: r.Yaw}
}

func (p Pose) params() []float64 {
	return []float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

func poseFromParams(x []float64) Pose {
	return Pose{X: x[0], Y: x[1], Z: x[2], Roll: x[3], Pitch: x[4], Yaw: x[5]}
}

// IsFinite reports whether every component is a finite number.
func (p Pose) IsFinite() bool {
	for _, v := range p.params() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var (
	axisX = r3.Vec{X: 1}
	axisY = r3.Vec{Y: 1}
	axisZ = r3.Vec{Z: 1}
)

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

// Rotation returns the orientation of p as a rotation.
func (p Pose) Rotation() r3.Rotation {
	qz := quat.Number(r3.NewRotation(deg2rad(p.Yaw), axisZ))
	qy := quat.Number(r3.NewRotation(deg2rad(p.Pitch), axisY))
	qx := quat.Number(r3.NewRotation(deg2rad(p.Roll), axisX))
	return r3.Rotation(quat.Mul(quat.Mul(qz, qy), qx))
}

// Translation returns the position of the platform origin.
func (p Pose) Translation() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }
