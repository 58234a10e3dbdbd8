package motion

import (
	"math"

	"github.com/banshee-data/stewart/internal/kinematics"
)

const (
	// SafetyMargin is kept between the calibrated envelope and the stroke
	// limits, in mm.
	SafetyMargin = 5.0
	// StaticBand is the heave range either side of home used when the home
	// pose cannot be calibrated.
	StaticBand = 30.0

	maxTranslation = 50.0 // mm, x and y
	maxAngle       = 15.0 // degrees
)

// Envelope bounds the commanded heave for one run.
type Envelope struct {
	ZMin       float64 `json:"z_min"`
	ZMax       float64 `json:"z_max"`
	Calibrated bool    `json:"calibrated"`
}

// StaticEnvelope is the fallback band around the home height.
func StaticEnvelope(g *kinematics.Geometry) Envelope {
	return Envelope{ZMin: g.HomeHeight - StaticBand, ZMax: g.HomeHeight + StaticBand}
}

// Calibrate derives the heave envelope from the leg clearances at the home
// pose: the shortest remaining extension bounds upward travel, the shortest
// remaining retraction bounds downward travel.
func Calibrate(g *kinematics.Geometry) Envelope {
	lengths, valid, _ := g.InverseKinematics(g.Home())
	if !valid {
		return StaticEnvelope(g)
	}
	up, down := math.Inf(1), math.Inf(1)
	for _, l := range lengths {
		up = math.Min(up, g.StrokeMax-l)
		down = math.Min(down, l-g.StrokeMin)
	}
	up -= SafetyMargin
	down -= SafetyMargin
	if up <= 0 || down <= 0 {
		return StaticEnvelope(g)
	}
	return Envelope{ZMin: g.HomeHeight - down, ZMax: g.HomeHeight + up, Calibrated: true}
}

// Clamp limits p to the travel allowed during a routine.
func (e Envelope) Clamp(p kinematics.Pose) kinematics.Pose {
	p.X = clamp(p.X, -maxTranslation, maxTranslation)
	p.Y = clamp(p.Y, -maxTranslation, maxTranslation)
	p.Z = clamp(p.Z, e.ZMin, e.ZMax)
	p.Roll = clamp(p.Roll, -maxAngle, maxAngle)
	p.Pitch = clamp(p.Pitch, -maxAngle, maxAngle)
	p.Yaw = clamp(p.Yaw, -maxAngle, maxAngle)
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
