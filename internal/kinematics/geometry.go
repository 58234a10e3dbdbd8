// Package kinematics holds the Stewart platform geometry and converts between
// platform poses and actuator lengths.
package kinematics

import (
	"errors"
	"fmt"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// NumActuators is the number of legs on the platform.
const NumActuators = 6

// ErrInvalidGeometry is returned when a geometry fails validation.
var ErrInvalidGeometry = errors.New("invalid platform geometry")

// Point is an anchor position in millimetres. It encodes as a JSON array of
// three numbers.
type Point [3]float64

// Vec returns the point as a gonum vector.
func (p Point) Vec() r3.Vec { return r3.Vec{X: p[0], Y: p[1], Z: p[2]} }

func pointFromVec(v r3.Vec) Point { return Point{v.X, v.Y, v.Z} }

// Geometry describes a platform: base anchors in the world frame, platform
// anchors in the platform-local frame, the neutral height and the usable
// actuator length window.
type Geometry struct {
	Base       [NumActuators]Point `json:"base_points"`
	Platform   [NumActuators]Point `json:"platform_points"`
	HomeHeight float64             `json:"h0"`
	StrokeMin  float64             `json:"stroke_min"`
	StrokeMax  float64             `json:"stroke_max"`
}

// DefaultGeometry returns the geometry of the reference rig. The home height
// sits mid-stroke so that every leg of the neutral pose is inside the window.
func DefaultGeometry() Geometry {
	return Geometry{
		Base: [NumActuators]Point{
			{305.5, -17, 0},
			{305.5, 17, 0},
			{-137.7, 273.23, 0},
			{-168, 255.7, 0},
			{-167.2, -256.2, 0},
			{-136.8, -273.6, 0},
		},
		Platform: [NumActuators]Point{
			{191.1, -241.5, 0},
			{191.1, 241.5, 0},
			{113.6, 286.2, 0},
			{-304.7, 44.8, 0},
			{-304.7, -44.8, 0},
			{113.1, -286.4, 0},
		},
		HomeHeight: 530,
		StrokeMin:  500,
		StrokeMax:  680,
	}
}

// Validate checks the scalar limits of the geometry.
func (g Geometry) Validate() error {
	if g.StrokeMin <= 0 {
		return fmt.Errorf("%w: stroke_min must be positive, got %g", ErrInvalidGeometry, g.StrokeMin)
	}
	if g.StrokeMax <= g.StrokeMin {
		return fmt.Errorf("%w: stroke_max (%g) must exceed stroke_min (%g)", ErrInvalidGeometry, g.StrokeMax, g.StrokeMin)
	}
	if g.HomeHeight <= 0 {
		return fmt.Errorf("%w: h0 must be positive, got %g", ErrInvalidGeometry, g.HomeHeight)
	}
	return nil
}

// Span is the usable stroke, stroke_max - stroke_min.
func (g Geometry) Span() float64 { return g.StrokeMax - g.StrokeMin }

// Home returns the neutral pose at the home height.
func (g Geometry) Home() Pose { return Pose{Z: g.HomeHeight} }

// Store holds the active geometry. Updates replace the whole value, so a
// reader always observes either the previous or the new geometry.
type Store struct {
	p atomic.Pointer[Geometry]
}

// NewStore returns a Store holding g.
func NewStore(g Geometry) *Store {
	s := &Store{}
	s.p.Store(&g)
	return s
}

// Load returns the current geometry.
func (s *Store) Load() *Geometry { return s.p.Load() }

// Replace validates and installs g.
func (s *Store) Replace(g Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.p.Store(&g)
	return nil
}
