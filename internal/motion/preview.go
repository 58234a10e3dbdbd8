package motion

import (
	"fmt"
	"math"

	"github.com/banshee-data/stewart/internal/kinematics"
)

// maxPreviewSamples bounds the size of one preview.
const maxPreviewSamples = 10000

// Sample is one point of a previewed trajectory.
type Sample struct {
	T       float64            `json:"t"`
	Pose    kinematics.Pose    `json:"pose"`
	Lengths kinematics.Lengths `json:"lengths"`
	Valid   bool               `json:"valid"`
}

// Preview samples the clamped trajectory of req every step seconds without
// transmitting anything. The step is widened when the run would need more
// than maxPreviewSamples points.
func Preview(g *kinematics.Geometry, req Request, step float64) ([]Sample, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if step <= 0 || math.IsNaN(step) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("%w: step must be positive", ErrInvalidRequest)
	}
	if n := req.DurationS / step; n > maxPreviewSamples {
		step = req.DurationS / maxPreviewSamples
	}

	env := Calibrate(g)
	n := int(math.Floor(req.DurationS/step)) + 1
	out := make([]Sample, 0, n+1)
	for i := range n {
		out = append(out, previewAt(g, env, req, float64(i)*step))
	}
	if last := out[len(out)-1].T; last < req.DurationS {
		out = append(out, previewAt(g, env, req, req.DurationS))
	}
	return out, nil
}

func previewAt(g *kinematics.Geometry, env Envelope, req Request, t float64) Sample {
	pose := env.Clamp(Generate(req, t, Ramp(t, req.DurationS), g.HomeHeight))
	lengths, valid, _ := g.InverseKinematics(pose)
	return Sample{T: t, Pose: pose, Lengths: lengths, Valid: valid}
}

// Preview samples req against the current geometry.
func (r *Runner) Preview(req Request, step float64) ([]Sample, error) {
	return Preview(r.geometry.Load(), req, step)
}
