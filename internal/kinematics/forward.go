package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNonConvergence is returned when pose reconstruction cannot find a pose
// matching the measured lengths.
var ErrNonConvergence = errors.New("pose reconstruction did not converge")

const (
	// maxResidualEvals caps the residual evaluations of one solve. Jacobian
	// evaluations are not counted.
	maxResidualEvals = 200
	// solverTol is used for the cost, step and gradient stopping tests.
	solverTol = 1e-6

	translationBound = 100.0 // mm, x and y
	angleBound       = 30.0  // degrees, roll pitch and yaw

	maxDamping = 1e16
)

// SolverBounds returns the box the reconstruction searches in, ordered
// x, y, z, roll, pitch, yaw. Heave is bounded by the stroke window.
func (g *Geometry) SolverBounds() (lo, hi [6]float64) {
	lo = [6]float64{-translationBound, -translationBound, g.StrokeMin, -angleBound, -angleBound, -angleBound}
	hi = [6]float64{translationBound, translationBound, g.StrokeMax, angleBound, angleBound, angleBound}
	return lo, hi
}

// EstimatePoseFromLengths reconstructs the pose whose inverse kinematics best
// match the measured absolute lengths. The search starts at warm when it is
// given, otherwise at the home pose, and stays inside SolverBounds.
//
// The solver is a projected Levenberg-Marquardt iteration with a central
// difference Jacobian. A failure is reported as ErrNonConvergence.
func (g *Geometry) EstimatePoseFromLengths(measured Lengths, warm *Pose) (Pose, error) {
	for i, l := range measured {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			return Pose{}, fmt.Errorf("%w: length %d is not finite", ErrNonConvergence, i+1)
		}
	}

	lo, hi := g.SolverBounds()
	start := g.Home()
	if warm != nil && warm.IsFinite() {
		start = *warm
	}
	x := project(start.params(), lo, hi)

	residual := func(dst, x []float64) {
		l, _, _ := g.InverseKinematics(poseFromParams(x))
		for i := range l {
			dst[i] = l[i] - measured[i]
		}
	}

	r := make([]float64, NumActuators)
	residual(r, x)
	nfev := 1
	cost := 0.5 * floats.Dot(r, r)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Pose{}, fmt.Errorf("%w: residual is not finite", ErrNonConvergence)
	}

	var (
		lambda   = 1e-3
		jac      = mat.NewDense(NumActuators, 6, nil)
		settings = &fd.JacobianSettings{Formula: fd.Central}
		grad     mat.VecDense
		jtj      mat.Dense
	)
	for nfev < maxResidualEvals {
		fd.Jacobian(jac, residual, x, settings)
		grad.MulVec(jac.T(), mat.NewVecDense(NumActuators, r))
		if mat.Norm(&grad, math.Inf(1)) < solverTol {
			return finishSolve(x)
		}
		jtj.Mul(jac.T(), jac)

		stepped := false
		for nfev < maxResidualEvals {
			var a mat.Dense
			a.CloneFrom(&jtj)
			for i := range 6 {
				d := jtj.At(i, i)
				if d == 0 {
					d = 1
				}
				a.Set(i, i, jtj.At(i, i)+lambda*d)
			}

			var step mat.VecDense
			if err := step.SolveVec(&a, &grad); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) || math.IsInf(float64(cond), 0) {
					lambda *= 10
					if lambda > maxDamping {
						return Pose{}, fmt.Errorf("%w: singular step", ErrNonConvergence)
					}
					continue
				}
			}

			cand := make([]float64, 6)
			for i := range cand {
				cand[i] = x[i] - step.AtVec(i)
			}
			cand = project(cand, lo, hi)
			dx := floats.Distance(cand, x, 2)
			smallStep := dx < solverTol*(solverTol+floats.Norm(x, 2))

			rc := make([]float64, NumActuators)
			residual(rc, cand)
			nfev++
			candCost := 0.5 * floats.Dot(rc, rc)
			if math.IsNaN(candCost) || math.IsInf(candCost, 0) {
				return Pose{}, fmt.Errorf("%w: residual is not finite", ErrNonConvergence)
			}

			if candCost < cost {
				reduction := cost - candCost
				prev := cost
				x, r, cost = cand, rc, candCost
				if reduction < solverTol*prev || smallStep {
					return finishSolve(x)
				}
				lambda = math.Max(lambda/10, 1e-12)
				stepped = true
				break
			}
			if smallStep {
				// The projected step has collapsed onto the current point.
				return finishSolve(x)
			}
			lambda *= 10
			if lambda > maxDamping {
				return Pose{}, fmt.Errorf("%w: no descent direction", ErrNonConvergence)
			}
		}
		if !stepped {
			break
		}
	}
	return Pose{}, fmt.Errorf("%w: exceeded %d residual evaluations", ErrNonConvergence, maxResidualEvals)
}

func finishSolve(x []float64) (Pose, error) {
	p := poseFromParams(x)
	if !p.IsFinite() {
		return Pose{}, fmt.Errorf("%w: solution is not finite", ErrNonConvergence)
	}
	return p, nil
}

func project(x []float64, lo, hi [6]float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = clamp(v, lo[i], hi[i])
	}
	return out
}
