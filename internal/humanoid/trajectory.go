package humanoid

import (
	"math"
	"time"
)

// computeEaseInOutCubic provides a smooth acceleration and deceleration profile for movement.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration determines a realistic movement duration based on Fitts's Law,
// which models the time required to move to a target area. h.mu must be held.
func (h *Humanoid) fittsDuration(distance float64) time.Duration {
	// Index of Difficulty (ID)
	id := math.Log2(1.0 + distance/h.cfg.TargetWidth)

	// Movement Time (MT) in milliseconds
	mt := h.cfg.FittsA + h.cfg.FittsB*id

	// Add slight randomization (+/- 15%)
	mt += mt * (h.rng.Float64()*0.3 - 0.15)

	return time.Duration(mt * float64(time.Millisecond))
}

// idealPath samples a cubic Bezier curve from start to end whose control
// points sit off the straight line on random sides. The last point is end.
// h.mu must be held.
func (h *Humanoid) idealPath(start, end Vector2D, numSteps int) []Vector2D {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	mainDir := mainVec.Normalize()
	normal := mainDir.Perp()

	bend := func() float64 {
		return (h.rng.Float64()*2 - 1) * h.cfg.CurveStrength * dist
	}
	p0, p3 := start, end
	p1 := start.Add(mainDir.Mul(dist / 3.0)).Add(normal.Mul(bend()))
	p2 := start.Add(mainDir.Mul(dist * 2.0 / 3.0)).Add(normal.Mul(bend()))

	path := make([]Vector2D, numSteps)
	for i := 1; i <= numSteps; i++ {
		t := float64(i) / float64(numSteps)
		// Cubic Bezier curve formula.
		omt := 1.0 - t
		omt2 := omt * omt
		omt3 := omt2 * omt
		t2 := t * t
		t3 := t2 * t

		path[i-1] = p0.Mul(omt3).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t3))
	}
	path[numSteps-1] = end
	return path
}
