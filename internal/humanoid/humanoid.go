// Package humanoid plans pointer movement that looks like a person steering a
// mouse: a curved path, eased speed, Fitts's law timing and a little drift.
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
)

// Config tunes the movement model.
type Config struct {
	// Fitts's law coefficients in milliseconds: MT = FittsA + FittsB*log2(1 + D/W).
	FittsA float64
	FittsB float64
	// TargetWidth is the assumed target size in pixels.
	TargetWidth float64
	// StepsPerSecond sets path resolution.
	StepsPerSecond float64
	MinSteps       int
	MaxSteps       int
	// CurveStrength scales how far control points leave the straight line,
	// as a fraction of the distance.
	CurveStrength float64
	// PerlinAmplitude is the peak drift in pixels applied to intermediate points.
	PerlinAmplitude float64
	// Press hold range.
	MinHold time.Duration
	MaxHold time.Duration
	// Rng overrides the random source, mainly for tests.
	Rng *rand.Rand
}

// DefaultConfig returns settings that produce a 150-900ms move across a
// typical viewport.
func DefaultConfig() Config {
	return Config{
		FittsA:          100,
		FittsB:          150,
		TargetWidth:     30,
		StepsPerSecond:  60,
		MinSteps:        8,
		MaxSteps:        60,
		CurveStrength:   0.25,
		PerlinAmplitude: 1.5,
		MinHold:         60 * time.Millisecond,
		MaxHold:         140 * time.Millisecond,
	}
}

// Step is one pointer position and the pause before moving on.
type Step struct {
	Point Vector2D
	Delay time.Duration
}

// Humanoid tracks the pointer position across moves.
type Humanoid struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
	pos    Vector2D
	// noiseTime advances across moves so drift never repeats.
	noiseTime float64
}

// New creates a Humanoid whose pointer starts at start.
func New(cfg Config, start Vector2D) *Humanoid {
	seed := time.Now().UnixNano()
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	} else {
		seed = rng.Int63()
	}
	if cfg.MinSteps < 2 {
		cfg.MinSteps = 2
	}
	if cfg.MaxSteps < cfg.MinSteps {
		cfg.MaxSteps = cfg.MinSteps
	}
	if cfg.TargetWidth <= 0 {
		cfg.TargetWidth = 30
	}

	// Standard Perlin parameters
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		cfg:    cfg,
		rng:    rng,
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1), // Offset seed for Y noise
		pos:    start,
	}
}

// Position returns the last planned pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// PlanMove returns the steps from the current position to target and records
// target as the new position. The last step lands exactly on target.
func (h *Humanoid) PlanMove(target Vector2D) []Step {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := h.pos
	h.pos = target

	dist := start.Dist(target)
	if dist < 1.0 {
		return []Step{{Point: target}}
	}

	duration := h.fittsDuration(dist)
	numSteps := int(duration.Seconds() * h.cfg.StepsPerSecond)
	if numSteps < h.cfg.MinSteps {
		numSteps = h.cfg.MinSteps
	}
	if numSteps > h.cfg.MaxSteps {
		numSteps = h.cfg.MaxSteps
	}

	path := h.idealPath(start, target, numSteps)
	steps := make([]Step, len(path))
	var elapsed time.Duration
	for i := range path {
		// Apply easing to time to simulate acceleration/deceleration.
		t := float64(i+1) / float64(len(path))
		at := time.Duration(computeEaseInOutCubic(t) * float64(duration))

		point := path[i]
		if i < len(path)-1 {
			point = point.Add(h.drift())
		}
		steps[i] = Step{Point: point, Delay: at - elapsed}
		elapsed = at
	}
	return steps
}

// HoldDuration returns how long to keep a button pressed.
func (h *Humanoid) HoldDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	span := h.cfg.MaxHold - h.cfg.MinHold
	if span <= 0 {
		return h.cfg.MinHold
	}
	return h.cfg.MinHold + time.Duration(h.rng.Int63n(int64(span)))
}

// drift samples Perlin noise for the next point. h.mu must be held.
func (h *Humanoid) drift() Vector2D {
	const frequency = 0.8
	h.noiseTime += 0.05
	return Vector2D{
		X: h.noiseX.Noise1D(h.noiseTime*frequency) * h.cfg.PerlinAmplitude,
		Y: h.noiseY.Noise1D(h.noiseTime*frequency) * h.cfg.PerlinAmplitude,
	}
}
