package collision

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/obstacle"
)

// DefaultAngleIncrement is the sweep step in degrees.
const DefaultAngleIncrement = 1.0

// SweepChecker steps the rotation and tilt of both gantries together at a
// fixed position and checks every intermediate configuration.
type SweepChecker struct {
	model     *geometry.Model
	pmt       *obstacle.Stack
	tank      obstacle.Tank
	increment float64

	hit string
}

// NewSweepChecker returns a checker. incrementDeg <= 0 selects
// DefaultAngleIncrement.
func NewSweepChecker(m *geometry.Model, stack *obstacle.Stack, tank obstacle.Tank, incrementDeg float64) *SweepChecker {
	if incrementDeg <= 0 {
		incrementDeg = DefaultAngleIncrement
	}
	return &SweepChecker{model: m, pmt: stack, tank: tank, increment: incrementDeg}
}

// Hit describes the last collision found, or is empty.
func (s *SweepChecker) Hit() string { return s.hit }

// Steps is the number of increments needed to go from start to end angles.
func (s *SweepChecker) Steps(start, end geometry.Pose) int {
	maxDelta := 0.0
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		a, b := start.Gantry(id), end.Gantry(id)
		maxDelta = math.Max(maxDelta, math.Abs(b.Rotation-a.Rotation))
		maxDelta = math.Max(maxDelta, math.Abs(b.Tilt-a.Tilt))
	}
	return int(math.Ceil(maxDelta / s.increment))
}

// CheckPathForCollisions reports whether both gantries can turn from the
// angles of start to the angles of end, at the XY and depth of start,
// without a collision. Submerged flags are per gantry.
func (s *SweepChecker) CheckPathForCollisions(start, end geometry.Pose, submergedStart, submergedEnd [2]bool) bool {
	s.hit = ""
	steps := s.Steps(start, end)
	fractions := []float64{0}
	if steps > 0 {
		fractions = floats.Span(make([]float64, steps+1), 0, 1)
	}
	n := len(fractions)

	for i, f := range fractions {
		var sample geometry.Pose
		for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
			a, b := start.Gantry(id), end.Gantry(id)
			rot, tilt := b.Rotation, b.Tilt
			if i < n-1 || steps == 0 {
				rot = a.Rotation + (b.Rotation-a.Rotation)*f
				tilt = a.Tilt + (b.Tilt-a.Tilt)*f
			}
			sample = sample.With(id, a.WithAngles(rot, tilt))
		}
		if !s.clear(sample, i, n, submergedStart, submergedEnd) {
			debug.Trace("sweep: %s at step %d/%d (%s)", s.hit, i, steps, sample)
			return false
		}
	}
	return true
}

func (s *SweepChecker) clear(p geometry.Pose, i, n int, submergedStart, submergedEnd [2]bool) bool {
	b0 := bodyOf(s.model, geometry.Gantry0, p.Gantry0)
	b1 := bodyOf(s.model, geometry.Gantry1, p.Gantry1)
	if b0.frame.Intersects(b1.frame) {
		s.hit = "gantry frames collide"
		return false
	}
	for _, b := range []body{b0, b1} {
		if !s.pmt.Clear(b.box, b.heights) {
			s.hit = fmt.Sprintf("%s box hits sensor", b.id)
			return false
		}
		submerged := sampleSubmerged(i, n, submergedStart[b.id], submergedEnd[b.id])
		if !s.tank.AllowsBox(b.box, b.heights, submerged) {
			s.hit = fmt.Sprintf("%s box leaves tank region", b.id)
			return false
		}
		if !s.tank.AllowsFrame(b.frame, submerged) {
			s.hit = fmt.Sprintf("%s frame leaves tank region", b.id)
			return false
		}
	}
	return true
}
