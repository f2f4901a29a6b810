package collision

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/obstacle"
)

// DefaultSegmentStep is the sample spacing along a translation (metres).
const DefaultSegmentStep = 0.005

// SegmentChecker tests a straight XY translation of one gantry while the
// other gantry stays put. Bind it to a scenario with InitialiseGantries,
// InitialiseOpticalBoxes and InitialisePMT before querying.
type SegmentChecker struct {
	model *geometry.Model
	tank  obstacle.Tank
	step  float64

	stationaryFrame  geometry.Polygon
	stationaryBox    geometry.BoxFootprint
	stationaryHull   geometry.Polygon
	stationaryLayers [2]geometry.Polygon // lower, upper; nil above the sensor
	pmt              *obstacle.Stack

	hit string
}

// NewSegmentChecker returns an unbound checker. step <= 0 selects
// DefaultSegmentStep.
func NewSegmentChecker(m *geometry.Model, tank obstacle.Tank, step float64) *SegmentChecker {
	if step <= 0 {
		step = DefaultSegmentStep
	}
	return &SegmentChecker{model: m, tank: tank, step: step}
}

// InitialiseGantries binds the footprint of the stationary gantry.
func (c *SegmentChecker) InitialiseGantries(stationary geometry.Polygon) {
	c.stationaryFrame = stationary
}

// InitialiseOpticalBoxes binds the stationary box faces and the sensor
// layers at their depths (nil when a face is above the sensor).
func (c *SegmentChecker) InitialiseOpticalBoxes(lower, upper, layerLower, layerUpper geometry.Polygon) {
	c.stationaryBox = geometry.BoxFootprint{Lower: lower, Upper: upper}
	c.stationaryHull = c.stationaryBox.Hull()
	c.stationaryLayers = [2]geometry.Polygon{layerLower, layerUpper}
}

// InitialisePMT binds the sensor layer stack used for the moving box.
func (c *SegmentChecker) InitialisePMT(stack *obstacle.Stack) {
	c.pmt = stack
}

// Bind runs the three initialisers for gantry id standing at p.
func (c *SegmentChecker) Bind(id geometry.GantryID, p geometry.AxisPose, stack *obstacle.Stack) {
	b := bodyOf(c.model, id, p)
	c.InitialisePMT(stack)
	c.InitialiseGantries(b.frame)
	lo, _ := stack.LayerAt(b.heights.Lower)
	up, _ := stack.LayerAt(b.heights.Upper)
	c.InitialiseOpticalBoxes(b.box.Lower, b.box.Upper, lo, up)
}

// Hit describes the last collision found, or is empty.
func (c *SegmentChecker) Hit() string { return c.hit }

// CalculatePath reports whether gantry id can translate in a straight line
// from the XY of from to the XY of to, holding the depth, rotation and tilt
// of from. It stops at the first colliding sample.
func (c *SegmentChecker) CalculatePath(id geometry.GantryID, from, to geometry.AxisPose, submergedStart, submergedEnd bool) bool {
	c.hit = ""
	start := r2.Point{X: from.X, Y: from.Y}
	end := r2.Point{X: to.X, Y: to.Y}

	n := int(math.Ceil(end.Sub(start).Norm()/c.step)) + 1
	if n < 2 {
		return c.clear(bodyOf(c.model, id, from), submergedStart && submergedEnd)
	}
	fractions := floats.Span(make([]float64, n), 0, 1)
	for i, f := range fractions {
		p := start.Add(end.Sub(start).Mul(f))
		mv := bodyOf(c.model, id, from.WithXY(p.X, p.Y))
		if !c.clear(mv, sampleSubmerged(i, n, submergedStart, submergedEnd)) {
			debug.Trace("segment %s: %s at (%.4f, %.4f), sample %d/%d", id, c.hit, p.X, p.Y, i+1, n)
			return false
		}
	}
	return true
}

// CheckDestination is the single-point case: gantry id resting at p,
// including the stationary box against the sensor.
func (c *SegmentChecker) CheckDestination(id geometry.GantryID, p geometry.AxisPose, submerged bool) bool {
	c.hit = ""
	if !c.clear(bodyOf(c.model, id, p), submerged) {
		debug.Trace("destination %s: %s", id, c.hit)
		return false
	}
	if c.stationaryLayers[0] != nil && c.stationaryBox.Lower.Intersects(c.stationaryLayers[0]) {
		c.hit = fmt.Sprintf("%s box lower face hits sensor", id.Other())
		return false
	}
	if c.stationaryLayers[1] != nil && c.stationaryBox.Upper.Intersects(c.stationaryLayers[1]) {
		c.hit = fmt.Sprintf("%s box upper face hits sensor", id.Other())
		return false
	}
	return true
}

// CheckDepthRamp reports whether gantry id can move vertically from p to
// depth z, holding the XY and angles of p. Outlines do not change with
// depth, so only the sensor and the tank are checked, at every sample and
// with the rim rule evaluated per sample.
func (c *SegmentChecker) CheckDepthRamp(id geometry.GantryID, p geometry.AxisPose, z float64) bool {
	c.hit = ""
	if z == p.Z {
		return true
	}
	n := max(int(math.Ceil(math.Abs(z-p.Z)/c.step))+1, 2)
	for _, f := range floats.Span(make([]float64, n), 0, 1) {
		mv := bodyOf(c.model, id, p.WithZ(p.Z+(z-p.Z)*f))
		if !c.clearObstacles(mv, c.tank.Submerged(mv.heights)) {
			debug.Trace("ramp %s: %s at z %.4f", id, c.hit, p.Z+(z-p.Z)*f)
			return false
		}
	}
	return true
}

func (c *SegmentChecker) clear(mv body, submerged bool) bool {
	switch {
	case mv.frame.Intersects(c.stationaryFrame):
		c.hit = fmt.Sprintf("%s frame hits %s frame", mv.id, mv.id.Other())
	case mv.box.Hull().Intersects(c.stationaryHull):
		c.hit = fmt.Sprintf("%s box hits %s box", mv.id, mv.id.Other())
	default:
		return c.clearObstacles(mv, submerged)
	}
	return false
}

func (c *SegmentChecker) clearObstacles(mv body, submerged bool) bool {
	switch {
	case c.pmt != nil && !c.pmt.Clear(mv.box, mv.heights):
		c.hit = fmt.Sprintf("%s box hits sensor", mv.id)
	case !c.tank.AllowsBox(mv.box, mv.heights, submerged):
		c.hit = fmt.Sprintf("%s box leaves tank region", mv.id)
	case !c.tank.AllowsFrame(mv.frame, submerged):
		c.hit = fmt.Sprintf("%s frame leaves tank region", mv.id)
	default:
		return true
	}
	return false
}
