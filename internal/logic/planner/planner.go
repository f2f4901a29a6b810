// Package planner decides whether a requested move of both gantries is
// legal and, if so, in which order the sub-motions must run so that no
// gantry touches the other, the tank or the sensor.
//
// The search is bounded: Z is handled by a fixed heuristic (withdraw
// first, descend last) and the remaining freedom is eight orderings,
// tried in a fixed priority. The first ordering whose every sub-motion is
// collision free wins.
package planner

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/logic/collision"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/obstacle"
)

// Limits are the joint limits shared by both gantries.
type Limits struct {
	RotationMin float64 `json:"rotation_min"` // degrees
	RotationMax float64 `json:"rotation_max"`
	TiltMin     float64 `json:"tilt_min"`
	TiltMax     float64 `json:"tilt_max"`
	ZMin        float64 `json:"z_min"` // metres of depth
	ZMax        float64 `json:"z_max"`
	BeamMargin  float64 `json:"beam_margin"` // minimum gap gantry1.x - gantry0.x
}

// Travel bounds the horizontal position of one gantry.
type Travel struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Settings is everything the planner reads. It is built once at start-up
// and never modified.
type Settings struct {
	Model          *geometry.Model
	PMT            *obstacle.Stack
	Tank           obstacle.Tank
	Scales         geometry.Scales
	Limits         Limits
	Travel         [2]Travel
	SegmentStep    float64 // metres between translation samples
	AngleIncrement float64 // degrees between sweep samples
}

// Planner plans moves. It holds no mutable state, so one value can serve
// concurrent callers.
type Planner struct {
	s Settings
}

// New returns a planner over s.
func New(s Settings) *Planner {
	return &Planner{s: s}
}

// Scales returns the count conversion used for waypoint rows.
func (p *Planner) Scales() geometry.Scales { return p.s.Scales }

// Validate checks dest against the joint limits, the travel range and the
// beam non-crossing rule.
func (p *Planner) Validate(dest geometry.Pose) error {
	l := p.s.Limits
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		a := dest.Gantry(id)
		t := p.s.Travel[id]
		switch {
		case !a.Finite():
			return badDestination("%s pose has non-finite coordinates", id)
		case a.Rotation < l.RotationMin || a.Rotation > l.RotationMax:
			return badDestination("%s rotation %.1f° outside [%.1f, %.1f]", id, a.Rotation, l.RotationMin, l.RotationMax)
		case a.Tilt < l.TiltMin || a.Tilt > l.TiltMax:
			return badDestination("%s tilt %.1f° outside [%.1f, %.1f]", id, a.Tilt, l.TiltMin, l.TiltMax)
		case a.Z < l.ZMin || a.Z > l.ZMax:
			return badDestination("%s z %.3f outside [%.3f, %.3f]", id, a.Z, l.ZMin, l.ZMax)
		case a.X < t.XMin || a.X > t.XMax:
			return badDestination("%s x %.3f outside [%.3f, %.3f]", id, a.X, t.XMin, t.XMax)
		case a.Y < t.YMin || a.Y > t.YMax:
			return badDestination("%s y %.3f outside [%.3f, %.3f]", id, a.Y, t.YMin, t.YMax)
		}
	}
	if !p.beamClear(dest) {
		return badDestination("beams cross: gantry0 x %.3f + margin %.3f >= gantry1 x %.3f",
			dest.Gantry0.X, l.BeamMargin, dest.Gantry1.X)
	}
	return nil
}

func badDestination(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (p *Planner) beamClear(pose geometry.Pose) bool {
	return pose.Gantry0.X+p.s.Limits.BeamMargin < pose.Gantry1.X
}

// Plan validates dest and searches the orderings for a collision-free way
// from current to dest. Every error it returns matches ErrBadDestination.
func (p *Planner) Plan(current, dest geometry.Pose) (*MotionPlan, error) {
	debug.Section("Planning move")
	debug.Verbose("from %s", current)
	debug.Verbose("to   %s", dest)

	if !current.Gantry0.Finite() || !current.Gantry1.Finite() {
		return nil, badDestination("current pose has non-finite coordinates")
	}
	if err := p.Validate(dest); err != nil {
		debug.Info("Plan rejected: %v", err)
		return nil, err
	}

	for i, o := range Orderings() {
		rows, ok := p.evaluate(o, current, dest)
		debug.Step(i+1, fmt.Sprintf("%s: clear=%v", o, ok))
		if ok {
			plan := p.assemble(o, current, dest, rows)
			debug.Info("Plan accepted: %s, %d rows", o, plan.Len())
			return plan, nil
		}
	}
	err := errors.WithMessagef(ErrNoCollisionFreePath, "%d orderings tried", len(Orderings()))
	debug.Info("Plan rejected: %v", err)
	return nil, err
}

// withdrawDepth is the depth gantry a holds during horizontal motion:
// the destination depth when withdrawing, the current depth otherwise.
func withdrawDepth(cur, dst geometry.AxisPose) float64 {
	return math.Min(cur.Z, dst.Z)
}

func (p *Planner) submerged(pose geometry.Pose) [2]bool {
	return [2]bool{
		collision.Submerged(p.s.Model, p.s.Tank, geometry.Gantry0, pose.Gantry0),
		collision.Submerged(p.s.Model, p.s.Tank, geometry.Gantry1, pose.Gantry1),
	}
}

// evaluate runs every check of ordering o and returns the intermediate
// poses: current, Z withdrawn, pre-translation angles, first gantry moved,
// second gantry moved, final angles, destination.
//
// Both Z ramps (withdrawal and final descent) are sampled along their
// length: below the sensor equator the layers narrow again, so a clear
// pair of ends says nothing about the depths in between.
func (p *Planner) evaluate(o Ordering, cur, dst geometry.Pose) ([]geometry.Pose, bool) {
	a, b := o.First, o.First.Other()

	var s0, s1, s4 geometry.Pose
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		c, d := cur.Gantry(id), dst.Gantry(id)
		w := c.WithZ(withdrawDepth(c, d))
		s0 = s0.With(id, w)
		s1 = s1.With(id, o.phaseAngles(w, d))
		s4 = s4.With(id, d.WithZ(w.Z))
	}
	if !p.ramp(o, "withdrawal", cur, s0) || !p.ramp(o, "descent", s4, dst) {
		return nil, false
	}

	sweep := collision.NewSweepChecker(p.s.Model, p.s.PMT, p.s.Tank, p.s.AngleIncrement)
	if !sweep.CheckPathForCollisions(s0, s1, p.submerged(s0), p.submerged(s1)) {
		debug.Verbose("%s: pre-translation sweep: %s", o, sweep.Hit())
		return nil, false
	}

	s2 := s1.With(a, s1.Gantry(a).WithXY(dst.Gantry(a).X, dst.Gantry(a).Y))
	if !p.translate(o, a, s1, s2) {
		return nil, false
	}
	s3 := s2.With(b, s2.Gantry(b).WithXY(dst.Gantry(b).X, dst.Gantry(b).Y))
	if !p.translate(o, b, s2, s3) {
		return nil, false
	}

	if !sweep.CheckPathForCollisions(s3, s4, p.submerged(s3), p.submerged(s4)) {
		debug.Verbose("%s: final sweep: %s", o, sweep.Hit())
		return nil, false
	}

	sub := p.submerged(dst)
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		seg := collision.NewSegmentChecker(p.s.Model, p.s.Tank, p.s.SegmentStep)
		seg.Bind(id.Other(), dst.Gantry(id.Other()), p.s.PMT)
		if !seg.CheckDestination(id, dst.Gantry(id), sub[id]) {
			debug.Verbose("%s: destination: %s", o, seg.Hit())
			return nil, false
		}
	}

	rows := []geometry.Pose{cur, s0, s1, s2, s3, s4, dst}
	for _, r := range rows[1:] {
		if !p.beamClear(r) {
			debug.Verbose("%s: beams cross at %s", o, r)
			return nil, false
		}
	}
	return rows, true
}

// ramp checks the vertical moves of both gantries from the depths in from
// to the depths in to, at the XY and angles of from.
func (p *Planner) ramp(o Ordering, name string, from, to geometry.Pose) bool {
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		seg := collision.NewSegmentChecker(p.s.Model, p.s.Tank, p.s.SegmentStep)
		seg.InitialisePMT(p.s.PMT)
		if !seg.CheckDepthRamp(id, from.Gantry(id), to.Gantry(id).Z) {
			debug.Verbose("%s: %s %s: %s", o, id, name, seg.Hit())
			return false
		}
	}
	return true
}

// translate checks gantry id moving from its XY in from to its XY in to,
// with the other gantry standing at its pose in from.
func (p *Planner) translate(o Ordering, id geometry.GantryID, from, to geometry.Pose) bool {
	seg := collision.NewSegmentChecker(p.s.Model, p.s.Tank, p.s.SegmentStep)
	seg.Bind(id.Other(), from.Gantry(id.Other()), p.s.PMT)
	sub := [2]bool{p.submerged(from)[id], p.submerged(to)[id]}
	if !seg.CalculatePath(id, from.Gantry(id), to.Gantry(id), sub[0], sub[1]) {
		debug.Verbose("%s: %s translation: %s", o, id, seg.Hit())
		return false
	}
	return true
}

// assemble converts the evaluated poses to the waypoint table, dropping
// rows that do not change any motor position.
func (p *Planner) assemble(o Ordering, cur, dst geometry.Pose, rows []geometry.Pose) *MotionPlan {
	plan := &MotionPlan{
		GantryFirst:           o.First,
		RotateBeforeTranslate: o.RotateFirst,
		TiltBeforeTranslate:   o.TiltFirst,
		Z0First:               dst.Gantry0.Z < cur.Gantry0.Z,
		Z1First:               dst.Gantry1.Z < cur.Gantry1.Z,
	}
	for _, r := range rows {
		w := p.s.Scales.ToWaypoint(r)
		if n := len(plan.Steps); n > 0 && plan.Steps[n-1] == w {
			plan.Poses[n-1] = r
			continue
		}
		plan.Poses = append(plan.Poses, r)
		plan.Steps = append(plan.Steps, w)
	}
	return plan
}
