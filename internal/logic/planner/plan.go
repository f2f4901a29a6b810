package planner

import (
	"fmt"
	"strings"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

// MotionPlan is an accepted move: the ordering that passed every check and
// the waypoint table realizing it. Steps[0] is the current pose and the
// last row is the destination; consecutive rows always differ.
type MotionPlan struct {
	GantryFirst           geometry.GantryID `json:"gantry_first"`
	RotateBeforeTranslate bool              `json:"rotate_before_translate"`
	TiltBeforeTranslate   bool              `json:"tilt_before_translate"`
	Z0First               bool              `json:"z0_first"`
	Z1First               bool              `json:"z1_first"`

	Poses []geometry.Pose      `json:"poses"`
	Steps []geometry.Waypoint `json:"steps"`
}

// Ordering returns the ordering the plan was built from.
func (p *MotionPlan) Ordering() Ordering {
	return Ordering{First: p.GantryFirst, RotateFirst: p.RotateBeforeTranslate, TiltFirst: p.TiltBeforeTranslate}
}

// Len is the number of waypoint rows.
func (p *MotionPlan) Len() int { return len(p.Steps) }

// Last returns the final row.
func (p *MotionPlan) Last() geometry.Waypoint { return p.Steps[len(p.Steps)-1] }

// Axis returns the column of one axis, i.e. waypoints[axis][step].
func (p *MotionPlan) Axis(a geometry.Axis) []int {
	col := make([]int, len(p.Steps))
	for i, row := range p.Steps {
		col[i] = row[a]
	}
	return col
}

// String renders the table, one row per line.
func (p *MotionPlan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, z0 first=%v, z1 first=%v\n", p.Ordering(), p.Z0First, p.Z1First)
	b.WriteString("row")
	for a := geometry.Axis(0); a < geometry.NumAxes; a++ {
		fmt.Fprintf(&b, "\t%s", a)
	}
	b.WriteByte('\n')
	for i, row := range p.Steps {
		fmt.Fprintf(&b, "%d", i)
		for _, v := range row {
			fmt.Fprintf(&b, "\t%d", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
