package planner

import (
	"fmt"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

// Ordering is one candidate sequencing of the sub-motions.
type Ordering struct {
	First       geometry.GantryID `json:"first"`        // gantry that translates first
	RotateFirst bool              `json:"rotate_first"` // rotate before translating
	TiltFirst   bool              `json:"tilt_first"`   // tilt before translating
}

func (o Ordering) String() string {
	when := func(b bool) string {
		if b {
			return "before"
		}
		return "after"
	}
	return fmt.Sprintf("%s first, rotate %s, tilt %s", o.First, when(o.RotateFirst), when(o.TiltFirst))
}

// Orderings returns the eight orderings in search priority: gantry 0 first
// before gantry 1 first, then tilt before translation, then rotation before
// translation.
func Orderings() []Ordering {
	out := make([]Ordering, 0, 8)
	for _, first := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		for _, tilt := range []bool{true, false} {
			for _, rot := range []bool{true, false} {
				out = append(out, Ordering{First: first, RotateFirst: rot, TiltFirst: tilt})
			}
		}
	}
	return out
}

// phaseAngles returns the angles of gantry id while translating.
func (o Ordering) phaseAngles(cur, dst geometry.AxisPose) geometry.AxisPose {
	rot, tilt := cur.Rotation, cur.Tilt
	if o.RotateFirst {
		rot = dst.Rotation
	}
	if o.TiltFirst {
		tilt = dst.Tilt
	}
	return cur.WithAngles(rot, tilt)
}
