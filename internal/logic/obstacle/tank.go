package obstacle

import (
	"github.com/golang/geo/r2"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

// Tank is the horizontal exclusion boundary of the water tank.
//
// A box that is not fully below the rim must stay within Radius of the
// centre. Once below the rim, only the holder ring near the bottom limits
// travel: deeper than HolderDepth the box must stay within HolderRadius.
type Tank struct {
	Center       r2.Point
	Radius       float64
	HolderRadius float64
	HolderDepth  float64
	RimDepth     float64
}

// Submerged reports whether the whole box is below the tank rim, i.e. its
// shallowest point is deeper than the rim.
func (t Tank) Submerged(h geometry.BoxHeights) bool {
	return h.Top > t.RimDepth
}

// Allows reports whether a box face whose deepest point is at depth is
// inside the legal region.
func (t Tank) Allows(face geometry.Polygon, depth float64, submerged bool) bool {
	if !submerged {
		return face.WithinRadius(t.Center, t.Radius)
	}
	if depth > t.HolderDepth {
		return face.WithinRadius(t.Center, t.HolderRadius)
	}
	return true
}

// AllowsFrame reports whether a gantry carriage outline is inside the tank
// radius. Below the rim the carriage is not checked.
func (t Tank) AllowsFrame(frame geometry.Polygon, submerged bool) bool {
	return submerged || frame.WithinRadius(t.Center, t.Radius)
}

// AllowsBox applies Allows to both faces of a box.
func (t Tank) AllowsBox(box geometry.BoxFootprint, h geometry.BoxHeights, submerged bool) bool {
	return t.Allows(box.Lower, h.Lower, submerged) && t.Allows(box.Upper, h.Upper, submerged)
}
