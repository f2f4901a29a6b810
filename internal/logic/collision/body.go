// Package collision checks candidate sub-motions of the two gantries
// against each other, the tank boundary and the sensor under test.
//
// Checkers are cheap values bound to one scenario; build a new one for
// every planning call instead of sharing them.
package collision

import (
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/obstacle"
)

// body is one gantry's outline at a fixed configuration.
type body struct {
	id      geometry.GantryID
	frame   geometry.Polygon
	box     geometry.BoxFootprint
	heights geometry.BoxHeights
}

func bodyOf(m *geometry.Model, id geometry.GantryID, p geometry.AxisPose) body {
	rot, tilt := geometry.Radians(p.Rotation), geometry.Radians(p.Tilt)
	return body{
		id:      id,
		frame:   m.GantryFootprint(id, rot, tilt, p.X, p.Y),
		box:     m.OpticalBoxFootprint(id, rot, tilt, p.X, p.Y),
		heights: m.OpticalBoxZ(id, tilt, p.Z),
	}
}

// Submerged reports whether the optical box of gantry id at p is entirely
// below the tank rim.
func Submerged(m *geometry.Model, tank obstacle.Tank, id geometry.GantryID, p geometry.AxisPose) bool {
	return tank.Submerged(m.OpticalBoxZ(id, geometry.Radians(p.Tilt), p.Z))
}

// sampleSubmerged decides whether sample i of n is treated as submerged.
// The end samples follow their own flag; samples in between are excused
// from the rim check only when both ends are below the rim.
func sampleSubmerged(i, n int, start, end bool) bool {
	switch {
	case n == 1:
		return start && end
	case i == 0:
		return start
	case i == n-1:
		return end
	default:
		return start && end
	}
}
