package geometry

import "math"

// Axis indexes a motor in a waypoint row.
type Axis int

const (
	AxisX0 Axis = iota
	AxisY0
	AxisZ0
	AxisRotation0
	AxisTilt0
	AxisX1
	AxisY1
	AxisZ1
	AxisRotation1
	AxisTilt1

	NumAxes = 10
)

var axisNames = [NumAxes]string{"x0", "y0", "z0", "rot0", "tilt0", "x1", "y1", "z1", "rot1", "tilt1"}

func (a Axis) String() string {
	if a < 0 || int(a) >= NumAxes {
		return "axis?"
	}
	return axisNames[a]
}

// AxisFor returns the five axes of gantry id in X, Y, Z, rotation, tilt order.
func AxisFor(id GantryID) [5]Axis {
	base := Axis(int(id) * 5)
	return [5]Axis{base, base + 1, base + 2, base + 3, base + 4}
}

// Waypoint is one row of motor positions, in counts.
type Waypoint [NumAxes]int

// AxisScale converts a physical axis value (metres or degrees) to motor
// counts: counts = round(value·Scale) + Origin.
type AxisScale struct {
	Scale  float64 // counts per metre or per degree
	Origin int     // counts at the physical zero (set by homing calibration)
}

// ToCounts converts a physical value to motor counts.
func (s AxisScale) ToCounts(v float64) int {
	return int(math.Round(v*s.Scale)) + s.Origin
}

// FromCounts converts motor counts back to a physical value.
func (s AxisScale) FromCounts(c int) float64 {
	return float64(c-s.Origin) / s.Scale
}

// Resolution is the largest rounding error ToCounts can introduce.
func (s AxisScale) Resolution() float64 {
	return 0.5 / math.Abs(s.Scale)
}

// Scales holds the conversion for every axis.
type Scales [NumAxes]AxisScale

func axisValues(a AxisPose) [5]float64 {
	return [5]float64{a.X, a.Y, a.Z, a.Rotation, a.Tilt}
}

// ToWaypoint converts a pose to motor counts.
func (s Scales) ToWaypoint(p Pose) Waypoint {
	var w Waypoint
	for _, id := range []GantryID{Gantry0, Gantry1} {
		vals := axisValues(p.Gantry(id))
		for i, ax := range AxisFor(id) {
			w[ax] = s[ax].ToCounts(vals[i])
		}
	}
	return w
}

// ToPose converts motor counts back to a physical pose.
func (s Scales) ToPose(w Waypoint) Pose {
	var p Pose
	for _, id := range []GantryID{Gantry0, Gantry1} {
		ax := AxisFor(id)
		p = p.With(id, AxisPose{
			X:        s[ax[0]].FromCounts(w[ax[0]]),
			Y:        s[ax[1]].FromCounts(w[ax[1]]),
			Z:        s[ax[2]].FromCounts(w[ax[2]]),
			Rotation: s[ax[3]].FromCounts(w[ax[3]]),
			Tilt:     s[ax[4]].FromCounts(w[ax[4]]),
		})
	}
	return p
}
