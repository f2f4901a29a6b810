package geometry

import (
	"fmt"
	"math"
)

// GantryID identifies one of the two gantries sharing the rail.
// Gantry 1 is mounted mirrored (180°) relative to gantry 0.
type GantryID int

const (
	Gantry0 GantryID = iota
	Gantry1
)

// Other returns the gantry that is not g.
func (g GantryID) Other() GantryID {
	if g == Gantry0 {
		return Gantry1
	}
	return Gantry0
}

func (g GantryID) String() string {
	return fmt.Sprintf("gantry%d", int(g))
}

// AxisPose is the position of one gantry.
// X, Y and Z are in metres (Z is depth, increasing downward into the tank),
// Rotation and Tilt are in degrees.
type AxisPose struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Z        float64 `yaml:"z" json:"z"`
	Rotation float64 `yaml:"rotation" json:"rotation"`
	Tilt     float64 `yaml:"tilt" json:"tilt"`
}

// WithXY returns a copy of p moved to (x, y).
func (p AxisPose) WithXY(x, y float64) AxisPose {
	p.X, p.Y = x, y
	return p
}

// WithAngles returns a copy of p with rotation and tilt replaced.
func (p AxisPose) WithAngles(rotation, tilt float64) AxisPose {
	p.Rotation, p.Tilt = rotation, tilt
	return p
}

// WithZ returns a copy of p at depth z.
func (p AxisPose) WithZ(z float64) AxisPose {
	p.Z = z
	return p
}

// Finite reports whether every coordinate is a finite number.
func (p AxisPose) Finite() bool {
	for _, v := range []float64{p.X, p.Y, p.Z, p.Rotation, p.Tilt} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Pose holds both gantries.
type Pose struct {
	Gantry0 AxisPose `yaml:"gantry0" json:"gantry0"`
	Gantry1 AxisPose `yaml:"gantry1" json:"gantry1"`
}

// Gantry returns the pose of gantry id.
func (p Pose) Gantry(id GantryID) AxisPose {
	if id == Gantry1 {
		return p.Gantry1
	}
	return p.Gantry0
}

// With returns a copy of p where gantry id is replaced by a.
func (p Pose) With(id GantryID, a AxisPose) Pose {
	if id == Gantry1 {
		p.Gantry1 = a
	} else {
		p.Gantry0 = a
	}
	return p
}

func (p Pose) String() string {
	return fmt.Sprintf("g0(%.3f,%.3f,%.3f,%.1f°,%.1f°) g1(%.3f,%.3f,%.3f,%.1f°,%.1f°)",
		p.Gantry0.X, p.Gantry0.Y, p.Gantry0.Z, p.Gantry0.Rotation, p.Gantry0.Tilt,
		p.Gantry1.X, p.Gantry1.Y, p.Gantry1.Z, p.Gantry1.Rotation, p.Gantry1.Tilt)
}

// Radians converts degrees to radians.
func Radians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

// Degrees converts radians to degrees.
func Degrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}
