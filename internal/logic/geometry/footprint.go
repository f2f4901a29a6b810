package geometry

import (
	"math"

	"github.com/golang/geo/r2"
)

// Dimensions describes the fixed mechanical sizes of one gantry (metres).
//
// The optical box pivots about its tilt axis, which runs across the top of
// the box. Local coordinates: u along the optical axis (front positive),
// v across the box, h downward from the pivot.
type Dimensions struct {
	FrontHalfLength float64 `yaml:"front_half_length"` // pivot to box front
	BackHalfLength  float64 `yaml:"back_half_length"`  // pivot to box back
	BoxWidth        float64 `yaml:"box_width"`
	TiltGearWidth   float64 `yaml:"tilt_gear_width"`   // added on each side of the box
	BoxHeight       float64 `yaml:"box_height"`        // pivot to box bottom
	TiltMotorLength float64 `yaml:"tilt_motor_length"` // pivot to the front of the tilt motor
}

// BoxFootprint is the horizontal projection of the optical box faces.
// Upper is the face through the pivot, Lower the opposite face.
type BoxFootprint struct {
	Lower Polygon
	Upper Polygon
}

// Hull returns the outline covering both faces.
func (b BoxFootprint) Hull() Polygon {
	pts := make([]r2.Point, 0, len(b.Lower)+len(b.Upper))
	pts = append(pts, b.Lower...)
	pts = append(pts, b.Upper...)
	return Hull(pts...)
}

// BoxHeights are depths of the deepest point of each box face, plus the
// shallowest point of the whole box. Lower >= Upper >= Top always.
type BoxHeights struct {
	Lower float64
	Upper float64
	Top   float64
}

// Model holds the dimensions of both gantries. It has no mutable state.
type Model struct {
	Dims [2]Dimensions
}

// NewModel builds a model from per-gantry dimensions.
func NewModel(gantry0, gantry1 Dimensions) *Model {
	return &Model{Dims: [2]Dimensions{gantry0, gantry1}}
}

// place maps local box offsets to world coordinates for gantry id.
// Gantry 1 is mirrored, so its offsets are negated before rotation.
func place(id GantryID, rot, x, y float64, local [4]r2.Point) Polygon {
	sin, cos := math.Sincos(rot)
	out := make(Polygon, 4)
	for i, p := range local {
		if id == Gantry1 {
			p = p.Mul(-1)
		}
		out[i] = r2.Point{
			X: x + p.X*cos - p.Y*sin,
			Y: y + p.X*sin + p.Y*cos,
		}
	}
	return out
}

func rect(front, back, halfWidth float64) [4]r2.Point {
	return [4]r2.Point{
		{X: front, Y: halfWidth},
		{X: back, Y: halfWidth},
		{X: back, Y: -halfWidth},
		{X: front, Y: -halfWidth},
	}
}

// GantryFootprint returns the widest outline of the gantry carriage at the
// given rotation and tilt (radians). The front edge is set by the tilt motor
// unless the tilted box reaches further; the back edge is the box back,
// foreshortened by cos(tilt) and shifted by height·sin(tilt).
func (m *Model) GantryFootprint(id GantryID, rot, tilt, x, y float64) Polygon {
	d := m.Dims[id]
	sin, cos := math.Sincos(tilt)

	boxFront := d.FrontHalfLength * cos
	front := math.Max(d.TiltMotorLength, math.Max(boxFront, boxFront+d.BoxHeight*sin))
	boxBack := -d.BackHalfLength * cos
	back := math.Min(boxBack, boxBack+d.BoxHeight*sin)
	half := d.BoxWidth/2 + d.TiltGearWidth

	return place(id, rot, x, y, rect(front, back, half))
}

// OpticalBoxFootprint returns the two faces of the optical box projected on
// the horizontal plane. The upper face sits at the pivot; the lower face is
// offset by height·sin(tilt) along the optical axis.
func (m *Model) OpticalBoxFootprint(id GantryID, rot, tilt, x, y float64) BoxFootprint {
	d := m.Dims[id]
	sin, cos := math.Sincos(tilt)
	half := d.BoxWidth / 2

	front := d.FrontHalfLength * cos
	back := -d.BackHalfLength * cos
	shift := d.BoxHeight * sin

	return BoxFootprint{
		Lower: place(id, rot, x, y, rect(front+shift, back+shift, half)),
		Upper: place(id, rot, x, y, rect(front, back, half)),
	}
}

// OpticalBoxZ returns the depth of the deepest point of each box face for a
// gantry at depth z and the given tilt (radians). Top is the raised end of
// the upper face.
func (m *Model) OpticalBoxZ(id GantryID, tilt, z float64) BoxHeights {
	d := m.Dims[id]
	sin, cos := math.Sincos(tilt)
	if tilt < 0 {
		upper := z - d.FrontHalfLength*sin
		return BoxHeights{Lower: upper + d.BoxHeight*cos, Upper: upper, Top: z + d.BackHalfLength*sin}
	}
	upper := z + d.BackHalfLength*sin
	return BoxHeights{Lower: upper + d.BoxHeight*cos, Upper: upper, Top: z - d.FrontHalfLength*sin}
}

// MaxReach is the largest depth below z any point of the box can reach.
func (d Dimensions) MaxReach() float64 {
	return math.Max(d.FrontHalfLength, d.BackHalfLength) + d.BoxHeight
}
