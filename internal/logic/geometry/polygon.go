package geometry

import (
	"cmp"
	"math"
	"slices"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// Polygon is an ordered, closed sequence of points (the last vertex
// connects back to the first). Collision tests assume it is convex.
type Polygon []r2.Point

// RegularPolygon returns a sides-gon with its vertices on a circle of the
// given radius around center.
func RegularPolygon(center r2.Point, radius float64, sides int) Polygon {
	p := make(Polygon, sides)
	for k := 0; k < sides; k++ {
		a := 2 * math.Pi * float64(k) / float64(sides)
		p[k] = r2.Point{X: center.X + radius*math.Cos(a), Y: center.Y + radius*math.Sin(a)}
	}
	return p
}

// Translate returns p shifted by d.
func (p Polygon) Translate(d r2.Point) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = v.Add(d)
	}
	return out
}

// project returns the extent of p along axis.
func (p Polygon) project(axis r2.Point) r1.Interval {
	iv := r1.EmptyInterval()
	for _, v := range p {
		iv = iv.AddPoint(v.Dot(axis))
	}
	return iv
}

// separatedBy reports whether one of a's edge normals separates a from b.
func separatedBy(a, b Polygon) bool {
	for i := range a {
		edge := a[(i+1)%len(a)].Sub(a[i])
		if edge.X == 0 && edge.Y == 0 {
			continue
		}
		axis := edge.Ortho()
		if !a.project(axis).Intersects(b.project(axis)) {
			return true
		}
	}
	return false
}

// Intersects reports whether the convex polygons p and q overlap, touching
// included. It tests the edge normals of both polygons, so
// p.Intersects(q) == q.Intersects(p).
func (p Polygon) Intersects(q Polygon) bool {
	if len(p) == 0 || len(q) == 0 {
		return false
	}
	return !separatedBy(p, q) && !separatedBy(q, p)
}

// WithinRadius reports whether every vertex of p lies at most r from
// center. For a convex polygon that means the whole polygon does.
func (p Polygon) WithinRadius(center r2.Point, r float64) bool {
	for _, v := range p {
		if v.Sub(center).Norm() > r {
			return false
		}
	}
	return true
}

// MaxRadius returns the largest distance from center to a vertex of p.
func (p Polygon) MaxRadius(center r2.Point) float64 {
	var m float64
	for _, v := range p {
		m = math.Max(m, v.Sub(center).Norm())
	}
	return m
}

// Hull returns the convex hull of the given points in counter-clockwise
// order (monotone chain).
func Hull(pts ...r2.Point) Polygon {
	sorted := slices.Clone(pts)
	slices.SortFunc(sorted, func(a, b r2.Point) int {
		if c := cmp.Compare(a.X, b.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Y, b.Y)
	})
	sorted = slices.Compact(sorted)
	if len(sorted) < 3 {
		return Polygon(sorted)
	}

	cross := func(o, a, b r2.Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}

	hull := make(Polygon, 0, 2*len(sorted))
	for _, pt := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		pt := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], pt) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, pt)
	}
	return hull[:len(hull)-1]
}
