// Package obstacle holds the fixed obstacles of the scanning volume: the
// photosensor under test, approximated by a stack of horizontal polygons,
// and the tank wall with its holder ring.
package obstacle

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
)

// PMTParams describes the spherical sensor and how finely it is sliced.
// Depths are measured downward from the homed gantry height.
type PMTParams struct {
	Center          r2.Point // horizontal position of the sphere centre
	TopDepth        float64  // depth of the top of the sphere
	Radius          float64
	RimDepthFromTop float64 // depth of the support rim below the sphere top
	RimRadius       float64 // radius of the support rim
	LayerThickness  float64
	Sides           int     // vertices per layer polygon
	Epsilon         float64 // clearance added to every layer
	MaxDepth        float64 // deepest point any optical box can reach
}

// Stack is the sensor sliced into layers. Layer i (1-based) spans depths
// (TopDepth + (i-1)·t, TopDepth + i·t]. It is immutable after NewStack.
type Stack struct {
	params PMTParams
	radii  []float64
	layers []geometry.Polygon
}

// NewStack slices the sensor. Each layer is a regular polygon enclosing the
// sphere cross-section at the bottom of the layer. Layers at or below the
// support rim use the rim radius, so a box can never slide under the ring.
func NewStack(p PMTParams) (*Stack, error) {
	switch {
	case p.Radius <= 0:
		return nil, errors.Errorf("pmt radius must be > 0, got %g", p.Radius)
	case p.LayerThickness <= 0:
		return nil, errors.Errorf("pmt layer thickness must be > 0, got %g", p.LayerThickness)
	case p.Sides < 3:
		return nil, errors.Errorf("pmt polygon needs at least 3 sides, got %d", p.Sides)
	case p.RimDepthFromTop <= 0 || p.RimDepthFromTop > 2*p.Radius:
		return nil, errors.Errorf("pmt rim depth must be within (0, %g], got %g", 2*p.Radius, p.RimDepthFromTop)
	}

	n := int(math.Ceil((p.MaxDepth - p.TopDepth) / p.LayerThickness))
	if n < 1 {
		n = 1
	}

	s := &Stack{
		params: p,
		radii:  make([]float64, n),
		layers: make([]geometry.Polygon, n),
	}
	grow := 1 / math.Cos(math.Pi/float64(p.Sides))
	for layer := 1; layer <= n; layer++ {
		r := p.RimRadius
		if depth := p.LayerThickness * float64(layer); depth < p.RimDepthFromTop {
			zFromCentre := p.Radius - depth
			r = math.Sqrt(p.Radius*p.Radius - zFromCentre*zFromCentre)
			if r > p.RimRadius {
				return nil, errors.Errorf("pmt rim radius %g is smaller than the sensor cross-section %g at layer %d",
					p.RimRadius, r, layer)
			}
		}
		s.radii[layer-1] = r
		s.layers[layer-1] = geometry.RegularPolygon(p.Center, r*grow+p.Epsilon, p.Sides)
	}
	return s, nil
}

// Len is the number of layers.
func (s *Stack) Len() int { return len(s.layers) }

// Radius returns the sensor (or rim) radius used for layer i.
func (s *Stack) Radius(i int) float64 { return s.radii[i-1] }

// Layer returns the polygon of layer i.
func (s *Stack) Layer(i int) geometry.Polygon { return s.layers[i-1] }

// LayerIndex returns the layer containing depth. It returns false above the
// sensor top; depths past the last layer map to the last layer.
func (s *Stack) LayerIndex(depth float64) (int, bool) {
	below := depth - s.params.TopDepth
	if below <= 0 {
		return 0, false
	}
	i := int(math.Ceil(below / s.params.LayerThickness))
	if i > len(s.layers) {
		i = len(s.layers)
	}
	return i, true
}

// LayerAt returns the obstacle polygon at depth, or false when depth is
// above the sensor and no check is needed.
func (s *Stack) LayerAt(depth float64) (geometry.Polygon, bool) {
	i, ok := s.LayerIndex(depth)
	if !ok {
		return nil, false
	}
	return s.layers[i-1], true
}

// Clear reports whether both faces of a box are clear of the layers at
// their depths.
func (s *Stack) Clear(box geometry.BoxFootprint, h geometry.BoxHeights) bool {
	if layer, ok := s.LayerAt(h.Lower); ok && box.Lower.Intersects(layer) {
		return false
	}
	if layer, ok := s.LayerAt(h.Upper); ok && box.Upper.Intersects(layer) {
		return false
	}
	return true
}
