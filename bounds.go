package shapefile

import (
	"math"

	"github.com/paulmach/orb"
)

// Bounds is a bounding box over the X, Y, Z and M axes. An axis with no
// values has NaN for both its min and max.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
	MinM, MaxM float64
}

// EmptyBounds returns bounds with every axis unset.
func EmptyBounds() Bounds {
	nan := math.NaN()
	return Bounds{nan, nan, nan, nan, nan, nan, nan, nan}
}

// BoundsFromOrb returns XY bounds matching b. Z and M are unset.
func BoundsFromOrb(b orb.Bound) Bounds {
	out := EmptyBounds()
	out.MinX, out.MinY = b.Min[0], b.Min[1]
	out.MaxX, out.MaxY = b.Max[0], b.Max[1]
	return out
}

// Add extends the bounds to include p. NaN components are ignored.
func (b *Bounds) Add(p Point) {
	extend(&b.MinX, &b.MaxX, p.X)
	extend(&b.MinY, &b.MaxY, p.Y)
	extend(&b.MinZ, &b.MaxZ, p.Z)
	extend(&b.MinM, &b.MaxM, p.M)
}

// AddPoints extends the bounds to include every point. An empty slice
// leaves the bounds unchanged.
func (b *Bounds) AddPoints(points []Point) {
	if len(points) == 0 {
		return
	}
	for _, p := range points {
		b.Add(p)
	}
}

// AddGeometry extends the bounds with the points of g.
func (b *Bounds) AddGeometry(g Geometry) {
	switch v := g.(type) {
	case PointShape:
		b.Add(v.Point)
	default:
		b.AddPoints(geometryPoints(g))
	}
}

// Union extends the bounds to include o.
func (b *Bounds) Union(o Bounds) {
	extend(&b.MinX, &b.MaxX, o.MinX)
	extend(&b.MinX, &b.MaxX, o.MaxX)
	extend(&b.MinY, &b.MaxY, o.MinY)
	extend(&b.MinY, &b.MaxY, o.MaxY)
	extend(&b.MinZ, &b.MaxZ, o.MinZ)
	extend(&b.MinZ, &b.MaxZ, o.MaxZ)
	extend(&b.MinM, &b.MaxM, o.MinM)
	extend(&b.MinM, &b.MaxM, o.MaxM)
}

// Normalize swaps min and max on every axis where max < min. Axes with a
// NaN bound are left as they are.
func (b *Bounds) Normalize() {
	swapInverted(&b.MinX, &b.MaxX)
	swapInverted(&b.MinY, &b.MaxY)
	swapInverted(&b.MinZ, &b.MaxZ)
	swapInverted(&b.MinM, &b.MaxM)
}

// IsEmpty reports whether no XY extent has been recorded.
func (b Bounds) IsEmpty() bool {
	return math.IsNaN(b.MinX) || math.IsNaN(b.MinY)
}

// Orb returns the XY extent as an orb.Bound.
func (b Bounds) Orb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinX, b.MinY},
		Max: orb.Point{b.MaxX, b.MaxY},
	}
}

// Equal reports whether the bounds match, treating NaN as equal to NaN.
func (b Bounds) Equal(o Bounds) bool {
	return sameFloat(b.MinX, o.MinX) && sameFloat(b.MaxX, o.MaxX) &&
		sameFloat(b.MinY, o.MinY) && sameFloat(b.MaxY, o.MaxY) &&
		sameFloat(b.MinZ, o.MinZ) && sameFloat(b.MaxZ, o.MaxZ) &&
		sameFloat(b.MinM, o.MinM) && sameFloat(b.MaxM, o.MaxM)
}

func extend(min, max *float64, v float64) {
	if math.IsNaN(v) {
		return
	}
	if math.IsNaN(*min) || v < *min {
		*min = v
	}
	if math.IsNaN(*max) || v > *max {
		*max = v
	}
}

func swapInverted(min, max *float64) {
	if math.IsNaN(*min) || math.IsNaN(*max) {
		return
	}
	if *max < *min {
		*min, *max = *max, *min
	}
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}
