package shapefile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeometryFactory builds orb geometries from decoded records.
type GeometryFactory interface {
	// NewGeometry returns nil for records without geometry.
	NewGeometry(rec *Record) (orb.Geometry, error)
}

// GeometryExporter converts orb geometries to record payloads of a shape
// type.
type GeometryExporter interface {
	ExportGeometry(g orb.Geometry, t ShapeType) (Geometry, error)
}

// OrbFactory is the default GeometryFactory. Z and M values are dropped.
//
// PolyLine records become a LineString, or a MultiLineString when they have
// several parts. Polygon records become a Polygon, or a MultiPolygon when
// they have several outer rings; clockwise rings are shells and each
// counter-clockwise ring is a hole of the first shell that contains it.
// MultiPatch records become a MultiPolygon with one polygon per triangle,
// outer ring or ring group.
type OrbFactory struct{}

// NewGeometry implements GeometryFactory.
func (OrbFactory) NewGeometry(rec *Record) (orb.Geometry, error) {
	switch g := rec.Geometry.(type) {
	case nil, NullShape:
		return nil, nil
	case PointShape:
		return orbPoint(g.Point), nil
	case MultiPointShape:
		mp := make(orb.MultiPoint, len(g.Points))
		for i, p := range g.Points {
			mp[i] = orbPoint(p)
		}
		return mp, nil
	case PolyShape:
		if len(g.Points) == 0 {
			return nil, nil
		}
		if g.Polygon {
			return polygonFromRings(partRings(g.Parts, g.Points)), nil
		}
		lines := partLines(g.Parts, g.Points)
		if len(lines) == 1 {
			return lines[0], nil
		}
		return lines, nil
	case MultiPatchShape:
		return multiPatchToOrb(g)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, rec.Geometry)
}

func orbPoint(p Point) orb.Point {
	return orb.Point{p.X, p.Y}
}

// partBounds returns the point range of part i.
func partBounds(parts []int32, numPoints, i int) (int, int) {
	start := int(parts[i])
	end := numPoints
	if i+1 < len(parts) {
		end = int(parts[i+1])
	}
	return start, end
}

func partPoints(parts []int32, points []Point, i int) []orb.Point {
	start, end := partBounds(parts, len(points), i)
	out := make([]orb.Point, 0, end-start)
	for _, p := range points[start:end] {
		out = append(out, orbPoint(p))
	}
	return out
}

func partLines(parts []int32, points []Point) orb.MultiLineString {
	if len(parts) == 0 {
		parts = []int32{0}
	}
	mls := make(orb.MultiLineString, 0, len(parts))
	for i := range parts {
		mls = append(mls, orb.LineString(partPoints(parts, points, i)))
	}
	return mls
}

func partRings(parts []int32, points []Point) []orb.Ring {
	if len(parts) == 0 {
		parts = []int32{0}
	}
	rings := make([]orb.Ring, 0, len(parts))
	for i := range parts {
		if r := orb.Ring(partPoints(parts, points, i)); len(r) > 0 {
			rings = append(rings, r)
		}
	}
	return rings
}

// polygonFromRings groups rings into polygons: clockwise rings open a new
// polygon, counter-clockwise rings are holes of the first shell containing
// them. A hole outside every shell becomes a polygon of its own.
func polygonFromRings(rings []orb.Ring) orb.Geometry {
	var shells orb.MultiPolygon
	var holes []orb.Ring
	for _, r := range rings {
		if r.Orientation() == orb.CCW {
			holes = append(holes, r)
			continue
		}
		shells = append(shells, orb.Polygon{r})
	}

	for _, h := range holes {
		placed := false
		for i, shell := range shells {
			if planar.RingContains(shell[0], h[0]) {
				shells[i] = append(shells[i], h)
				placed = true
				break
			}
		}
		if !placed {
			shells = append(shells, orb.Polygon{h})
		}
	}

	if len(shells) == 1 {
		return shells[0]
	}
	return shells
}

func multiPatchToOrb(g MultiPatchShape) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	inRingGroup := false
	for i, typ := range g.PartTypes {
		if i >= len(g.Parts) {
			break
		}
		pts := partPoints(g.Parts, g.Points, i)
		switch typ {
		case TriangleStrip:
			for j := 0; j+2 < len(pts); j++ {
				mp = append(mp, triangle(pts[j], pts[j+1], pts[j+2]))
			}
			inRingGroup = false
		case TriangleFan:
			for j := 1; j+1 < len(pts); j++ {
				mp = append(mp, triangle(pts[0], pts[j], pts[j+1]))
			}
			inRingGroup = false
		case OuterRing:
			mp = append(mp, orb.Polygon{closeRing(pts)})
			inRingGroup = false
		case FirstRing:
			mp = append(mp, orb.Polygon{closeRing(pts)})
			inRingGroup = true
		case InnerRing:
			if len(mp) == 0 {
				return nil, fmt.Errorf("%w: multipatch inner ring %d without outer ring", ErrInvalidValue, i)
			}
			mp[len(mp)-1] = append(mp[len(mp)-1], closeRing(pts))
		case Ring:
			if inRingGroup {
				mp[len(mp)-1] = append(mp[len(mp)-1], closeRing(pts))
			} else {
				mp = append(mp, orb.Polygon{closeRing(pts)})
			}
		default:
			return nil, fmt.Errorf("%w: multipatch part type %d", ErrInvalidValue, int32(typ))
		}
	}
	return mp, nil
}

func triangle(a, b, c orb.Point) orb.Polygon {
	return orb.Polygon{orb.Ring{a, b, c, a}}
}

func closeRing(pts []orb.Point) orb.Ring {
	r := orb.Ring(pts)
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// OrbExporter is the default GeometryExporter. Points get NaN Z and M.
// Polygon shells are written clockwise and holes counter-clockwise, and
// unclosed rings are closed.
type OrbExporter struct{}

// ExportGeometry implements GeometryExporter.
func (OrbExporter) ExportGeometry(g orb.Geometry, t ShapeType) (Geometry, error) {
	if g == nil {
		return nil, ErrNilGeometry
	}
	if b, ok := g.(orb.Bound); ok {
		g = boundToPolygon(b)
	}

	switch t.Base() {
	case TypePoint:
		if p, ok := g.(orb.Point); ok {
			return PointShape{fromOrb(p)}, nil
		}
	case TypeMultiPoint:
		switch v := g.(type) {
		case orb.Point:
			return MultiPointShape{Points: []Point{fromOrb(v)}}, nil
		case orb.MultiPoint:
			return MultiPointShape{Points: fromOrbPoints(v)}, nil
		}
	case TypePolyLine:
		switch v := g.(type) {
		case orb.LineString:
			return linesToShape(orb.MultiLineString{v}), nil
		case orb.MultiLineString:
			return linesToShape(v), nil
		}
	case TypePolygon:
		if mp, ok := asMultiPolygon(g); ok {
			return polygonsToShape(mp), nil
		}
	case TypeMultiPatch:
		if mp, ok := asMultiPolygon(g); ok {
			return polygonsToPatches(mp), nil
		}
	}
	return nil, fmt.Errorf("%w: %s for a %s file", ErrUnsupportedType, g.GeoJSONType(), t)
}

func fromOrb(p orb.Point) Point {
	return NewPoint(p[0], p[1])
}

func fromOrbPoints(pts []orb.Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = fromOrb(p)
	}
	return out
}

func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Ring:
		return orb.MultiPolygon{{v}}, true
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	}
	return nil, false
}

func linesToShape(mls orb.MultiLineString) PolyShape {
	var s PolyShape
	for _, ls := range mls {
		s.Parts = append(s.Parts, int32(len(s.Points)))
		s.Points = append(s.Points, fromOrbPoints(ls)...)
	}
	return s
}

// orientRing returns a closed copy of r wound in the wanted direction.
func orientRing(r orb.Ring, want orb.Orientation) orb.Ring {
	out := closeRing(append(orb.Ring(nil), r...))
	if len(out) > 2 && out.Orientation() != want {
		out.Reverse()
	}
	return out
}

func polygonsToShape(mp orb.MultiPolygon) PolyShape {
	s := PolyShape{Polygon: true}
	for _, poly := range mp {
		for i, r := range poly {
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			s.Parts = append(s.Parts, int32(len(s.Points)))
			s.Points = append(s.Points, fromOrbPoints(orientRing(r, want))...)
		}
	}
	return s
}

func polygonsToPatches(mp orb.MultiPolygon) MultiPatchShape {
	var s MultiPatchShape
	for _, poly := range mp {
		for i, r := range poly {
			typ, want := OuterRing, orb.CW
			if i > 0 {
				typ, want = InnerRing, orb.CCW
			}
			s.Parts = append(s.Parts, int32(len(s.Points)))
			s.PartTypes = append(s.PartTypes, typ)
			s.Points = append(s.Points, fromOrbPoints(orientRing(r, want))...)
		}
	}
	return s
}

// orbToShapeType returns the 2D shape type able to hold geom, or TypeNull.
func orbToShapeType(geom orb.Geometry) ShapeType {
	switch geom.(type) {
	case orb.Point:
		return TypePoint
	case orb.MultiPoint:
		return TypeMultiPoint
	case orb.LineString, orb.MultiLineString:
		return TypePolyLine
	case orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
		return TypePolygon
	default:
		return TypeNull
	}
}

func boundToPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{
		orb.Ring{
			{b.Min[0], b.Min[1]},
			{b.Min[0], b.Max[1]},
			{b.Max[0], b.Max[1]},
			{b.Max[0], b.Min[1]},
			{b.Min[0], b.Min[1]},
		},
	}
}
