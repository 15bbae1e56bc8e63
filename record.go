package shapefile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/geojson"
)

// Point is a shapefile vertex. Z and M are NaN when absent.
type Point struct {
	X, Y, Z, M float64
}

// NewPoint returns a 2D point with no Z or M.
func NewPoint(x, y float64) Point {
	return Point{X: x, Y: y, Z: math.NaN(), M: math.NaN()}
}

// Equal reports whether the points match, treating NaN as equal to NaN.
func (p Point) Equal(o Point) bool {
	return sameFloat(p.X, o.X) && sameFloat(p.Y, o.Y) &&
		sameFloat(p.Z, o.Z) && sameFloat(p.M, o.M)
}

// Geometry is the decoded payload of a record: NullShape, PointShape,
// MultiPointShape, PolyShape or MultiPatchShape.
type Geometry interface {
	isGeometry()
}

// NullShape is a record without geometry.
type NullShape struct{}

// PointShape is a single point.
type PointShape struct {
	Point
}

// MultiPointShape is an unordered set of points.
type MultiPointShape struct {
	Points []Point
}

// PolyShape is a polyline or a polygon. Parts holds the index of the first
// point of every line or ring.
type PolyShape struct {
	Parts   []int32
	Points  []Point
	Polygon bool
}

// MultiPatchShape is a set of surface patches, one PatchType per part.
type MultiPatchShape struct {
	Parts     []int32
	PartTypes []PatchType
	Points    []Point
}

func (NullShape) isGeometry()       {}
func (PointShape) isGeometry()      {}
func (MultiPointShape) isGeometry() {}
func (PolyShape) isGeometry()       {}
func (MultiPatchShape) isGeometry() {}

// geometryPoints returns the vertices of g.
func geometryPoints(g Geometry) []Point {
	switch v := g.(type) {
	case PointShape:
		return []Point{v.Point}
	case MultiPointShape:
		return v.Points
	case PolyShape:
		return v.Points
	case MultiPatchShape:
		return v.Points
	}
	return nil
}

// Record is one decoded .shp record.
type Record struct {
	Index      int // 0-based position in the file
	Type       ShapeType
	Geometry   Geometry
	Length     int // on-disk length in bytes, including the 8-byte frame
	Attributes geojson.Properties
}

// Number returns the 1-based record number stored on disk.
func (r *Record) Number() int {
	return r.Index + 1
}

// decodeRecord reads the record expected at index from b.
func decodeRecord(b *readBuffer, index int, fileType ShapeType) (*Record, error) {
	num, err := b.readInt32(be)
	if err != nil {
		return nil, err
	}
	if int(num)-1 != index {
		return nil, fmt.Errorf("%w: record number %d, want %d", ErrFormat, num, index+1)
	}
	words, err := b.readInt32(be)
	if err != nil {
		return nil, err
	}
	if words < 2 {
		return nil, fmt.Errorf("%w: record %d has content length %d words", ErrFormat, num, words)
	}
	contentLen := fromWords(words)
	start := b.position()

	code, err := b.readInt32(le)
	if err != nil {
		return nil, err
	}
	typ := ShapeType(code)
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: record %d has unknown shape type %d", ErrFormat, num, code)
	}
	if typ != TypeNull && typ != fileType {
		return nil, fmt.Errorf("%w: record %d is %s in a %s file", ErrFormat, num, typ, fileType)
	}

	d := &recordDecoder{b: b, start: start, length: contentLen}
	var g Geometry
	switch {
	case typ == TypeNull:
		g = NullShape{}
	case typ == TypeMultiPatch:
		g, err = d.multiPatch()
	case typ.Base() == TypePoint:
		g, err = d.point(typ)
	default:
		g, err = d.poly(typ)
	}
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", num, err)
	}

	// Content may be padded past what the shape type needs.
	consumed := b.position() - start
	if consumed > contentLen {
		return nil, fmt.Errorf("%w: record %d overruns its content length (%d > %d)", ErrFormat, num, consumed, contentLen)
	}
	if consumed < contentLen {
		if err := b.skip(int(contentLen - consumed)); err != nil {
			return nil, err
		}
	}

	return &Record{
		Index:    index,
		Type:     typ,
		Geometry: g,
		Length:   int(contentLen) + recordFrameSize,
	}, nil
}

type recordDecoder struct {
	b      *readBuffer
	start  int64
	length int64
}

// left returns the content bytes not read yet.
func (d *recordDecoder) left() int64 {
	return d.length - (d.b.position() - d.start)
}

func (d *recordDecoder) xy() (Point, error) {
	x, err := d.b.readFloat64(le)
	if err != nil {
		return Point{}, err
	}
	y, err := d.b.readFloat64(le)
	if err != nil {
		return Point{}, err
	}
	if !isFinite(x) || !isFinite(y) {
		return Point{}, fmt.Errorf("%w: coordinate (%v, %v)", ErrInvalidValue, x, y)
	}
	return NewPoint(x, y), nil
}

func (d *recordDecoder) point(typ ShapeType) (Geometry, error) {
	p, err := d.xy()
	if err != nil {
		return nil, err
	}
	if typ.HasZ() {
		v, err := d.b.readFloat64(le)
		if err != nil {
			return nil, err
		}
		p.Z = FromESRI(v)
	}
	if typ.HasM() && d.left() >= 8 {
		v, err := d.b.readFloat64(le)
		if err != nil {
			return nil, err
		}
		p.M = FromESRI(v)
	}
	return PointShape{p}, nil
}

// counts reads the part and point counts and checks them against the
// content length before anything is allocated.
func (d *recordDecoder) counts(withParts bool, partWidth int64) (int, int, error) {
	var numParts int32
	var err error
	if withParts {
		if numParts, err = d.b.readInt32(le); err != nil {
			return 0, 0, err
		}
	}
	numPoints, err := d.b.readInt32(le)
	if err != nil {
		return 0, 0, err
	}
	if numParts < 0 || numPoints < 0 {
		return 0, 0, fmt.Errorf("%w: negative count (%d parts, %d points)", ErrFormat, numParts, numPoints)
	}
	if int64(numParts)*partWidth+int64(numPoints)*16 > d.left() {
		return 0, 0, fmt.Errorf("%w: %d parts and %d points exceed content length %d", ErrFormat, numParts, numPoints, d.length)
	}
	return int(numParts), int(numPoints), nil
}

func (d *recordDecoder) ints(n int) ([]int32, error) {
	out := make([]int32, n)
	for i := range out {
		v, err := d.b.readInt32(le)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *recordDecoder) points(n int) ([]Point, error) {
	out := make([]Point, n)
	for i := range out {
		p, err := d.xy()
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

// measures reads a range (ignored) followed by one value per point and
// stores each value through set.
func (d *recordDecoder) measures(points []Point, set func(p *Point, v float64)) error {
	if err := d.b.skip(16); err != nil {
		return err
	}
	for i := range points {
		v, err := d.b.readFloat64(le)
		if err != nil {
			return err
		}
		set(&points[i], FromESRI(v))
	}
	return nil
}

func setZ(p *Point, v float64) { p.Z = v }
func setM(p *Point, v float64) { p.M = v }

func (d *recordDecoder) poly(typ ShapeType) (Geometry, error) {
	// The stored box is recomputed by readers that need it.
	if err := d.b.skip(32); err != nil {
		return nil, err
	}
	base := typ.Base()
	numParts, numPoints, err := d.counts(base != TypeMultiPoint, 4)
	if err != nil {
		return nil, err
	}
	parts, err := d.ints(numParts)
	if err != nil {
		return nil, err
	}
	if err := checkParts(parts, numPoints); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	points, err := d.points(numPoints)
	if err != nil {
		return nil, err
	}
	if typ.HasZ() {
		if err := d.measures(points, setZ); err != nil {
			return nil, err
		}
	}
	// The M block is optional in the format.
	if typ.HasM() && d.left() > 0 {
		if err := d.measures(points, setM); err != nil {
			return nil, err
		}
	}

	switch base {
	case TypeMultiPoint:
		return MultiPointShape{Points: points}, nil
	case TypePolyLine:
		return PolyShape{Parts: parts, Points: points}, nil
	default:
		return PolyShape{Parts: parts, Points: points, Polygon: true}, nil
	}
}

func (d *recordDecoder) multiPatch() (Geometry, error) {
	if err := d.b.skip(32); err != nil {
		return nil, err
	}
	numParts, numPoints, err := d.counts(true, 8)
	if err != nil {
		return nil, err
	}
	parts, err := d.ints(numParts)
	if err != nil {
		return nil, err
	}
	if err := checkParts(parts, numPoints); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	codes, err := d.ints(numParts)
	if err != nil {
		return nil, err
	}
	partTypes := make([]PatchType, numParts)
	for i, c := range codes {
		if partTypes[i], err = patchTypeFromCode(c); err != nil {
			return nil, err
		}
	}
	points, err := d.points(numPoints)
	if err != nil {
		return nil, err
	}
	if err := d.measures(points, setZ); err != nil {
		return nil, err
	}
	if err := d.measures(points, setM); err != nil {
		return nil, err
	}
	return MultiPatchShape{Parts: parts, PartTypes: partTypes, Points: points}, nil
}

// encodeRecord appends the on-disk form of g, as record index of a file of
// type fileType, to dst. The bounding box and Z/M ranges are computed from
// the points written. The record length is len(result) - len(dst).
func encodeRecord(dst []byte, index int, fileType ShapeType, g Geometry) ([]byte, error) {
	e := &recordEncoder{}
	if err := e.encode(fileType, g); err != nil {
		return dst, fmt.Errorf("record %d: %w", index+1, err)
	}

	dst = be.AppendUint32(dst, uint32(index+1))
	dst = be.AppendUint32(dst, uint32(toWords(int64(len(e.buf)))))
	return append(dst, e.buf...), nil
}

type recordEncoder struct {
	buf []byte
}

func (e *recordEncoder) putInt32(v int32) {
	e.buf = le.AppendUint32(e.buf, uint32(v))
}

func (e *recordEncoder) putFloat64(v float64) {
	e.buf = le.AppendUint64(e.buf, math.Float64bits(v))
}

func (e *recordEncoder) encode(fileType ShapeType, g Geometry) error {
	if g == nil {
		g = NullShape{}
	}
	if _, ok := g.(NullShape); ok {
		e.putInt32(int32(TypeNull))
		return nil
	}

	switch v := g.(type) {
	case PointShape:
		if fileType.Base() != TypePoint {
			return mismatch(fileType, g)
		}
		return e.point(fileType, v.Point)
	case MultiPointShape:
		if fileType.Base() != TypeMultiPoint {
			return mismatch(fileType, g)
		}
		return e.poly(fileType, nil, nil, v.Points)
	case PolyShape:
		want := TypePolyLine
		if v.Polygon {
			want = TypePolygon
		}
		if fileType.Base() != want {
			return mismatch(fileType, g)
		}
		parts := v.Parts
		if len(parts) == 0 && len(v.Points) > 0 {
			parts = []int32{0}
		}
		return e.poly(fileType, parts, nil, v.Points)
	case MultiPatchShape:
		if fileType != TypeMultiPatch {
			return mismatch(fileType, g)
		}
		if len(v.PartTypes) != len(v.Parts) {
			return fmt.Errorf("%w: %d parts with %d part types", ErrInvalidValue, len(v.Parts), len(v.PartTypes))
		}
		for i, t := range v.PartTypes {
			if _, err := patchTypeFromCode(int32(t)); err != nil {
				return fmt.Errorf("%w: part %d has unknown type %d", ErrInvalidValue, i, t)
			}
		}
		return e.poly(fileType, v.Parts, v.PartTypes, v.Points)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedType, g)
}

func mismatch(fileType ShapeType, g Geometry) error {
	return fmt.Errorf("%w: %T in a %s file", ErrUnsupportedType, g, fileType)
}

func checkXY(p Point) error {
	if !isFinite(p.X) || !isFinite(p.Y) {
		return fmt.Errorf("%w: coordinate (%v, %v)", ErrInvalidValue, p.X, p.Y)
	}
	return nil
}

func (e *recordEncoder) point(typ ShapeType, p Point) error {
	if err := checkXY(p); err != nil {
		return err
	}
	e.putInt32(int32(typ))
	e.putFloat64(p.X)
	e.putFloat64(p.Y)
	if typ.HasZ() {
		e.putFloat64(ToESRI(p.Z))
	}
	if typ.HasM() {
		e.putFloat64(ToESRI(p.M))
	}
	return nil
}

func checkParts(parts []int32, numPoints int) error {
	for i, p := range parts {
		switch {
		case i == 0 && p != 0:
			return fmt.Errorf("%w: first part starts at %d", ErrInvalidValue, p)
		case p < 0 || int(p) > numPoints:
			return fmt.Errorf("%w: part %d starts at %d of %d points", ErrInvalidValue, i, p, numPoints)
		case i > 0 && p < parts[i-1]:
			return fmt.Errorf("%w: part %d starts before part %d", ErrInvalidValue, i, i-1)
		}
	}
	return nil
}

// poly writes MultiPoint, PolyLine, Polygon and MultiPatch content. parts is
// nil for MultiPoint; partTypes is only set for MultiPatch.
func (e *recordEncoder) poly(typ ShapeType, parts []int32, partTypes []PatchType, points []Point) error {
	for i, p := range points {
		if err := checkXY(p); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
	}
	if err := checkParts(parts, len(points)); err != nil {
		return err
	}

	box := EmptyBounds()
	box.AddPoints(points)

	e.putInt32(int32(typ))
	e.putFloat64(finiteOrZero(box.MinX))
	e.putFloat64(finiteOrZero(box.MinY))
	e.putFloat64(finiteOrZero(box.MaxX))
	e.putFloat64(finiteOrZero(box.MaxY))
	if typ.Base() != TypeMultiPoint {
		e.putInt32(int32(len(parts)))
	}
	e.putInt32(int32(len(points)))
	for _, p := range parts {
		e.putInt32(p)
	}
	for _, t := range partTypes {
		e.putInt32(int32(t))
	}
	for _, p := range points {
		e.putFloat64(p.X)
		e.putFloat64(p.Y)
	}
	if typ.HasZ() {
		e.putFloat64(ToESRI(box.MinZ))
		e.putFloat64(ToESRI(box.MaxZ))
		for _, p := range points {
			e.putFloat64(ToESRI(p.Z))
		}
	}
	if typ.HasM() {
		e.putFloat64(ToESRI(box.MinM))
		e.putFloat64(ToESRI(box.MaxM))
		for _, p := range points {
			e.putFloat64(ToESRI(p.M))
		}
	}
	return nil
}
