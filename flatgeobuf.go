package shapefile

import (
	"errors"
	"fmt"
	"io"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/tingold/orb-shapefile/dbf"
)

// CRS represents a coordinate reference system.
type CRS struct {
	Code        int    // EPSG code (e.g., 4326 for WGS84)
	Name        string // CRS name
	Description string // CRS description
	WKT         string // Well-Known Text representation
}

// WGS84 returns the standard WGS84 CRS (EPSG:4326).
func WGS84() *CRS {
	return &CRS{
		Code: 4326,
		Name: "WGS 84",
	}
}

// FlatGeobufOptions configures FlatGeobuf export.
type FlatGeobufOptions struct {
	Name         string // Layer name
	Description  string // Layer description
	IncludeIndex bool   // Include spatial index (default: true)
	CRS          *CRS   // Coordinate reference system (optional)
}

// DefaultFlatGeobufOptions returns default options for FlatGeobuf export.
func DefaultFlatGeobufOptions() *FlatGeobufOptions {
	return &FlatGeobufOptions{
		IncludeIndex: true,
	}
}

// ExportFlatGeobuf writes the remaining features of r to w as a FlatGeobuf
// layer and returns the number of features written. Attribute fields
// become columns. PolyLine layers are written as MultiLineString and
// Polygon and MultiPatch layers as MultiPolygon.
func ExportFlatGeobuf(w io.Writer, r *Reader, opts *FlatGeobufOptions) (int, error) {
	if opts == nil {
		opts = DefaultFlatGeobufOptions()
	}
	h, err := r.Header()
	if err != nil {
		return 0, err
	}
	fields, err := r.Fields()
	if err != nil {
		return 0, err
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(shapeToFGBGeometryType(h.Type))
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}

	columns, types := columnsFromFields(fields, builder)
	if len(columns) > 0 {
		header.SetColumns(columns)
	}

	if opts.CRS != nil {
		crs := writer.NewCrs(builder)
		crs.SetOrg("EPSG")
		if opts.CRS.Code > 0 {
			crs.SetCode(int32(opts.CRS.Code))
		}
		if opts.CRS.Name != "" {
			crs.SetName(opts.CRS.Name)
		}
		if opts.CRS.Description != "" {
			crs.SetDescription(opts.CRS.Description)
		}
		if opts.CRS.WKT != "" && opts.CRS.Description == "" {
			crs.SetDescription(opts.CRS.WKT)
		}
		header.SetCrs(crs)
	}

	gen := &recordFeatureGenerator{r: r, fields: fields, types: types, multi: h.Type.Base() != TypePoint}
	fgbWriter := writer.NewWriter(header, opts.IncludeIndex, gen, nil)
	_, err = fgbWriter.Write(w)
	if gen.err != nil {
		return gen.count, gen.err
	}
	return gen.count, err
}

// shapeToFGBGeometryType returns the FlatGeobuf layer type of a shapefile
// type.
func shapeToFGBGeometryType(t ShapeType) flattypes.GeometryType {
	switch t.Base() {
	case TypePoint:
		return flattypes.GeometryTypePoint
	case TypeMultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case TypePolyLine:
		return flattypes.GeometryTypeMultiLineString
	case TypePolygon, TypeMultiPatch:
		return flattypes.GeometryTypeMultiPolygon
	default:
		return flattypes.GeometryTypeUnknown
	}
}

// recordFeatureGenerator streams reader features into the FlatGeobuf
// writer. Generate cannot fail, so the first read error is kept in err and
// ends the stream.
type recordFeatureGenerator struct {
	r      *Reader
	fields []dbf.Field
	types  []flattypes.ColumnType
	multi  bool
	count  int
	err    error
}

func (g *recordFeatureGenerator) Generate() *writer.Feature {
	if g.err != nil {
		return nil
	}
	f, err := g.r.ReadFeature()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			g.err = err
		}
		return nil
	}

	geom := f.Geometry
	if g.multi {
		geom = promoteToMulti(geom)
	}
	builder := flatbuffers.NewBuilder(1024)
	fgbGeom := geometryToFGB(geom, builder)
	if fgbGeom == nil {
		g.err = fmt.Errorf("%w: %s", ErrUnsupportedType, geom.GeoJSONType())
		return nil
	}

	feature := writer.NewFeature(builder)
	feature.SetGeometry(fgbGeom)
	if props := encodeProperties(f.Properties, g.fields, g.types); len(props) > 0 {
		feature.SetProperties(props)
	}
	g.count++
	return feature
}

// promoteToMulti returns single lines and polygons as their multi form so
// that every feature matches the layer type.
func promoteToMulti(geom orb.Geometry) orb.Geometry {
	switch v := geom.(type) {
	case orb.LineString:
		return orb.MultiLineString{v}
	case orb.Polygon:
		return orb.MultiPolygon{v}
	}
	return geom
}

// geometryToFGB converts an orb.Geometry to a FlatGeobuf writer.Geometry.
func geometryToFGB(geom orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	if geom == nil {
		return nil
	}

	g := writer.NewGeometry(builder)

	switch v := geom.(type) {
	case orb.Point:
		g.SetType(flattypes.GeometryTypePoint)
		g.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		g.SetType(flattypes.GeometryTypeMultiPoint)
		g.SetXY(pointsToXY(v))

	case orb.LineString:
		g.SetType(flattypes.GeometryTypeLineString)
		g.SetXY(pointsToXY(v))

	case orb.MultiLineString:
		g.SetType(flattypes.GeometryTypeMultiLineString)
		lines := make([][]orb.Point, len(v))
		for i, ls := range v {
			lines[i] = ls
		}
		xy, ends := partsToXYEnds(lines)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.Polygon:
		g.SetType(flattypes.GeometryTypePolygon)
		xy, ends := polygonToXYEnds(v)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.MultiPolygon:
		g.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			pg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := polygonToXYEnds(poly)
			pg.SetXY(xy)
			pg.SetEnds(ends)
			parts = append(parts, *pg)
		}
		g.SetParts(parts)

	default:
		return nil
	}

	return g
}

func pointsToXY(pts []orb.Point) []float64 {
	xy := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// partsToXYEnds flattens parts into one XY array and the cumulative end
// index of every part.
func partsToXYEnds(parts [][]orb.Point) ([]float64, []uint32) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	xy := make([]float64, 0, total*2)
	ends := make([]uint32, 0, len(parts))
	cumulative := uint32(0)
	for _, p := range parts {
		xy = append(xy, pointsToXY(p)...)
		cumulative += uint32(len(p))
		ends = append(ends, cumulative)
	}
	return xy, ends
}

func polygonToXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	rings := make([][]orb.Point, len(poly))
	for i, r := range poly {
		rings[i] = r
	}
	return partsToXYEnds(rings)
}
