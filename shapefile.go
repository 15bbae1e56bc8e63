// Package shapefile provides ESRI Shapefile support for the orb geometry library.
// It reads and writes the .shp/.shx/.dbf triad as raw records or as
// orb.Geometry and geojson.Feature values, and can export a shapefile to
// FlatGeobuf.
package shapefile

import (
	"errors"
	"fmt"
)

// Common errors returned by this package.
var (
	ErrFormat            = errors.New("shapefile: invalid format")
	ErrTruncated         = errors.New("shapefile: truncated input")
	ErrSeekUnsupported   = errors.New("shapefile: seek unsupported")
	ErrBoundsUnavailable = errors.New("shapefile: bounds unavailable")
	ErrInvalidValue      = errors.New("shapefile: invalid value")
	ErrClosed            = errors.New("shapefile: closed")
	ErrUnsupportedType   = errors.New("shapefile: unsupported geometry type")
	ErrNilGeometry       = errors.New("shapefile: nil geometry")
)

// File format constants shared by .shp and .shx files.
const (
	FileCode   = 9994
	Version    = 1000
	HeaderSize = 100

	// BlockSize is the default window size of a reader with seeking disabled.
	BlockSize = 512

	indexEntrySize  = 8
	recordFrameSize = 8
)

// ShapeType is the shape type code stored in headers and records.
type ShapeType int32

// Shape types defined by the ESRI Shapefile Technical Description.
const (
	TypeNull        ShapeType = 0
	TypePoint       ShapeType = 1
	TypePolyLine    ShapeType = 3
	TypePolygon     ShapeType = 5
	TypeMultiPoint  ShapeType = 8
	TypePointZ      ShapeType = 11
	TypePolyLineZ   ShapeType = 13
	TypePolygonZ    ShapeType = 15
	TypeMultiPointZ ShapeType = 18
	TypePointM      ShapeType = 21
	TypePolyLineM   ShapeType = 23
	TypePolygonM    ShapeType = 25
	TypeMultiPointM ShapeType = 28
	TypeMultiPatch  ShapeType = 31
)

var shapeTypeNames = map[ShapeType]string{
	TypeNull:        "Null",
	TypePoint:       "Point",
	TypePolyLine:    "PolyLine",
	TypePolygon:     "Polygon",
	TypeMultiPoint:  "MultiPoint",
	TypePointZ:      "PointZ",
	TypePolyLineZ:   "PolyLineZ",
	TypePolygonZ:    "PolygonZ",
	TypeMultiPointZ: "MultiPointZ",
	TypePointM:      "PointM",
	TypePolyLineM:   "PolyLineM",
	TypePolygonM:    "PolygonM",
	TypeMultiPointM: "MultiPointM",
	TypeMultiPatch:  "MultiPatch",
}

// String returns the ESRI name of the shape type.
func (t ShapeType) String() string {
	if name, ok := shapeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ShapeType(%d)", int32(t))
}

// Valid reports whether t is a known shape type code.
func (t ShapeType) Valid() bool {
	_, ok := shapeTypeNames[t]
	return ok
}

// HasZ reports whether records of this type carry Z values.
func (t ShapeType) HasZ() bool {
	switch t {
	case TypePointZ, TypePolyLineZ, TypePolygonZ, TypeMultiPointZ, TypeMultiPatch:
		return true
	}
	return false
}

// HasM reports whether records of this type carry measures.
func (t ShapeType) HasM() bool {
	switch t {
	case TypePointZ, TypePolyLineZ, TypePolygonZ, TypeMultiPointZ,
		TypePointM, TypePolyLineM, TypePolygonM, TypeMultiPointM, TypeMultiPatch:
		return true
	}
	return false
}

// Base returns the 2D shape type of t (TypePolygonZ -> TypePolygon).
// TypeMultiPatch and TypeNull are returned unchanged.
func (t ShapeType) Base() ShapeType {
	switch t {
	case TypePointZ, TypePointM:
		return TypePoint
	case TypePolyLineZ, TypePolyLineM:
		return TypePolyLine
	case TypePolygonZ, TypePolygonM:
		return TypePolygon
	case TypeMultiPointZ, TypeMultiPointM:
		return TypeMultiPoint
	}
	return t
}

// PatchType is the type of one part of a MultiPatch record.
type PatchType int32

// MultiPatch part types.
const (
	TriangleStrip PatchType = 0
	TriangleFan   PatchType = 1
	OuterRing     PatchType = 2
	InnerRing     PatchType = 3
	FirstRing     PatchType = 4
	Ring          PatchType = 5
)

var patchTypeNames = [...]string{
	TriangleStrip: "TriangleStrip",
	TriangleFan:   "TriangleFan",
	OuterRing:     "OuterRing",
	InnerRing:     "InnerRing",
	FirstRing:     "FirstRing",
	Ring:          "Ring",
}

func (p PatchType) String() string {
	if p >= 0 && int(p) < len(patchTypeNames) {
		return patchTypeNames[p]
	}
	return fmt.Sprintf("PatchType(%d)", int32(p))
}

// patchTypeFromCode maps an on-disk part type code to a PatchType.
// Unknown codes are both a format and a value error.
func patchTypeFromCode(code int32) (PatchType, error) {
	if code < 0 || int(code) >= len(patchTypeNames) {
		return 0, fmt.Errorf("%w: %w: unknown multipatch part type %d", ErrFormat, ErrInvalidValue, code)
	}
	return PatchType(code), nil
}

// Progress receives reading or writing progress in bytes. A total of zero
// means the total is not known yet.
type Progress interface {
	Progress(done, total int64)
}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(done, total int64)

// Progress calls f(done, total).
func (f ProgressFunc) Progress(done, total int64) { f(done, total) }

// toWords converts a byte count to 16-bit words.
func toWords(n int64) int32 { return int32(n / 2) }

// fromWords converts 16-bit words to bytes.
func fromWords(w int32) int64 { return int64(w) * 2 }
