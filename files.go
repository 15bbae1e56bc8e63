package shapefile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/dbf"
)

// Open opens the shapefile at path, a .shp file or its name without
// extension. The .shx and .dbf siblings are attached as index and
// attributes when they exist. Index and Attributes of opts are ignored.
func Open(path string, opts *ReaderOptions) (*Reader, error) {
	if opts == nil {
		opts = DefaultReaderOptions()
	}
	base := trimExt(path)

	shp, err := openSibling(base, ".shp")
	if err != nil {
		return nil, err
	}
	o := *opts
	o.Index, o.Attributes = nil, nil

	shx, err := openSibling(base, ".shx")
	switch {
	case err == nil:
		o.Index = NewIndexReader(shx, &ReaderOptions{DisableSeek: o.DisableSeek, BlockSize: o.BlockSize})
	case !errors.Is(err, fs.ErrNotExist):
		shp.Close()
		return nil, err
	}

	dbfFile, err := openSibling(base, ".dbf")
	switch {
	case err == nil:
		o.Attributes = dbf.NewReader(dbfFile)
	case !errors.Is(err, fs.ErrNotExist):
		shp.Close()
		if o.Index != nil {
			o.Index.Close()
		}
		return nil, err
	}

	return NewReader(shp, &o), nil
}

// Create creates the .shp, .shx and .dbf files of a shapefile of type t at
// path. Index and Attributes of opts are replaced.
func Create(path string, t ShapeType, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	base := trimExt(path)
	o := *opts

	var files []*os.File
	cleanup := func() {
		for _, f := range files {
			f.Close()
			os.Remove(f.Name())
		}
	}
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		f, err := os.Create(base + ext)
		if err != nil {
			cleanup()
			return nil, err
		}
		files = append(files, f)
	}

	index, err := NewIndexWriter(files[1], &o)
	if err != nil {
		cleanup()
		return nil, err
	}
	dbfOpts := dbf.DefaultWriterOptions()
	dbfOpts.StagingDir, dbfOpts.DisableSeek = o.StagingDir, o.DisableSeek
	attrs, err := dbf.NewWriter(files[2], dbfOpts)
	if err != nil {
		cleanup()
		return nil, err
	}
	o.Index, o.Attributes = index, attrs

	w, err := NewWriter(files[0], t, &o)
	if err != nil {
		cleanup()
		return nil, err
	}
	return w, nil
}

// WriteFeatures writes a FeatureCollection as a shapefile at path. The
// shape type is taken from the geometries; feature properties go to the
// .dbf file.
func WriteFeatures(path string, fc *geojson.FeatureCollection, opts *WriterOptions) error {
	if fc == nil || len(fc.Features) == 0 {
		return ErrNilGeometry
	}
	if opts == nil {
		opts = DefaultWriterOptions()
	}

	geometries := make([]orb.Geometry, len(fc.Features))
	for i, f := range fc.Features {
		if f != nil {
			geometries[i] = f.Geometry
		}
	}
	t, err := collectionShapeType(geometries)
	if err != nil {
		return err
	}

	elems := make([]Element, 0, len(fc.Features))
	for i, f := range fc.Features {
		shape, err := exportGeometry(opts.Exporter, geometries[i], t)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		var props geojson.Properties
		if f != nil {
			props = f.Properties
		}
		elems = append(elems, Element{Shape: shape, Attributes: props})
	}

	w, err := Create(path, t, opts)
	if err != nil {
		return err
	}
	if err := w.Write(elems...); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Write writes geometries as .shp content to w, without index or
// attributes unless opts provides them. w is left open.
func Write(w io.Writer, geometries []orb.Geometry, opts *WriterOptions) error {
	if len(geometries) == 0 {
		return ErrNilGeometry
	}
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	t, err := collectionShapeType(geometries)
	if err != nil {
		return err
	}

	elems := make([]Element, len(geometries))
	for i, g := range geometries {
		if elems[i].Shape, err = exportGeometry(opts.Exporter, g, t); err != nil {
			return fmt.Errorf("geometry %d: %w", i, err)
		}
	}

	sw, err := NewWriter(withoutClose(w), t, opts)
	if err != nil {
		return err
	}
	if err := sw.Write(elems...); err != nil {
		sw.Close()
		return err
	}
	return sw.Close()
}

func exportGeometry(exporter GeometryExporter, g orb.Geometry, t ShapeType) (Geometry, error) {
	if g == nil {
		return NullShape{}, nil
	}
	if exporter == nil {
		exporter = OrbExporter{}
	}
	return exporter.ExportGeometry(g, t)
}

// collectionShapeType returns the shape type able to hold every geometry.
// Points mixed with multipoints are written as multipoints.
func collectionShapeType(geometries []orb.Geometry) (ShapeType, error) {
	t := TypeNull
	for i, g := range geometries {
		if g == nil {
			continue
		}
		gt := orbToShapeType(g)
		switch {
		case gt == TypeNull:
			return TypeNull, fmt.Errorf("%w: %s at %d", ErrUnsupportedType, g.GeoJSONType(), i)
		case t == TypeNull || t == gt:
			t = gt
		case (t == TypePoint && gt == TypeMultiPoint) || (t == TypeMultiPoint && gt == TypePoint):
			t = TypeMultiPoint
		default:
			return TypeNull, fmt.Errorf("%w: %s mixed with %s at %d", ErrUnsupportedType, g.GeoJSONType(), t, i)
		}
	}
	if t == TypeNull {
		return TypeNull, ErrNilGeometry
	}
	return t, nil
}

// openSibling opens base+ext, trying the upper-cased extension too.
func openSibling(base, ext string) (*os.File, error) {
	f, err := os.Open(base + ext)
	if errors.Is(err, fs.ErrNotExist) {
		if g, uerr := os.Open(base + strings.ToUpper(ext)); uerr == nil {
			return g, nil
		}
	}
	return f, err
}

func trimExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".shx", ".dbf":
		return strings.TrimSuffix(path, filepath.Ext(path))
	}
	return path
}

// withoutClose hides the Close method of w so that wrapping writers leave
// the caller's stream open. Seeking is kept when w supports it.
func withoutClose(w io.Writer) io.Writer {
	if ws, ok := w.(io.WriteSeeker); ok {
		return struct{ io.WriteSeeker }{ws}
	}
	return struct{ io.Writer }{w}
}
