package shapefile

import (
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/dbf"
)

// AttributeReader supplies the attributes of each .shp record, in record
// order. dbf.Reader implements it.
type AttributeReader interface {
	// ReadHeader reads the attribute schema. It is called once, right after
	// the .shp header.
	ReadHeader() ([]dbf.Field, error)
	// ReadRecord returns the attributes of the next record, or io.EOF.
	// It is called once per .shp record, including filtered ones.
	ReadRecord() (geojson.Properties, error)
	Close() error
}

// AttributeSeeker is implemented by attribute readers that can move to a
// record. Reader.Seek uses it to keep attributes aligned.
type AttributeSeeker interface {
	Seek(i int) error
}

// AttributeWriter stores the attributes of each written .shp record, in
// record order. dbf.Writer implements it.
type AttributeWriter interface {
	// WriteHeader derives the schema from the first batch of elements.
	WriteHeader(batch []geojson.Properties) error
	// WriteRecord is called once per .shp record, in the same order.
	WriteRecord(props geojson.Properties) error
	Close() error
}

var (
	_ AttributeReader = (*dbf.Reader)(nil)
	_ AttributeSeeker = (*dbf.Reader)(nil)
	_ AttributeWriter = (*dbf.Writer)(nil)
)
