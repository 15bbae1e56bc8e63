package shapefile

import (
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/dbf"
)

// ReaderOptions configures shapefile reading.
type ReaderOptions struct {
	DisableSeek bool // Read through a sliding window; Seek is unavailable
	BlockSize   int  // Window size when DisableSeek is set

	Index      *IndexReader        // .shx reader, required by Seek and Len
	Attributes AttributeReader     // .dbf reader, advanced in lockstep with records
	Filter     func(*Record) bool  // Records for which Filter returns false are skipped
	Factory    GeometryFactory     // Converts records for ReadFeature (default: OrbFactory)
	Progress   Progress            // Receives (bytes read, file length)
}

// DefaultReaderOptions returns default options for reading shapefiles.
func DefaultReaderOptions() *ReaderOptions {
	return &ReaderOptions{
		BlockSize: BlockSize,
	}
}

type readerState int

const (
	readerCreated readerState = iota
	readerHeaderRead
	readerReading
	readerClosed
)

// Reader provides sequential, and with an index random, access to the
// records of a .shp file.
type Reader struct {
	r      io.Reader
	opts   *ReaderOptions
	state  readerState
	header *Header
	fields []dbf.Field
	buf    *readBuffer
	next   int
	err    error
}

// NewReader returns a reader of the .shp content of r. The reader owns r:
// if r is an io.Closer it is closed when the reader is closed, exhausted or
// fails.
func NewReader(r io.Reader, opts *ReaderOptions) *Reader {
	if opts == nil {
		opts = DefaultReaderOptions()
	}
	return &Reader{r: r, opts: opts}
}

// Header reads the .shp header (and the attribute header) on first use and
// returns it.
func (r *Reader) Header() (*Header, error) {
	if r.header != nil {
		return r.header, nil
	}
	if r.state == readerClosed {
		return nil, r.closedErr()
	}

	h, err := readHeader(r.r)
	if err != nil {
		return nil, r.fail(err)
	}
	if r.opts.Attributes != nil {
		if r.fields, err = r.opts.Attributes.ReadHeader(); err != nil {
			return nil, r.fail(fmt.Errorf("attributes: %w", err))
		}
	}
	if r.opts.DisableSeek {
		r.buf = newSlidingReader(r.r, r.opts.BlockSize)
	} else if r.buf, err = newBufferedReader(r.r, h.FileLength); err != nil {
		return nil, r.fail(err)
	}

	r.header = h
	r.state = readerHeaderRead
	r.report()
	return h, nil
}

// Type returns the shape type declared by the header.
func (r *Reader) Type() (ShapeType, error) {
	h, err := r.Header()
	if err != nil {
		return TypeNull, err
	}
	return h.Type, nil
}

// Fields returns the attribute schema, or nil without an attribute reader.
func (r *Reader) Fields() ([]dbf.Field, error) {
	if _, err := r.Header(); err != nil {
		return nil, err
	}
	return r.fields, nil
}

// Len returns the number of records listed in the index.
func (r *Reader) Len() (int, error) {
	if r.opts.Index == nil {
		return 0, fmt.Errorf("%w: no index", ErrSeekUnsupported)
	}
	return r.opts.Index.Len()
}

// Position returns the file offset of the next record.
func (r *Reader) Position() int64 {
	if r.buf == nil {
		return 0
	}
	return r.buf.position()
}

// Read returns the next record accepted by the filter. It returns io.EOF
// once every record has been read; the reader is then closed.
func (r *Reader) Read() (*Record, error) {
	if r.state == readerClosed {
		return nil, r.closedErr()
	}
	if _, err := r.Header(); err != nil {
		return nil, err
	}
	r.state = readerReading

	for {
		end, err := r.atEnd()
		if err != nil {
			return nil, r.fail(err)
		}
		if end {
			r.finish()
			return nil, io.EOF
		}

		rec, err := decodeRecord(r.buf, r.next, r.header.Type)
		if err != nil {
			return nil, r.fail(err)
		}
		r.next++

		// The attribute cursor moves for every record, filtered or not.
		if r.opts.Attributes != nil {
			props, err := r.opts.Attributes.ReadRecord()
			if errors.Is(err, io.EOF) {
				return nil, r.fail(fmt.Errorf("%w: attributes end before record %d", ErrFormat, rec.Number()))
			}
			if err != nil {
				return nil, r.fail(fmt.Errorf("attributes of record %d: %w", rec.Number(), err))
			}
			rec.Attributes = props
		}
		r.report()

		if r.opts.Filter != nil && !r.opts.Filter(rec) {
			continue
		}
		return rec, nil
	}
}

func (r *Reader) atEnd() (bool, error) {
	if r.header.FileLength > HeaderSize && r.buf.position() >= r.header.FileLength {
		return true, nil
	}
	return r.buf.atEnd()
}

// Seek positions the reader on record i. It needs an index and a reader
// with seeking enabled. The attribute reader follows when it implements
// AttributeSeeker.
func (r *Reader) Seek(i int) error {
	if r.state == readerClosed {
		return r.closedErr()
	}
	if r.opts.Index == nil {
		return fmt.Errorf("%w: no index", ErrSeekUnsupported)
	}
	if r.opts.DisableSeek {
		return fmt.Errorf("%w: seeking disabled", ErrSeekUnsupported)
	}
	e, err := r.opts.Index.Entry(i)
	if err != nil {
		return err
	}
	if _, err := r.Header(); err != nil {
		return err
	}
	if err := r.buf.seek(e.Offset); err != nil {
		return err
	}
	if s, ok := r.opts.Attributes.(AttributeSeeker); ok {
		if err := s.Seek(i); err != nil {
			return fmt.Errorf("attributes: %w", err)
		}
	}
	r.next = i
	r.state = readerReading
	return nil
}

// ReadFeature returns the next non-null record as a feature carrying its
// attributes as properties.
func (r *Reader) ReadFeature() (*geojson.Feature, error) {
	for {
		rec, err := r.Read()
		if err != nil {
			return nil, err
		}
		f, err := r.feature(rec)
		if err != nil {
			return nil, r.fail(err)
		}
		if f != nil {
			return f, nil
		}
	}
}

// ReadAll reads all remaining records as a FeatureCollection.
func (r *Reader) ReadAll() (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for {
		f, err := r.ReadFeature()
		if errors.Is(err, io.EOF) {
			return fc, nil
		}
		if err != nil {
			return nil, err
		}
		fc.Append(f)
	}
}

// ReadGeometries reads all remaining geometries without attributes.
func (r *Reader) ReadGeometries() ([]orb.Geometry, error) {
	fc, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	geometries := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geometries = append(geometries, f.Geometry)
		}
	}
	return geometries, nil
}

// feature converts rec, returning nil for records without geometry.
func (r *Reader) feature(rec *Record) (*geojson.Feature, error) {
	factory := r.opts.Factory
	if factory == nil {
		factory = OrbFactory{}
	}
	g, err := factory.NewGeometry(rec)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.Number(), err)
	}
	if g == nil {
		return nil, nil
	}

	f := geojson.NewFeature(g)
	f.ID = rec.Index
	if rec.Attributes != nil {
		f.Properties = rec.Attributes
	}
	return f, nil
}

func (r *Reader) report() {
	if r.opts.Progress == nil || r.buf == nil {
		return
	}
	total := int64(0)
	if r.header != nil && r.header.FileLength > HeaderSize {
		total = r.header.FileLength
	}
	r.opts.Progress.Progress(r.buf.position(), total)
}

// Close releases the reader, its stream and its collaborators.
func (r *Reader) Close() error {
	if r.state == readerClosed {
		return nil
	}
	if r.err == nil {
		r.err = ErrClosed
	}
	return r.close()
}

func (r *Reader) finish() {
	r.err = io.EOF
	_ = r.close()
}

func (r *Reader) fail(err error) error {
	r.err = err
	_ = r.close()
	return err
}

func (r *Reader) closedErr() error {
	if r.err == nil {
		return ErrClosed
	}
	return r.err
}

func (r *Reader) close() error {
	if r.state == readerClosed {
		return nil
	}
	r.state = readerClosed
	r.buf = nil

	var errs []error
	if r.opts.Index != nil {
		errs = append(errs, r.opts.Index.Close())
	}
	if r.opts.Attributes != nil {
		errs = append(errs, r.opts.Attributes.Close())
	}
	if c, ok := r.r.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
