package shapefile

import (
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/internal/stage"
)

// Element is one record to write: its geometry and the attributes that go
// to the attribute writer at the same index.
type Element struct {
	Shape      Geometry
	Attributes geojson.Properties
}

// BoundsFunc returns the bounds written to the header. It receives the
// first batch passed to Write, or an empty batch when the writer is closed
// without elements. Close widens the header bounds to cover every record
// written.
type BoundsFunc func(batch []Element) (Bounds, error)

// BatchBounds is a BoundsFunc returning the bounds of the batch.
func BatchBounds(batch []Element) (Bounds, error) {
	b := EmptyBounds()
	for _, e := range batch {
		b.AddGeometry(e.Shape)
	}
	return b, nil
}

// WriterOptions configures shapefile writing.
type WriterOptions struct {
	StagingDir  string // Stage non-seekable output in a temp file here instead of memory
	DisableSeek bool   // Stage output even when the destination can seek

	Bounds     BoundsFunc       // Header bounds; required
	Index      *IndexWriter     // .shx writer, fed one entry per record
	Attributes AttributeWriter  // .dbf writer, fed one record per record
	Exporter   GeometryExporter // Used by WriteGeometry (default: OrbExporter)
	Progress   Progress         // Receives (bytes written, 0)
}

// DefaultWriterOptions returns default options for writing shapefiles.
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		Bounds: BatchBounds,
	}
}

type writerState int

const (
	writerCreated writerState = iota
	writerHeaderWritten
	writerWriting
	writerClosed
)

// Writer writes records to a .shp file, keeping the index and attribute
// writers in lockstep.
type Writer struct {
	w       io.Writer
	typ     ShapeType
	opts    *WriterOptions
	sink    *stage.Sink
	state   writerState
	header  *Header
	bounds  Bounds
	count   int
	scratch []byte
	err     error
}

// NewWriter returns a writer of shapes of type t to w. The writer owns w:
// if w is an io.Closer it is closed when the writer is closed or fails.
func NewWriter(w io.Writer, t ShapeType, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	if !t.Valid() {
		closeQuietly(w)
		return nil, fmt.Errorf("%w: unknown shape type %d", ErrFormat, int32(t))
	}
	sink, err := stage.New(w, stage.Options{Dir: opts.StagingDir, NoSeek: opts.DisableSeek})
	if err != nil {
		closeQuietly(w)
		return nil, err
	}
	return &Writer{
		w:      w,
		typ:    t,
		opts:   opts,
		sink:   sink,
		bounds: EmptyBounds(),
	}, nil
}

// Type returns the shape type of the file.
func (w *Writer) Type() ShapeType {
	return w.typ
}

// Len returns the number of records written.
func (w *Writer) Len() int {
	return w.count
}

// Bounds returns the bounds of the records written so far.
func (w *Writer) Bounds() Bounds {
	return w.bounds
}

// Write appends elems. The first call writes the headers of the file, the
// index and the attributes.
//
// An element that cannot be encoded is reported without anything being
// written, and the writer stays usable. I/O failures abort the writer.
func (w *Writer) Write(elems ...Element) error {
	if w.state == writerClosed {
		return w.closedErr()
	}
	if w.state == writerCreated {
		if err := w.writeHeader(elems); err != nil {
			return err
		}
	}
	w.state = writerWriting

	for _, e := range elems {
		buf, err := encodeRecord(w.scratch[:0], w.count, w.typ, e.Shape)
		if err != nil {
			return err
		}
		w.scratch = buf

		if _, err := w.sink.Write(buf); err != nil {
			return w.fail(err)
		}
		if w.opts.Index != nil {
			if err := w.opts.Index.Append(len(buf) - recordFrameSize); err != nil {
				return w.fail(fmt.Errorf("index: %w", err))
			}
		}
		if w.opts.Attributes != nil {
			if err := w.opts.Attributes.WriteRecord(e.Attributes); err != nil {
				return w.fail(fmt.Errorf("attributes of record %d: %w", w.count+1, err))
			}
		}
		w.bounds.AddGeometry(e.Shape)
		w.count++
		w.report()
	}
	return nil
}

// WriteGeometry converts g with the exporter and writes it. A nil g is
// written as a null record.
func (w *Writer) WriteGeometry(g orb.Geometry, props geojson.Properties) error {
	if g == nil {
		return w.Write(Element{Shape: NullShape{}, Attributes: props})
	}
	exporter := w.opts.Exporter
	if exporter == nil {
		exporter = OrbExporter{}
	}
	shape, err := exporter.ExportGeometry(g, w.typ)
	if err != nil {
		return err
	}
	return w.Write(Element{Shape: shape, Attributes: props})
}

func (w *Writer) writeHeader(batch []Element) error {
	if w.opts.Bounds == nil {
		return ErrBoundsUnavailable
	}
	bounds, err := w.opts.Bounds(batch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBoundsUnavailable, err)
	}
	return w.emitHeader(bounds, batch)
}

func (w *Writer) emitHeader(bounds Bounds, batch []Element) error {
	bounds.Normalize()
	h := NewHeader(w.typ, bounds)
	if _, err := w.sink.Write(h.encode()); err != nil {
		return w.fail(err)
	}

	if x := w.opts.Index; x != nil {
		if t := x.Type(); t != TypeNull && t != w.typ {
			return w.fail(fmt.Errorf("%w: index holds %s records, writer %s", ErrFormat, t, w.typ))
		}
		if err := x.WriteHeader(h); err != nil {
			return w.fail(fmt.Errorf("index: %w", err))
		}
	}
	if w.opts.Attributes != nil {
		props := make([]geojson.Properties, len(batch))
		for i, e := range batch {
			props[i] = e.Attributes
		}
		if err := w.opts.Attributes.WriteHeader(props); err != nil {
			return w.fail(fmt.Errorf("attributes: %w", err))
		}
	}

	w.header = h
	w.state = writerHeaderWritten
	return nil
}

func (w *Writer) report() {
	if w.opts.Progress != nil {
		w.opts.Progress.Progress(w.sink.Len(), 0)
	}
}

// Close writes the header if nothing was written, patches the file length
// and the bounds, then closes the index, the attribute writer and the
// destination.
func (w *Writer) Close() error {
	if w.state == writerClosed {
		return nil
	}
	if w.state == writerCreated {
		bounds := EmptyBounds()
		if w.opts.Bounds != nil {
			if b, err := w.opts.Bounds(nil); err == nil {
				bounds = b
			}
		}
		if err := w.emitHeader(bounds, nil); err != nil {
			return err
		}
	}
	w.state = writerClosed
	w.err = ErrClosed

	bounds := w.header.Bounds
	bounds.Union(w.bounds)
	bounds.Normalize()
	w.header.Bounds = bounds

	var errs []error
	err := w.sink.Patch(fileLengthOffset, fileLengthField(w.sink.Len()))
	if err == nil {
		err = w.sink.Patch(boundsOffset, boundsField(bounds))
	}
	if err != nil {
		errs = append(errs, err, w.sink.Abort())
	} else {
		errs = append(errs, w.sink.Close())
	}
	if x := w.opts.Index; x != nil {
		if err := x.setBounds(bounds); err != nil {
			errs = append(errs, err, x.abort())
		} else {
			errs = append(errs, x.Close())
		}
	}
	if w.opts.Attributes != nil {
		errs = append(errs, w.opts.Attributes.Close())
	}
	if c, ok := w.w.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// fail aborts the writer and every collaborator without emitting staged
// bytes.
func (w *Writer) fail(err error) error {
	if w.state == writerClosed {
		return err
	}
	w.state = writerClosed
	w.err = err

	_ = w.sink.Abort()
	if w.opts.Index != nil {
		_ = w.opts.Index.abort()
	}
	if w.opts.Attributes != nil {
		_ = w.opts.Attributes.Close()
	}
	closeQuietly(w.w)
	return err
}

func (w *Writer) closedErr() error {
	if w.err == nil || w.err == ErrClosed {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, w.err)
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
