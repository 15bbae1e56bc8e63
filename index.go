package shapefile

import (
	"errors"
	"fmt"
	"io"

	"github.com/tingold/orb-shapefile/internal/stage"
)

// IndexEntry locates one record of the .shp file.
type IndexEntry struct {
	Index         int   // 0-based record index
	Offset        int64 // byte offset of the record frame from the start of the .shp file
	ContentLength int   // record content length in bytes, frame excluded
}

// RecordLength returns the on-disk length of the record, frame included.
func (e IndexEntry) RecordLength() int {
	return e.ContentLength + recordFrameSize
}

// IndexReader reads a .shx file.
type IndexReader struct {
	r      io.Reader
	opts   *ReaderOptions
	header *Header
	buf    *readBuffer
	next   int
	closed bool
}

// NewIndexReader returns a reader for the .shx content of r. Only the
// DisableSeek and BlockSize options apply. If r is an io.Closer it is
// closed by Close.
func NewIndexReader(r io.Reader, opts *ReaderOptions) *IndexReader {
	if opts == nil {
		opts = DefaultReaderOptions()
	}
	return &IndexReader{r: r, opts: opts}
}

// Header reads the header on first use and returns it.
func (x *IndexReader) Header() (*Header, error) {
	if x.closed {
		return nil, ErrClosed
	}
	if x.header != nil {
		return x.header, nil
	}
	h, err := readHeader(x.r)
	if err != nil {
		return nil, err
	}
	if x.opts.DisableSeek {
		x.buf = newSlidingReader(x.r, x.opts.BlockSize)
	} else if x.buf, err = newBufferedReader(x.r, h.FileLength); err != nil {
		return nil, err
	}
	x.header = h
	return h, nil
}

// Len returns the number of entries declared by the header.
func (x *IndexReader) Len() (int, error) {
	h, err := x.Header()
	if err != nil {
		return 0, err
	}
	if h.FileLength < HeaderSize {
		if x.buf.sliding {
			return 0, nil
		}
		return x.buf.limit / indexEntrySize, nil
	}
	return int((h.FileLength - HeaderSize) / indexEntrySize), nil
}

// Read returns the next entry, or io.EOF after the last one.
func (x *IndexReader) Read() (IndexEntry, error) {
	n, err := x.Len()
	if err != nil {
		return IndexEntry{}, err
	}
	if x.next >= n {
		return IndexEntry{}, io.EOF
	}
	e, err := x.decode(x.next)
	if err != nil {
		return IndexEntry{}, err
	}
	x.next++
	return e, nil
}

// Seek positions the reader on entry i.
func (x *IndexReader) Seek(i int) error {
	n, err := x.Len()
	if err != nil {
		return err
	}
	if i < 0 || i >= n {
		return fmt.Errorf("%w: index entry %d of %d", ErrTruncated, i, n)
	}
	if err := x.buf.seek(HeaderSize + int64(i)*indexEntrySize); err != nil {
		return err
	}
	x.next = i
	return nil
}

// Entry returns entry i.
func (x *IndexReader) Entry(i int) (IndexEntry, error) {
	if err := x.Seek(i); err != nil {
		return IndexEntry{}, err
	}
	return x.Read()
}

func (x *IndexReader) decode(i int) (IndexEntry, error) {
	offset, err := x.buf.readInt32(be)
	if err != nil {
		return IndexEntry{}, err
	}
	length, err := x.buf.readInt32(be)
	if err != nil {
		return IndexEntry{}, err
	}
	e := IndexEntry{Index: i, Offset: fromWords(offset), ContentLength: int(fromWords(length))}
	if e.Offset < HeaderSize || e.ContentLength < 0 {
		return IndexEntry{}, fmt.Errorf("%w: index entry %d has offset %d and length %d", ErrFormat, i, e.Offset, e.ContentLength)
	}
	return e, nil
}

// Close releases the reader and closes the underlying stream.
func (x *IndexReader) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true
	x.buf = nil
	if c, ok := x.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IndexWriter writes a .shx file alongside a .shp writer.
type IndexWriter struct {
	w      io.Writer
	sink   *stage.Sink
	header *Header
	offset int64
	count  int
	closed bool
}

// NewIndexWriter returns a writer emitting .shx content to w. Only the
// StagingDir and DisableSeek options apply. If w is an io.Closer it is
// closed by Close.
func NewIndexWriter(w io.Writer, opts *WriterOptions) (*IndexWriter, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	sink, err := stage.New(w, stage.Options{Dir: opts.StagingDir, NoSeek: opts.DisableSeek})
	if err != nil {
		return nil, err
	}
	return &IndexWriter{w: w, sink: sink}, nil
}

// WriteHeader emits a provisional header. The file length is patched by
// Close.
func (x *IndexWriter) WriteHeader(h *Header) error {
	if x.closed {
		return ErrClosed
	}
	if x.header != nil {
		return nil
	}
	hdr := *h
	hdr.FileLength = 0
	if _, err := x.sink.Write(hdr.encode()); err != nil {
		return err
	}
	x.header = &hdr
	x.offset = HeaderSize
	return nil
}

// setBounds replaces the bounding box of the header written.
func (x *IndexWriter) setBounds(b Bounds) error {
	if x.closed || x.header == nil {
		return nil
	}
	x.header.Bounds = b
	return x.sink.Patch(boundsOffset, boundsField(b))
}

// Type returns the shape type of the header written, or TypeNull before
// WriteHeader.
func (x *IndexWriter) Type() ShapeType {
	if x.header == nil {
		return TypeNull
	}
	return x.header.Type
}

// Len returns the number of entries written.
func (x *IndexWriter) Len() int {
	return x.count
}

// Append records a .shp record of contentLength bytes (frame excluded)
// written right after the previous one.
func (x *IndexWriter) Append(contentLength int) error {
	if x.closed {
		return ErrClosed
	}
	if x.header == nil {
		return errors.New("shapefile: index header not written")
	}
	var entry [indexEntrySize]byte
	be.PutUint32(entry[0:], uint32(toWords(x.offset)))
	be.PutUint32(entry[4:], uint32(toWords(int64(contentLength))))
	if _, err := x.sink.Write(entry[:]); err != nil {
		return err
	}
	x.offset += int64(contentLength) + recordFrameSize
	x.count++
	return nil
}

// Close patches the file length, flushes and closes the underlying stream.
func (x *IndexWriter) Close() error {
	if x.closed {
		return nil
	}
	x.closed = true

	var err error
	if x.header != nil {
		err = x.sink.Patch(fileLengthOffset, fileLengthField(x.sink.Len()))
	}
	if err == nil {
		err = x.sink.Close()
	} else {
		_ = x.sink.Abort()
	}
	if c, ok := x.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// abort releases the writer after a failure without emitting staged bytes.
func (x *IndexWriter) abort() error {
	if x.closed {
		return nil
	}
	x.closed = true
	err := x.sink.Abort()
	if c, ok := x.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RebuildIndex reads the .shp content of shp and writes the matching .shx
// content to shx. It returns the number of entries written. Neither stream
// is closed.
func RebuildIndex(shp io.Reader, shx io.Writer) (int, error) {
	r := NewReader(struct{ io.Reader }{shp}, &ReaderOptions{DisableSeek: true})
	defer r.Close()

	h, err := r.Header()
	if err != nil {
		return 0, err
	}
	x, err := NewIndexWriter(withoutClose(shx), nil)
	if err != nil {
		return 0, err
	}
	if err := x.WriteHeader(h); err != nil {
		_ = x.abort()
		return 0, err
	}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = x.abort()
			return x.Len(), err
		}
		if err := x.Append(rec.Length - recordFrameSize); err != nil {
			_ = x.abort()
			return x.Len(), err
		}
	}
	return x.Len(), x.Close()
}
