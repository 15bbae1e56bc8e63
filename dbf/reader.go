package dbf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/text/encoding"
)

// Reader reads the records of a table in order.
type Reader struct {
	r          io.Reader
	fields     []Field
	numRecords int
	headerLen  int
	recordLen  int
	codePage   CodePage
	updated    time.Time
	dec        *encoding.Decoder
	record     []byte
	read       int
	header     bool
	closed     bool
}

// NewReader returns a reader of the table in r. If r is an io.Closer it is
// closed by Close.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadHeader reads the table header and field descriptors on first use and
// returns the fields.
func (r *Reader) ReadHeader() ([]Field, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.header {
		return r.fields, nil
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return nil, truncated("header", err)
	}
	le := binary.LittleEndian
	numRecords := le.Uint32(hdr[recordCountOffset:])
	headerLen := int(le.Uint16(hdr[8:]))
	recordLen := int(le.Uint16(hdr[10:]))
	if headerLen < headerSize+1 {
		return nil, fmt.Errorf("%w: header length %d", ErrFormat, headerLen)
	}

	rest := make([]byte, headerLen-headerSize)
	if _, err := io.ReadFull(r.r, rest); err != nil {
		return nil, truncated("field descriptors", err)
	}

	var fields []Field
	width := 1
	for off := 0; off+descriptorSize <= len(rest) && rest[off] != fieldTerminator; off += descriptorSize {
		d := rest[off : off+descriptorSize]
		name := d[:MaxNameLength+1]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		f := Field{
			Name:     strings.TrimSpace(string(name)),
			Type:     FieldType(d[11]),
			Length:   int(d[16]),
			Decimals: int(d[17]),
		}
		if f.Type == Character {
			// Character fields wider than 255 keep the high byte in the
			// decimal count.
			f.Length += f.Decimals << 8
			f.Decimals = 0
		}
		if !f.Type.valid() {
			return nil, fmt.Errorf("%w: field %q has unsupported type %q", ErrFormat, f.Name, f.Type)
		}
		fields = append(fields, f)
		width += f.Length
	}
	if width != recordLen {
		return nil, fmt.Errorf("%w: record length %d, fields need %d", ErrFormat, recordLen, width)
	}

	r.fields = fields
	r.numRecords = int(numRecords)
	r.headerLen = headerLen
	r.recordLen = recordLen
	r.codePage = CodePage(hdr[codePageOffset])
	r.updated = time.Date(1900+int(hdr[1]), time.Month(hdr[2]), int(hdr[3]), 0, 0, 0, 0, time.UTC)
	r.dec = r.codePage.Encoding().NewDecoder()
	r.record = make([]byte, recordLen)
	r.header = true
	return fields, nil
}

// Fields returns the fields read by ReadHeader.
func (r *Reader) Fields() []Field {
	return r.fields
}

// Len returns the number of records declared by the header.
func (r *Reader) Len() int {
	return r.numRecords
}

// CodePage returns the language driver of the table.
func (r *Reader) CodePage() CodePage {
	return r.codePage
}

// Updated returns the date of last update stored in the header.
func (r *Reader) Updated() time.Time {
	return r.updated
}

// ReadRecord returns the next record, or io.EOF after the last one. Blank
// values are returned as nil. Deleted records are returned like any other
// so that callers stay aligned with the matching shapes.
func (r *Reader) ReadRecord() (geojson.Properties, error) {
	if _, err := r.ReadHeader(); err != nil {
		return nil, err
	}
	if r.read >= r.numRecords {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.r, r.record); err != nil {
		return nil, truncated(fmt.Sprintf("record %d", r.read+1), err)
	}
	if flag := r.record[0]; flag != recordValid && flag != recordDeleted {
		return nil, fmt.Errorf("%w: record %d has flag %#x", ErrFormat, r.read+1, flag)
	}

	props := make(geojson.Properties, len(r.fields))
	off := 1
	for _, f := range r.fields {
		v, err := r.value(f, r.record[off:off+f.Length])
		if err != nil {
			return nil, fmt.Errorf("record %d, field %s: %w", r.read+1, f.Name, err)
		}
		props[f.Name] = v
		off += f.Length
	}
	r.read++
	return props, nil
}

// Seek positions the reader on record i. The underlying stream must be an
// io.Seeker. Seeking past the last record makes ReadRecord return io.EOF.
func (r *Reader) Seek(i int) error {
	if _, err := r.ReadHeader(); err != nil {
		return err
	}
	s, ok := r.r.(io.Seeker)
	if !ok {
		return ErrSeekUnsupported
	}
	if i < 0 {
		return fmt.Errorf("%w: record %d", ErrFormat, i)
	}
	if i >= r.numRecords {
		r.read = r.numRecords
		return nil
	}
	off := int64(r.headerLen) + int64(i)*int64(r.recordLen)
	if _, err := s.Seek(off, io.SeekStart); err != nil {
		return err
	}
	r.read = i
	return nil
}

func (r *Reader) value(f Field, raw []byte) (interface{}, error) {
	if f.Type == Character {
		s, err := r.dec.Bytes(bytes.TrimRight(raw, " \x00"))
		if err != nil {
			return nil, err
		}
		return string(s), nil
	}

	s := strings.TrimSpace(string(bytes.Trim(raw, "\x00")))
	if s == "" {
		return nil, nil
	}
	switch f.Type {
	case Numeric, Float:
		if strings.Trim(s, "*") == "" {
			return nil, nil
		}
		if f.Type == Numeric && f.Decimals == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v, nil
			}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrFormat, s)
		}
		return v, nil
	case Logical:
		switch s {
		case "T", "t", "Y", "y":
			return true, nil
		case "F", "f", "N", "n":
			return false, nil
		case "?":
			return nil, nil
		}
		return nil, fmt.Errorf("%w: logical %q", ErrFormat, s)
	case Date:
		if strings.Trim(s, "0") == "" {
			return nil, nil
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q", ErrFormat, s)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: field type %q", ErrFormat, f.Type)
}

const dateLayout = "20060102"

// Close releases the reader and closes the underlying stream.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s", ErrTruncated, what)
	}
	return err
}
