package dbf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/internal/stage"
	"golang.org/x/text/encoding"
)

// WriterOptions configures table writing.
type WriterOptions struct {
	CodePage    CodePage         // Language driver (default: CodePageANSI, Windows-1252)
	StagingDir  string           // Stage non-seekable output in a temp file here instead of memory
	DisableSeek bool             // Stage output even when the destination can seek
	Now         func() time.Time // Date of last update (default: time.Now)
}

// DefaultWriterOptions returns default options for writing tables.
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		CodePage: CodePageANSI,
		Now:      time.Now,
	}
}

// Numeric field sizes used by InferFields.
const (
	integerLength = 18
	realLength    = 24
	realDecimals  = 8
)

// Writer writes a table. The record count in the header is patched at
// Close.
type Writer struct {
	w      io.Writer
	opts   *WriterOptions
	sink   *stage.Sink
	enc    *encoding.Encoder
	fields []Field
	keys   []string
	count  int
	header bool
	closed bool
}

// NewWriter returns a writer of a table to w. If w is an io.Closer it is
// closed by Close.
func NewWriter(w io.Writer, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = DefaultWriterOptions()
	}
	sink, err := stage.New(w, stage.Options{Dir: opts.StagingDir, NoSeek: opts.DisableSeek})
	if err != nil {
		return nil, err
	}
	return &Writer{
		w:    w,
		opts: opts,
		sink: sink,
		enc:  encoding.ReplaceUnsupported(opts.CodePage.Encoding().NewEncoder()),
	}, nil
}

// InferFields derives a schema from a batch of records. Fields are sorted
// by lower-cased name. Names longer than MaxNameLength are truncated.
//
// Booleans become Logical fields, times Date fields, whole numbers
// Numeric fields without decimals and other numbers Numeric fields with
// decimals. Anything else, and fields mixing kinds, become Character
// fields wide enough for the longest value.
func InferFields(batch []geojson.Properties) ([]Field, error) {
	fields, _, err := inferFields(batch, nil)
	return fields, err
}

type fieldKind int

const (
	kindNone fieldKind = iota
	kindBool
	kindDate
	kindInt
	kindReal
	kindText
)

func kindOf(v interface{}) fieldKind {
	switch n := v.(type) {
	case nil:
		return kindNone
	case bool:
		return kindBool
	case time.Time:
		return kindDate
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32:
		return realKind(float64(n))
	case float64:
		return realKind(n)
	}
	return kindText
}

// realKind treats whole floats, such as numbers decoded from JSON, as
// integers.
func realKind(f float64) fieldKind {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return kindInt
	}
	return kindReal
}

func mergeKinds(a, b fieldKind) fieldKind {
	switch {
	case a == kindNone:
		return b
	case b == kindNone || a == b:
		return a
	case (a == kindInt && b == kindReal) || (a == kindReal && b == kindInt):
		return kindReal
	}
	return kindText
}

func inferFields(batch []geojson.Properties, enc *encoding.Encoder) ([]Field, []string, error) {
	kinds := make(map[string]fieldKind)
	widths := make(map[string]int)
	for _, props := range batch {
		for k, v := range props {
			kinds[k] = mergeKinds(kinds[k], kindOf(v))
			if n := len(textValue(v, enc)); n > widths[k] {
				widths[k] = n
			}
		}
	}
	if len(kinds) > MaxFields {
		return nil, nil, fmt.Errorf("%w: %d, at most %d", ErrTooManyFields, len(kinds), MaxFields)
	}

	keys := make([]string, 0, len(kinds))
	for k := range kinds {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if a == b {
			return keys[i] < keys[j]
		}
		return a < b
	})

	fields := make([]Field, len(keys))
	seen := make(map[string]string, len(keys))
	for i, k := range keys {
		name := k
		if len(name) > MaxNameLength {
			name = name[:MaxNameLength]
		}
		if prev, ok := seen[strings.ToLower(name)]; ok {
			return nil, nil, fmt.Errorf("%w: fields %q and %q share the name %q", ErrFormat, prev, k, name)
		}
		seen[strings.ToLower(name)] = k

		f := Field{Name: name}
		switch kinds[k] {
		case kindBool:
			f.Type, f.Length = Logical, 1
		case kindDate:
			f.Type, f.Length = Date, len(dateLayout)
		case kindInt:
			f.Type, f.Length = Numeric, integerLength
		case kindReal:
			f.Type, f.Length, f.Decimals = Numeric, realLength, realDecimals
		default:
			f.Type, f.Length = Character, clamp(widths[k], 1, MaxCharLength)
		}
		fields[i] = f
	}
	return fields, keys, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteHeader infers the schema from batch and writes the header. Later
// calls are ignored.
func (w *Writer) WriteHeader(batch []geojson.Properties) error {
	if w.closed {
		return ErrClosed
	}
	if w.header {
		return nil
	}
	fields, keys, err := inferFields(batch, w.enc)
	if err != nil {
		return err
	}
	return w.writeHeader(fields, keys, len(batch))
}

// WriteFields writes a header with an explicit schema. Records are looked
// up by field name.
func (w *Writer) WriteFields(fields []Field) error {
	if w.closed {
		return ErrClosed
	}
	if w.header {
		return nil
	}
	if len(fields) > MaxFields {
		return fmt.Errorf("%w: %d, at most %d", ErrTooManyFields, len(fields), MaxFields)
	}
	keys := make([]string, len(fields))
	for i, f := range fields {
		if !f.Type.valid() || f.Length <= 0 || len(f.Name) > MaxNameLength {
			return fmt.Errorf("%w: field %s", ErrFormat, f)
		}
		keys[i] = f.Name
	}
	return w.writeHeader(fields, keys, 0)
}

func (w *Writer) writeHeader(fields []Field, keys []string, count int) error {
	recordLen := 1
	for _, f := range fields {
		recordLen += f.Length
	}

	buf := make([]byte, headerSize+len(fields)*descriptorSize+1)
	le := binary.LittleEndian
	now := time.Now
	if w.opts.Now != nil {
		now = w.opts.Now
	}
	t := now()
	buf[0] = Version
	buf[1] = byte(t.Year() - 1900)
	buf[2] = byte(t.Month())
	buf[3] = byte(t.Day())
	le.PutUint32(buf[recordCountOffset:], uint32(count))
	le.PutUint16(buf[8:], uint16(len(buf)))
	le.PutUint16(buf[10:], uint16(recordLen))
	buf[codePageOffset] = byte(w.opts.CodePage)

	for i, f := range fields {
		d := buf[headerSize+i*descriptorSize:]
		copy(d[:MaxNameLength], f.Name)
		d[11] = byte(f.Type)
		d[16] = byte(f.Length)
		d[17] = byte(f.Decimals)
		if f.Type == Character {
			d[17] = byte(f.Length >> 8)
		}
	}
	buf[len(buf)-1] = fieldTerminator

	if _, err := w.sink.Write(buf); err != nil {
		return err
	}
	w.fields = fields
	w.keys = keys
	w.header = true
	return nil
}

// Fields returns the schema written by WriteHeader.
func (w *Writer) Fields() []Field {
	return w.fields
}

// Len returns the number of records written.
func (w *Writer) Len() int {
	return w.count
}

// WriteRecord appends a record. Missing and nil values are written blank.
func (w *Writer) WriteRecord(props geojson.Properties) error {
	if w.closed {
		return ErrClosed
	}
	if !w.header {
		return ErrHeaderNotWritten
	}

	rec := make([]byte, 1, 64)
	rec[0] = recordValid
	for i, f := range w.fields {
		b, err := w.format(f, props[w.keys[i]])
		if err != nil {
			return fmt.Errorf("record %d, field %s: %w", w.count+1, f.Name, err)
		}
		rec = append(rec, b...)
	}
	if _, err := w.sink.Write(rec); err != nil {
		return err
	}
	w.count++
	return nil
}

func (w *Writer) format(f Field, v interface{}) ([]byte, error) {
	out := []byte(strings.Repeat(" ", f.Length))
	if v == nil {
		return out, nil
	}

	switch f.Type {
	case Character:
		copy(out, textValue(v, w.enc))
	case Logical:
		out[0] = '?'
		if b, ok := v.(bool); ok {
			out[0] = 'F'
			if b {
				out[0] = 'T'
			}
		}
	case Date:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: %T in a date field", ErrFormat, v)
		}
		copy(out, t.Format(dateLayout))
	case Numeric, Float:
		s, ok := numberValue(v, f.Decimals)
		if !ok {
			return nil, fmt.Errorf("%w: %T in a numeric field", ErrFormat, v)
		}
		if len(s) > f.Length {
			// Overflowing numbers are starred out.
			s = strings.Repeat("*", f.Length)
		}
		copy(out[f.Length-len(s):], s)
	}
	return out, nil
}

func numberValue(v interface{}, decimals int) (string, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		if decimals == 0 {
			return strconv.FormatInt(n, 10), true
		}
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		if decimals == 0 {
			return strconv.FormatUint(n, 10), true
		}
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return "", false
		}
	default:
		return "", false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", true
	}
	return strconv.FormatFloat(f, 'f', decimals, 64), true
}

// textValue returns v as code page bytes.
func textValue(v interface{}, enc *encoding.Encoder) []byte {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case time.Time:
		s = t.Format(dateLayout)
	default:
		s = fmt.Sprint(v)
	}
	if enc == nil {
		return []byte(s)
	}
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// Close writes the end-of-file marker, patches the record count and closes
// the underlying stream. A writer closed before WriteHeader writes an empty
// table.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := func() error {
		if !w.header {
			if err := w.writeHeader(nil, nil, 0); err != nil {
				return err
			}
		}
		if _, err := w.sink.Write([]byte{endOfFile}); err != nil {
			return err
		}
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], uint32(w.count))
		return w.sink.Patch(recordCountOffset, count[:])
	}()
	w.closed = true

	if err != nil {
		_ = w.sink.Abort()
	} else {
		err = w.sink.Close()
	}
	if c, ok := w.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
