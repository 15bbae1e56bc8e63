package shapefile

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/dbf"
)

// fakeAttributes serves rows in order and records how it was used.
type fakeAttributes struct {
	fields []dbf.Field
	rows   []geojson.Properties
	reads  int
	closed bool
}

func (a *fakeAttributes) ReadHeader() ([]dbf.Field, error) {
	return a.fields, nil
}

func (a *fakeAttributes) ReadRecord() (geojson.Properties, error) {
	if a.reads >= len(a.rows) {
		return nil, io.EOF
	}
	p := a.rows[a.reads]
	a.reads++
	return p, nil
}

func (a *fakeAttributes) Close() error {
	a.closed = true
	return nil
}

type closeTracker struct {
	io.Reader
	closed int
}

func (c *closeTracker) Close() error {
	c.closed++
	return nil
}

func readAllRecords(t testing.TB, r *Reader) []*Record {
	t.Helper()
	var out []*Record
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Read failed after %d records: %v", len(out), err)
		}
		out = append(out, rec)
	}
}

func TestReader_ThreePoints(t *testing.T) {
	shp, _ := encodeShapes(t, TypePoint,
		PointShape{NewPoint(0, 0)},
		PointShape{NewPoint(1, 1)},
		PointShape{NewPoint(2, 2)},
	)

	if got := int(be.Uint32(shp[fileLengthOffset:])); got != len(shp)/2 {
		t.Errorf("file length field: expected %d words, got %d", len(shp)/2, got)
	}
	if want := HeaderSize + 3*28; len(shp) != want {
		t.Errorf("file size: expected %d, got %d", want, len(shp))
	}

	r := NewReader(bytes.NewReader(shp), nil)
	h, err := r.Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if h.Type != TypePoint {
		t.Errorf("type: expected Point, got %s", h.Type)
	}
	b := h.Bounds
	if b.MinX != 0 || b.MinY != 0 || b.MaxX != 2 || b.MaxY != 2 {
		t.Errorf("bounds: expected [0 0 2 2], got %+v", b)
	}

	records := readAllRecords(t, r)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Errorf("record %d: index %d", i, rec.Index)
		}
		want := PointShape{NewPoint(float64(i), float64(i))}
		if !geometryEqual(rec.Geometry, want) {
			t.Errorf("record %d: expected %+v, got %+v", i, want, rec.Geometry)
		}
	}

	// The reader is closed once exhausted.
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after the end, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close after EOF: %v", err)
	}
}

func TestReader_EmptyFile(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolygon)
	if len(shp) != HeaderSize {
		t.Fatalf("expected a header-only file, got %d bytes", len(shp))
	}
	r := NewReader(bytes.NewReader(shp), nil)
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_CorruptRecordNumber(t *testing.T) {
	shapes := samplePolylines()
	shp, shx := encodeShapes(t, TypePolyLine, shapes...)

	x := NewIndexReader(bytes.NewReader(shx), nil)
	e, err := x.Entry(2)
	if err != nil {
		t.Fatal(err)
	}
	shp = append([]byte(nil), shp...)
	be.PutUint32(shp[e.Offset:], 42)

	for _, opts := range []*ReaderOptions{
		nil,
		{DisableSeek: true, BlockSize: 16},
	} {
		r := NewReader(bytes.NewReader(shp), opts)
		for i := 0; i < 2; i++ {
			if _, err := r.Read(); err != nil {
				t.Fatalf("record %d: %v", i, err)
			}
		}
		_, err := r.Read()
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("record 2: expected ErrFormat, got %v", err)
		}
		// The failure is sticky.
		if _, again := r.Read(); !errors.Is(again, ErrFormat) {
			t.Errorf("expected the same error again, got %v", again)
		}
	}
}

func TestReader_Truncated(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)
	shp = shp[:len(shp)-5]

	for _, opts := range []*ReaderOptions{nil, {DisableSeek: true}} {
		r := NewReader(bytes.NewReader(shp), opts)
		var err error
		for err == nil {
			_, err = r.Read()
		}
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	}
}

func TestReader_HeaderError(t *testing.T) {
	src := &closeTracker{Reader: bytes.NewReader([]byte("not a shapefile"))}
	r := NewReader(src, nil)
	if _, err := r.Read(); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	if src.closed != 1 {
		t.Errorf("expected the stream to be closed once, got %d", src.closed)
	}
}

func TestReader_Seek(t *testing.T) {
	shapes := samplePolylines()
	shp, shx := encodeShapes(t, TypePolyLine, shapes...)

	sequential := readAllRecords(t, NewReader(bytes.NewReader(shp), nil))

	r := NewReader(bytes.NewReader(shp), &ReaderOptions{
		Index: NewIndexReader(bytes.NewReader(shx), nil),
	})
	defer r.Close()

	n, err := r.Len()
	if err != nil || n != len(shapes) {
		t.Fatalf("Len: expected %d, got %d (%v)", len(shapes), n, err)
	}

	for _, i := range []int{3, 0, 2, 1, 2} {
		if err := r.Seek(i); err != nil {
			t.Fatalf("Seek(%d) failed: %v", i, err)
		}
		rec, err := r.Read()
		if err != nil {
			t.Fatalf("Read after Seek(%d): %v", i, err)
		}
		want := sequential[i]
		if rec.Index != want.Index || rec.Length != want.Length || !geometryEqual(rec.Geometry, want.Geometry) {
			t.Errorf("record %d: expected %+v, got %+v", i, want, rec)
		}
	}

	// An invalid index leaves the reader usable.
	if err := r.Seek(10); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	if err := r.Seek(1); err != nil {
		t.Errorf("Seek after a failed Seek: %v", err)
	}
}

func TestReader_SeekUnsupported(t *testing.T) {
	shp, shx := encodeShapes(t, TypePolyLine, samplePolylines()...)

	r := NewReader(bytes.NewReader(shp), nil)
	if err := r.Seek(0); !errors.Is(err, ErrSeekUnsupported) {
		t.Errorf("without index: expected ErrSeekUnsupported, got %v", err)
	}
	if _, err := r.Len(); !errors.Is(err, ErrSeekUnsupported) {
		t.Errorf("Len without index: expected ErrSeekUnsupported, got %v", err)
	}

	r = NewReader(bytes.NewReader(shp), &ReaderOptions{
		DisableSeek: true,
		Index:       NewIndexReader(bytes.NewReader(shx), nil),
	})
	if err := r.Seek(0); !errors.Is(err, ErrSeekUnsupported) {
		t.Errorf("with seeking disabled: expected ErrSeekUnsupported, got %v", err)
	}
	if n, err := r.Len(); err != nil || n != 4 {
		t.Errorf("Len: expected 4, got %d (%v)", n, err)
	}
}

func TestReader_SlidingMatchesBuffered(t *testing.T) {
	shapes := samplePolylines()
	shp, _ := encodeShapes(t, TypePolyLine, shapes...)

	buffered := readAllRecords(t, NewReader(bytes.NewReader(shp), nil))
	for _, block := range []int{8, 16, 64, BlockSize} {
		src := iotest.OneByteReader(bytes.NewReader(shp))
		sliding := readAllRecords(t, NewReader(src, &ReaderOptions{DisableSeek: true, BlockSize: block}))
		if len(sliding) != len(buffered) {
			t.Fatalf("block %d: expected %d records, got %d", block, len(buffered), len(sliding))
		}
		for i := range buffered {
			if !geometryEqual(sliding[i].Geometry, buffered[i].Geometry) {
				t.Errorf("block %d, record %d: expected %+v, got %+v", block, i, buffered[i].Geometry, sliding[i].Geometry)
			}
		}
	}
}

func TestReader_IgnoresTrailingBytes(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)
	shp = append(append([]byte(nil), shp...), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)

	for _, opts := range []*ReaderOptions{nil, {DisableSeek: true}} {
		records := readAllRecords(t, NewReader(bytes.NewReader(shp), opts))
		if len(records) != 4 {
			t.Errorf("expected 4 records, got %d", len(records))
		}
	}
}

func TestReader_FilterKeepsAttributesInStep(t *testing.T) {
	shapes := samplePolylines()
	shp, _ := encodeShapes(t, TypePolyLine, shapes...)

	attrs := &fakeAttributes{
		fields: []dbf.Field{{Name: "id", Type: dbf.Numeric, Length: 10}},
	}
	for i := range shapes {
		attrs.rows = append(attrs.rows, geojson.Properties{"id": int64(i)})
	}

	r := NewReader(bytes.NewReader(shp), &ReaderOptions{
		Attributes: attrs,
		Filter:     func(rec *Record) bool { return rec.Index%2 == 1 },
	})
	fields, err := r.Fields()
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 || fields[0].Name != "id" {
		t.Errorf("unexpected fields %+v", fields)
	}

	records := readAllRecords(t, r)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if got := rec.Attributes["id"]; got != int64(rec.Index) {
			t.Errorf("record %d carries attributes of %v", rec.Index, got)
		}
	}
	if attrs.reads != len(shapes) {
		t.Errorf("expected %d attribute reads, got %d", len(shapes), attrs.reads)
	}
	if !attrs.closed {
		t.Error("expected the attribute reader to be closed")
	}
}

func TestReader_Features(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)
	attrs := &fakeAttributes{rows: []geojson.Properties{
		{"name": "a"}, {"name": "b"}, {"name": "c"}, {"name": "d"},
	}}

	fc, err := NewReader(bytes.NewReader(shp), &ReaderOptions{Attributes: attrs}).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	// The null record is skipped.
	if len(fc.Features) != 3 {
		t.Fatalf("expected 3 features, got %d", len(fc.Features))
	}

	wantIDs := []int{0, 2, 3}
	wantNames := []string{"a", "c", "d"}
	for i, f := range fc.Features {
		if f.ID != wantIDs[i] {
			t.Errorf("feature %d: expected id %d, got %v", i, wantIDs[i], f.ID)
		}
		if f.Properties["name"] != wantNames[i] {
			t.Errorf("feature %d: expected name %s, got %v", i, wantNames[i], f.Properties["name"])
		}
	}
	if _, ok := fc.Features[0].Geometry.(orb.LineString); !ok {
		t.Errorf("feature 0: expected LineString, got %T", fc.Features[0].Geometry)
	}
	if _, ok := fc.Features[1].Geometry.(orb.MultiLineString); !ok {
		t.Errorf("feature 1: expected MultiLineString, got %T", fc.Features[1].Geometry)
	}

	geoms, err := NewReader(bytes.NewReader(shp), nil).ReadGeometries()
	if err != nil {
		t.Fatal(err)
	}
	if len(geoms) != 3 {
		t.Errorf("expected 3 geometries, got %d", len(geoms))
	}
}

type failingFactory struct{}

func (failingFactory) NewGeometry(*Record) (orb.Geometry, error) {
	return nil, ErrUnsupportedType
}

func TestReader_FactoryError(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)
	r := NewReader(bytes.NewReader(shp), &ReaderOptions{Factory: failingFactory{}})
	if _, err := r.ReadFeature(); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestReader_Progress(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)

	var calls int
	var done, total int64
	r := NewReader(bytes.NewReader(shp), &ReaderOptions{
		Progress: ProgressFunc(func(d, tot int64) {
			if d < done {
				t.Errorf("progress went back from %d to %d", done, d)
			}
			calls++
			done, total = d, tot
		}),
	})
	readAllRecords(t, r)

	if calls != 5 {
		t.Errorf("expected 5 progress calls, got %d", calls)
	}
	if done != int64(len(shp)) || total != int64(len(shp)) {
		t.Errorf("expected %d of %d, got %d of %d", len(shp), len(shp), done, total)
	}
}

func TestReader_AttributesShorterThanShapes(t *testing.T) {
	shp, _ := encodeShapes(t, TypePolyLine, samplePolylines()...)
	attrs := &fakeAttributes{rows: []geojson.Properties{{"name": "a"}, {"name": "b"}}}
	r := NewReader(bytes.NewReader(shp), &ReaderOptions{Attributes: attrs})

	for i := 0; i < 2; i++ {
		if _, err := r.Read(); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if _, err := r.Read(); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
	if !attrs.closed {
		t.Error("expected the attribute reader closed after the failure")
	}
}

func TestReader_CloseReleasesEverything(t *testing.T) {
	shp, shx := encodeShapes(t, TypePolyLine, samplePolylines()...)
	src := &closeTracker{Reader: bytes.NewReader(shp)}
	idx := &closeTracker{Reader: bytes.NewReader(shx)}
	attrs := &fakeAttributes{rows: []geojson.Properties{{"name": "a"}}}

	r := NewReader(src, &ReaderOptions{
		Index:      NewIndexReader(idx, nil),
		Attributes: attrs,
	})
	if _, err := r.Read(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if src.closed != 1 || idx.closed != 1 || !attrs.closed {
		t.Errorf("expected everything closed once, got shp=%d shx=%d dbf=%v", src.closed, idx.closed, attrs.closed)
	}
	if _, err := r.Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
