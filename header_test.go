package shapefile

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestHeader_RoundTrip(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name   string
		typ    ShapeType
		bounds Bounds
	}{
		{"point 2D", TypePoint, Bounds{-10, 20, -5, 5, nan, nan, nan, nan}},
		{"polygon Z", TypePolygonZ, Bounds{0, 1, 0, 1, -3, 12.5, 0, 7}},
		{"polyline M", TypePolyLineM, Bounds{1, 2, 3, 4, nan, nan, -1, 1}},
		{"multipatch", TypeMultiPatch, Bounds{0, 100, 0, 100, 0, 30, nan, nan}},
		{"null", TypeNull, EmptyBounds()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeader(tt.typ, tt.bounds)
			h.FileLength = 1234
			buf := h.encode()
			if len(buf) != HeaderSize {
				t.Fatalf("encoded %d bytes, want %d", len(buf), HeaderSize)
			}

			got, err := decodeHeader(buf)
			if err != nil {
				t.Fatalf("decodeHeader failed: %v", err)
			}
			if got.Type != tt.typ {
				t.Errorf("type: expected %s, got %s", tt.typ, got.Type)
			}
			if got.FileLength != 1234 {
				t.Errorf("file length: expected 1234, got %d", got.FileLength)
			}
			if got.Version != Version {
				t.Errorf("version: expected %d, got %d", Version, got.Version)
			}

			want := tt.bounds
			// Unset X and Y are stored as zero.
			for _, v := range []*float64{&want.MinX, &want.MaxX, &want.MinY, &want.MaxY} {
				if math.IsNaN(*v) {
					*v = 0
				}
			}
			if !got.Bounds.Equal(want) {
				t.Errorf("bounds: expected %+v, got %+v", want, got.Bounds)
			}
		})
	}
}

func TestHeader_Layout(t *testing.T) {
	h := NewHeader(TypePolygon, Bounds{MinX: 1, MaxX: 2, MinY: 3, MaxY: 4})
	h.FileLength = 200
	buf := h.encode()

	if got := be.Uint32(buf[0:]); got != FileCode {
		t.Errorf("file code: expected %d, got %d", FileCode, got)
	}
	if got := be.Uint32(buf[24:]); got != 100 {
		t.Errorf("file length: expected 100 words, got %d", got)
	}
	if got := le.Uint32(buf[28:]); got != Version {
		t.Errorf("version: expected %d, got %d", Version, got)
	}
	if got := le.Uint32(buf[32:]); got != uint32(TypePolygon) {
		t.Errorf("shape type: expected %d, got %d", TypePolygon, got)
	}
	// X min, Y min, X max, Y max.
	for i, want := range []float64{1, 3, 2, 4} {
		if got := math.Float64frombits(le.Uint64(buf[36+8*i:])); got != want {
			t.Errorf("bound %d: expected %v, got %v", i, want, got)
		}
	}
	// Unset Z and M are written as the no-data value.
	for off := 68; off < 100; off += 8 {
		if got := math.Float64frombits(le.Uint64(buf[off:])); got != ESRINaN {
			t.Errorf("offset %d: expected %v, got %v", off, ESRINaN, got)
		}
	}
}

func TestHeader_Invalid(t *testing.T) {
	valid := NewHeader(TypePoint, Bounds{}).encode()

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"bad file code", func(b []byte) []byte { be.PutUint32(b[0:], 9995); return b }, ErrFormat},
		{"bad version", func(b []byte) []byte { le.PutUint32(b[28:], 999); return b }, ErrFormat},
		{"unknown type", func(b []byte) []byte { le.PutUint32(b[32:], 2); return b }, ErrFormat},
		{"short", func(b []byte) []byte { return b[:60] }, ErrTruncated},
		{"empty", func(b []byte) []byte { return nil }, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), valid...))
			_, err := readHeader(bytes.NewReader(b))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestHeader_NormalizesInvertedBounds(t *testing.T) {
	h := NewHeader(TypePointZ, Bounds{MinX: 5, MaxX: 1, MinY: 0, MaxY: 2, MinZ: 9, MaxZ: 3, MinM: math.NaN(), MaxM: math.NaN()})
	got, err := decodeHeader(h.encode())
	if err != nil {
		t.Fatalf("decodeHeader failed: %v", err)
	}
	if got.Bounds.MinX != 1 || got.Bounds.MaxX != 5 {
		t.Errorf("x: expected [1, 5], got [%v, %v]", got.Bounds.MinX, got.Bounds.MaxX)
	}
	if got.Bounds.MinZ != 3 || got.Bounds.MaxZ != 9 {
		t.Errorf("z: expected [3, 9], got [%v, %v]", got.Bounds.MinZ, got.Bounds.MaxZ)
	}
	if !math.IsNaN(got.Bounds.MinM) || !math.IsNaN(got.Bounds.MaxM) {
		t.Errorf("m: expected NaN, got [%v, %v]", got.Bounds.MinM, got.Bounds.MaxM)
	}
}

func TestSentinel(t *testing.T) {
	if !math.IsNaN(FromESRI(ToESRI(math.NaN()))) {
		t.Error("NaN did not survive a round trip")
	}
	for _, v := range []float64{0, -1, 1e37, -1e37, math.MaxFloat64} {
		if got := ToESRI(v); got != v {
			t.Errorf("ToESRI(%v) = %v", v, got)
		}
		if got := FromESRI(v); got != v {
			t.Errorf("FromESRI(%v) = %v", v, got)
		}
	}
	for _, v := range []float64{ESRINaN, -1e39, -math.MaxFloat64, math.Inf(-1), math.Inf(1), math.NaN()} {
		if !IsESRINaN(v) {
			t.Errorf("IsESRINaN(%v) = false", v)
		}
	}
	if got := ToESRI(math.Inf(1)); got != ESRINaN {
		t.Errorf("ToESRI(+Inf) = %v", got)
	}
}

func TestShapeType(t *testing.T) {
	tests := []struct {
		typ        ShapeType
		name       string
		hasZ, hasM bool
		base       ShapeType
	}{
		{TypeNull, "Null", false, false, TypeNull},
		{TypePoint, "Point", false, false, TypePoint},
		{TypePolyLineZ, "PolyLineZ", true, true, TypePolyLine},
		{TypePolygonM, "PolygonM", false, true, TypePolygon},
		{TypeMultiPointZ, "MultiPointZ", true, true, TypeMultiPoint},
		{TypeMultiPatch, "MultiPatch", true, true, TypeMultiPatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.typ.Valid() {
				t.Error("expected valid")
			}
			if got := tt.typ.String(); got != tt.name {
				t.Errorf("String: expected %s, got %s", tt.name, got)
			}
			if tt.typ.HasZ() != tt.hasZ || tt.typ.HasM() != tt.hasM {
				t.Errorf("HasZ/HasM: expected %v/%v, got %v/%v", tt.hasZ, tt.hasM, tt.typ.HasZ(), tt.typ.HasM())
			}
			if got := tt.typ.Base(); got != tt.base {
				t.Errorf("Base: expected %s, got %s", tt.base, got)
			}
		})
	}

	for _, code := range []int32{2, 4, 30, 32, -1} {
		if ShapeType(code).Valid() {
			t.Errorf("%d: expected invalid", code)
		}
	}
}
