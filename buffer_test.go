package shapefile

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"testing/iotest"
)

// zeroReader returns (0, nil) forever.
type zeroReader struct{}

func (zeroReader) Read([]byte) (int, error) { return 0, nil }

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestReadBuffer_Sliding(t *testing.T) {
	data := sequence(100)

	readers := map[string]func() io.Reader{
		"plain":    func() io.Reader { return bytes.NewReader(data) },
		"one byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(data)) },
		"data err": func() io.Reader { return iotest.DataErrReader(bytes.NewReader(data)) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(data)) },
	}

	for name, open := range readers {
		t.Run(name, func(t *testing.T) {
			b := newSlidingReader(open(), 16)
			// Reads of 4 bytes compact the window several times.
			for i := 0; i < 25; i++ {
				v, err := b.readInt32(be)
				if err != nil {
					t.Fatalf("read %d: %v", i, err)
				}
				want := int32(be.Uint32(data[4*i:]))
				if v != want {
					t.Fatalf("read %d: expected %d, got %d", i, want, v)
				}
				if got := b.position(); got != HeaderSize+int64(4*i+4) {
					t.Fatalf("read %d: position %d", i, got)
				}
			}
			end, err := b.atEnd()
			if err != nil || !end {
				t.Errorf("expected end, got %v, %v", end, err)
			}
		})
	}
}

func TestReadBuffer_GrowsForLargeReads(t *testing.T) {
	data := sequence(64)
	b := newSlidingReader(bytes.NewReader(data), 4)
	if err := b.skip(3); err != nil {
		t.Fatal(err)
	}
	v, err := b.readFloat64(le)
	if err != nil {
		t.Fatalf("readFloat64 failed: %v", err)
	}
	if want := math.Float64frombits(le.Uint64(data[3:])); v != want && !(math.IsNaN(v) && math.IsNaN(want)) {
		t.Errorf("expected %v, got %v", want, v)
	}
}

func TestReadBuffer_HonorsBufferedBytesBeforeEOF(t *testing.T) {
	data := sequence(8)
	// DataErrReader returns io.EOF together with the last bytes.
	b := newSlidingReader(iotest.DataErrReader(bytes.NewReader(data)), 64)
	if _, err := b.readFloat64(le); err != nil {
		t.Fatalf("expected the final bytes to be read, got %v", err)
	}
	if _, err := b.readInt32(le); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestReadBuffer_NoProgress(t *testing.T) {
	b := newSlidingReader(zeroReader{}, 16)
	if _, err := b.readInt32(be); !errors.Is(err, io.ErrNoProgress) {
		t.Errorf("expected io.ErrNoProgress, got %v", err)
	}
}

func TestReadBuffer_ReadError(t *testing.T) {
	boom := errors.New("boom")
	b := newSlidingReader(iotest.ErrReader(boom), 16)
	if _, err := b.readInt32(be); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if _, err := b.atEnd(); !errors.Is(err, boom) {
		t.Errorf("atEnd: expected boom, got %v", err)
	}
}

func TestReadBuffer_Truncated(t *testing.T) {
	b := newSlidingReader(bytes.NewReader(sequence(6)), 16)
	if _, err := b.readInt32(be); err != nil {
		t.Fatal(err)
	}
	if _, err := b.readInt32(be); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	if err := b.skip(10); !errors.Is(err, ErrTruncated) {
		t.Errorf("skip: expected ErrTruncated, got %v", err)
	}
}

func TestReadBuffer_Seek(t *testing.T) {
	data := sequence(32)

	t.Run("buffered", func(t *testing.T) {
		b, err := newBufferedReader(bytes.NewReader(data), 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.seek(HeaderSize + 8); err != nil {
			t.Fatalf("seek failed: %v", err)
		}
		v, err := b.readInt32(be)
		if err != nil {
			t.Fatal(err)
		}
		if want := int32(be.Uint32(data[8:])); v != want {
			t.Errorf("expected %d, got %d", want, v)
		}
		if err := b.seek(HeaderSize - 1); !errors.Is(err, ErrTruncated) {
			t.Errorf("seek before content: expected ErrTruncated, got %v", err)
		}
		if err := b.seek(HeaderSize + 33); !errors.Is(err, ErrTruncated) {
			t.Errorf("seek past content: expected ErrTruncated, got %v", err)
		}
	})

	t.Run("sliding", func(t *testing.T) {
		b := newSlidingReader(bytes.NewReader(data), 16)
		if err := b.seek(HeaderSize); !errors.Is(err, ErrSeekUnsupported) {
			t.Errorf("expected ErrSeekUnsupported, got %v", err)
		}
	})
}

func TestReadBuffer_DeclaredLength(t *testing.T) {
	// Bytes after the declared file length are not content.
	data := sequence(40)
	b, err := newBufferedReader(bytes.NewReader(data), HeaderSize+16)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.remaining(); got != 16 {
		t.Errorf("expected 16 bytes of content, got %d", got)
	}
}
