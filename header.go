package shapefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	be = binary.BigEndian
	le = binary.LittleEndian
)

// Header is the 100-byte header shared by .shp and .shx files.
type Header struct {
	FileLength int64 // total file length in bytes
	Version    int32
	Type       ShapeType
	Bounds     Bounds
}

// NewHeader returns a version 1000 header with a zero file length.
func NewHeader(t ShapeType, bounds Bounds) *Header {
	return &Header{
		Version: Version,
		Type:    t,
		Bounds:  bounds,
	}
}

// readHeader reads and decodes a header from r.
func readHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header has %d of %d bytes", ErrTruncated, n, HeaderSize)
		}
		return nil, err
	}
	return decodeHeader(buf)
}

// decodeHeader parses a 100-byte header.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: header has %d of %d bytes", ErrTruncated, len(buf), HeaderSize)
	}

	// File code and length are big-endian, the rest little-endian.
	if code := int32(be.Uint32(buf[0:])); code != FileCode {
		return nil, fmt.Errorf("%w: file code %d, want %d", ErrFormat, code, FileCode)
	}
	h := &Header{FileLength: fromWords(int32(be.Uint32(buf[24:])))}

	h.Version = int32(le.Uint32(buf[28:]))
	if h.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormat, h.Version, Version)
	}
	h.Type = ShapeType(le.Uint32(buf[32:]))
	if !h.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown shape type %d", ErrFormat, int32(h.Type))
	}

	f := func(off int) float64 { return math.Float64frombits(le.Uint64(buf[off:])) }
	h.Bounds = Bounds{
		MinX: f(36),
		MinY: f(44),
		MaxX: f(52),
		MaxY: f(60),
		MinZ: FromESRI(f(68)),
		MaxZ: FromESRI(f(76)),
		MinM: FromESRI(f(84)),
		MaxM: FromESRI(f(92)),
	}
	h.Bounds.Normalize()
	return h, nil
}

// encode serializes the header to exactly HeaderSize bytes.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	be.PutUint32(buf[0:], FileCode)
	be.PutUint32(buf[24:], uint32(toWords(h.FileLength)))

	version := h.Version
	if version == 0 {
		version = Version
	}
	le.PutUint32(buf[28:], uint32(version))
	le.PutUint32(buf[32:], uint32(h.Type))

	put := func(off int, v float64) { le.PutUint64(buf[off:], math.Float64bits(v)) }
	put(36, finiteOrZero(h.Bounds.MinX))
	put(44, finiteOrZero(h.Bounds.MinY))
	put(52, finiteOrZero(h.Bounds.MaxX))
	put(60, finiteOrZero(h.Bounds.MaxY))
	put(68, ToESRI(h.Bounds.MinZ))
	put(76, ToESRI(h.Bounds.MaxZ))
	put(84, ToESRI(h.Bounds.MinM))
	put(92, ToESRI(h.Bounds.MaxM))
	return buf
}

// fileLengthField returns the encoded file length field for patching at
// offset 24.
func fileLengthField(length int64) []byte {
	b := make([]byte, 4)
	be.PutUint32(b, uint32(toWords(length)))
	return b
}

const fileLengthOffset = 24

// boundsField returns the encoded bounding box for patching at offset 36.
func boundsField(b Bounds) []byte {
	h := Header{Bounds: b}
	return h.encode()[boundsOffset:]
}

const boundsOffset = 36

func finiteOrZero(v float64) float64 {
	if isFinite(v) {
		return v
	}
	return 0
}
