package shapefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// maxZeroReads bounds how many times a refill tolerates (0, nil) from the
// underlying reader before giving up.
const maxZeroReads = 100

// readBuffer is the window over the content that follows a 100-byte header.
//
// In buffered mode the whole content is loaded once and the buffer can seek.
// In sliding mode the window has a fixed size and is compacted and refilled
// as records are consumed, so only a block of the file is held in memory.
type readBuffer struct {
	r       io.Reader
	buf     []byte
	pos     int   // next unread byte in buf
	limit   int   // end of the valid bytes in buf
	base    int64 // file offset of buf[0]
	sliding bool
	eof     bool
}

// newBufferedReader loads the content of a file whose header declared
// fileLength bytes. A zero or short declared length loads everything left.
func newBufferedReader(r io.Reader, fileLength int64) (*readBuffer, error) {
	var src io.Reader = r
	if fileLength > HeaderSize {
		src = io.LimitReader(r, fileLength-HeaderSize)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	return &readBuffer{
		r:     r,
		buf:   data,
		limit: len(data),
		base:  HeaderSize,
		eof:   true,
	}, nil
}

// newSlidingReader returns a window of blockSize bytes over r.
func newSlidingReader(r io.Reader, blockSize int) *readBuffer {
	if blockSize <= 0 {
		blockSize = BlockSize
	}
	return &readBuffer{
		r:       r,
		buf:     make([]byte, blockSize),
		base:    HeaderSize,
		sliding: true,
	}
}

// position returns the file offset of the next unread byte.
func (b *readBuffer) position() int64 {
	return b.base + int64(b.pos)
}

// remaining returns the number of unread bytes in the window.
func (b *readBuffer) remaining() int {
	return b.limit - b.pos
}

// ensure makes at least n unread bytes available in the window.
//
// Bytes already in the window always count: EOF from the underlying reader
// is only an error when the window still holds fewer than n bytes after the
// refill.
func (b *readBuffer) ensure(n int) error {
	if b.remaining() >= n {
		return nil
	}
	if !b.sliding {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, b.position(), b.remaining())
	}

	b.compact()
	if n > len(b.buf) {
		grown := make([]byte, n)
		copy(grown, b.buf[:b.limit])
		b.buf = grown
	}

	zeroReads := 0
	for b.limit < n && !b.eof {
		k, err := b.r.Read(b.buf[b.limit:])
		b.limit += k
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.eof = true
				break
			}
			if b.limit >= n {
				break
			}
			return err
		}
		if k == 0 {
			zeroReads++
			if zeroReads >= maxZeroReads {
				return io.ErrNoProgress
			}
			continue
		}
		zeroReads = 0
	}

	if b.limit < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, b.position(), b.remaining())
	}
	return nil
}

// compact moves the unread bytes to the start of the window.
func (b *readBuffer) compact() {
	if b.pos == 0 {
		return
	}
	copy(b.buf, b.buf[b.pos:b.limit])
	b.base += int64(b.pos)
	b.limit -= b.pos
	b.pos = 0
}

// atEnd reports whether no byte is left. Errors other than truncation are
// returned as is.
func (b *readBuffer) atEnd() (bool, error) {
	err := b.ensure(1)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, ErrTruncated) {
		return true, nil
	}
	return false, err
}

func (b *readBuffer) readInt32(order binary.ByteOrder) (int32, error) {
	if err := b.ensure(4); err != nil {
		return 0, err
	}
	v := int32(order.Uint32(b.buf[b.pos:]))
	b.pos += 4
	return v, nil
}

func (b *readBuffer) readFloat64(order binary.ByteOrder) (float64, error) {
	if err := b.ensure(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(order.Uint64(b.buf[b.pos:]))
	b.pos += 8
	return v, nil
}

// skip discards n bytes.
func (b *readBuffer) skip(n int) error {
	if !b.sliding {
		if err := b.ensure(n); err != nil {
			return err
		}
		b.pos += n
		return nil
	}
	for n > 0 {
		if b.remaining() == 0 {
			if err := b.ensure(1); err != nil {
				return err
			}
		}
		k := b.remaining()
		if k > n {
			k = n
		}
		b.pos += k
		n -= k
	}
	return nil
}

// seek moves to a file offset inside the loaded content.
func (b *readBuffer) seek(offset int64) error {
	if b.sliding {
		return ErrSeekUnsupported
	}
	rel := offset - b.base
	if rel < 0 || rel > int64(b.limit) {
		return fmt.Errorf("%w: offset %d outside content [%d, %d]", ErrTruncated, offset, b.base, b.base+int64(b.limit))
	}
	b.pos = int(rel)
	return nil
}
