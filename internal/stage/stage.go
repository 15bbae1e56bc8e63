// Package stage holds the bytes of a file whose header can only be completed
// once everything after it has been written.
//
// A Sink streams to a seekable destination and patches it in place at close.
// When the destination cannot seek, the output is staged in memory or in a
// temporary file and copied through, patched, at close.
package stage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// DefaultBlockSize is the size of the write block used for seekable
// destinations.
const DefaultBlockSize = 4096

var (
	ErrClosed      = errors.New("stage: sink closed")
	ErrPatchRange  = errors.New("stage: patch outside written bytes")
	errSeekChanged = errors.New("stage: destination moved during write")
)

// Options configures a Sink.
type Options struct {
	// Dir, when set, stages non-seekable output in a temporary file in Dir
	// instead of memory.
	Dir string
	// BlockSize is the write block for seekable destinations.
	BlockSize int
	// NoSeek forces staging even when the destination can seek.
	NoSeek bool
}

type patch struct {
	offset int64
	data   []byte
}

// Sink collects written bytes and applies patches to them at close.
type Sink struct {
	dst     io.Writer
	seeker  io.WriteSeeker
	start   int64
	block   []byte
	mem     *bytes.Buffer
	file    *os.File
	written int64
	patches []patch
	closed  bool
}

// New returns a Sink writing to dst.
func New(dst io.Writer, opts Options) (*Sink, error) {
	s := &Sink{dst: dst}

	if ws, ok := dst.(io.WriteSeeker); ok && !opts.NoSeek {
		// Pipes and terminals implement Seek but fail on it.
		if start, err := ws.Seek(0, io.SeekCurrent); err == nil {
			s.seeker = ws
			s.start = start
			size := opts.BlockSize
			if size <= 0 {
				size = DefaultBlockSize
			}
			s.block = make([]byte, 0, size)
			return s, nil
		}
	}

	if opts.Dir != "" {
		f, err := os.CreateTemp(opts.Dir, "stage-*")
		if err != nil {
			return nil, fmt.Errorf("stage: create staging file: %w", err)
		}
		s.file = f
		return s, nil
	}

	s.mem = new(bytes.Buffer)
	return s, nil
}

// Seekable reports whether the sink patches the destination in place.
func (s *Sink) Seekable() bool {
	return s.seeker != nil
}

// Len returns the number of bytes written so far.
func (s *Sink) Len() int64 {
	return s.written
}

// Write appends p to the output.
func (s *Sink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	var (
		n   int
		err error
	)
	switch {
	case s.seeker != nil:
		n, err = s.writeBlock(p)
	case s.file != nil:
		n, err = s.file.Write(p)
	default:
		n, err = s.mem.Write(p)
	}
	s.written += int64(n)
	return n, err
}

func (s *Sink) writeBlock(p []byte) (int, error) {
	if len(s.block)+len(p) > cap(s.block) {
		if err := s.flush(); err != nil {
			return 0, err
		}
		if len(p) >= cap(s.block) {
			return s.seeker.Write(p)
		}
	}
	s.block = append(s.block, p...)
	return len(p), nil
}

func (s *Sink) flush() error {
	if len(s.block) == 0 {
		return nil
	}
	_, err := s.seeker.Write(s.block)
	s.block = s.block[:0]
	return err
}

// Patch replaces len(p) already written bytes starting at offset. Patches
// are applied at Close, in offset order.
func (s *Sink) Patch(offset int64, p []byte) error {
	if s.closed {
		return ErrClosed
	}
	if offset < 0 || offset+int64(len(p)) > s.written {
		return fmt.Errorf("%w: [%d, %d) with %d bytes written", ErrPatchRange, offset, offset+int64(len(p)), s.written)
	}
	s.patches = append(s.patches, patch{offset: offset, data: append([]byte(nil), p...)})
	return nil
}

// Close applies the patches, emits any staged bytes to the destination and
// releases the staging resources. The destination itself is not closed.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	sort.SliceStable(s.patches, func(i, j int) bool { return s.patches[i].offset < s.patches[j].offset })

	switch {
	case s.seeker != nil:
		return s.closeSeekable()
	case s.file != nil:
		return s.closeFile()
	default:
		data := s.mem.Bytes()
		for _, p := range s.patches {
			copy(data[p.offset:], p.data)
		}
		_, err := s.dst.Write(data)
		s.mem = nil
		return err
	}
}

func (s *Sink) closeSeekable() error {
	if err := s.flush(); err != nil {
		return err
	}
	if len(s.patches) == 0 {
		return nil
	}
	end := s.start + s.written
	if pos, err := s.seeker.Seek(0, io.SeekCurrent); err != nil {
		return err
	} else if pos != end {
		return errSeekChanged
	}
	for _, p := range s.patches {
		if _, err := s.seeker.Seek(s.start+p.offset, io.SeekStart); err != nil {
			return err
		}
		if _, err := s.seeker.Write(p.data); err != nil {
			return err
		}
	}
	_, err := s.seeker.Seek(end, io.SeekStart)
	return err
}

func (s *Sink) closeFile() (err error) {
	defer func() {
		if rerr := s.release(); err == nil {
			err = rerr
		}
	}()
	for _, p := range s.patches {
		if _, err := s.file.WriteAt(p.data, p.offset); err != nil {
			return err
		}
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = io.Copy(s.dst, s.file)
	return err
}

// Abort releases the staging resources without emitting staged bytes.
// Bytes already streamed to a seekable destination stay there.
func (s *Sink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.mem = nil
	s.block = nil
	return s.release()
}

func (s *Sink) release() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	cerr := s.file.Close()
	rerr := os.Remove(name)
	s.file = nil
	if cerr != nil {
		return cerr
	}
	return rerr
}
