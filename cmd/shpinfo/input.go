package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	shapefile "github.com/tingold/orb-shapefile"
	"github.com/tingold/orb-shapefile/dbf"
)

// readerOptions returns reader options from the global flags.
func readerOptions() *shapefile.ReaderOptions {
	opts := shapefile.DefaultReaderOptions()
	opts.DisableSeek = config.Stream
	if config.BlockSize > 0 {
		opts.BlockSize = config.BlockSize
	}
	return opts
}

// openShapefile opens path. Compressed inputs are read as a stream with the
// plain .dbf sibling attached when there is one.
func openShapefile(path string) (*shapefile.Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".gz" && ext != ".zst" {
		return shapefile.Open(path, readerOptions())
	}

	rc, err := openCompressed(path)
	if err != nil {
		return nil, err
	}
	opts := readerOptions()
	opts.DisableSeek = true

	base := strings.TrimSuffix(path, filepath.Ext(path))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if f, err := os.Open(base + ".dbf"); err == nil {
		opts.Attributes = dbf.NewReader(f)
	} else if !errors.Is(err, os.ErrNotExist) {
		rc.Close()
		return nil, err
	}
	return shapefile.NewReader(rc, opts), nil
}

// openCompressed returns the decompressed content of a .gz or .zst file.
func openCompressed(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return &stackedReader{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd %s: %w", path, err)
		}
		rc := zr.IOReadCloser()
		return &stackedReader{Reader: rc, closers: []io.Closer{rc, f}}, nil
	}
	return f, nil
}

// stackedReader closes a decompressor and the file under it.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
