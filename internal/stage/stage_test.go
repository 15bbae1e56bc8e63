package stage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeOnly hides every method of the buffer except Write.
type writeOnly struct{ w io.Writer }

func (w writeOnly) Write(p []byte) (int, error) { return w.w.Write(p) }

func fill(t *testing.T, s *Sink) {
	t.Helper()
	for _, chunk := range []string{"0000", "hello ", "world", "!"} {
		_, err := s.Write([]byte(chunk))
		require.NoError(t, err)
	}
	require.EqualValues(t, 16, s.Len())
	require.NoError(t, s.Patch(10, []byte("W")))
	require.NoError(t, s.Patch(0, []byte("16")))
}

func TestSink_Memory(t *testing.T) {
	var out bytes.Buffer
	s, err := New(writeOnly{&out}, Options{})
	require.NoError(t, err)
	assert.False(t, s.Seekable())

	fill(t, s)
	assert.Zero(t, out.Len(), "staged bytes emitted before Close")
	require.NoError(t, s.Close())
	assert.Equal(t, "1600hello World!", out.String())
}

func TestSink_TempFile(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	s, err := New(writeOnly{&out}, Options{Dir: dir})
	require.NoError(t, err)

	fill(t, s)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, s.Close())
	assert.Equal(t, "1600hello World!", out.String())

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staging file left behind")
}

func TestSink_Seekable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("prefix:"))
	require.NoError(t, err)

	s, err := New(f, Options{BlockSize: 4})
	require.NoError(t, err)
	assert.True(t, s.Seekable())

	fill(t, s)
	require.NoError(t, s.Close())

	// The file position is left at the end.
	_, err = f.Write([]byte(":suffix"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "prefix:1600hello World!:suffix", string(data))
}

func TestSink_NoSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	s, err := New(f, Options{NoSeek: true})
	require.NoError(t, err)
	assert.False(t, s.Seekable())

	fill(t, s)
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, s.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1600hello World!", string(data))
}

func TestSink_PatchRange(t *testing.T) {
	s, err := New(writeOnly{io.Discard}, Options{})
	require.NoError(t, err)
	_, err = s.Write([]byte("abcd"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Patch(2, []byte("xyz")), ErrPatchRange)
	assert.ErrorIs(t, s.Patch(-1, []byte("x")), ErrPatchRange)
	assert.NoError(t, s.Patch(0, []byte("abcd")))
}

func TestSink_Closed(t *testing.T) {
	s, err := New(writeOnly{io.Discard}, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Patch(0, nil), ErrClosed)
}

func TestSink_Abort(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	s, err := New(writeOnly{&out}, Options{Dir: dir})
	require.NoError(t, err)

	fill(t, s)
	require.NoError(t, s.Abort())
	assert.Zero(t, out.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
