package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
)

func writeJunkFile(path string) error {
	return os.WriteFile(path, []byte("not an xmraw file: long enough for a header, but the magic is wrong"), 0o644)
}

type frame struct {
	category xcp.FrameCategory
	counter  uint16
	tsNs     float64
	payload  []byte
}

func writeFrames(t *testing.T, path string, opts WriterOptions, frames []frame) {
	t.Helper()
	w, err := NewWriter(path, opts)
	require.NoError(t, err)
	for _, f := range frames {
		require.NoError(t, w.Append(f.category, f.counter, f.tsNs, f.payload))
	}
	require.NoError(t, w.Close())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.xmraw")
	frames := []frame{
		{xcp.CategoryDAQ, 0, 1000.5, []byte{0x01, 0x02, 0x03}},
		{xcp.CategoryDAQ, 1, 2000.25, []byte{0x04, 0x05}},
		{xcp.CategoryEVENT, 2, 3000.0, []byte{0xFE}},
		{xcp.CategorySTIM, 3, 4000.125, []byte{}},
	}
	writeFrames(t, path, WriterOptions{}, frames)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint32(len(frames)), r.RecordCount())

	it := r.Iter()
	for _, want := range frames {
		got, ok, err := it.Next()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.category, got.Category)
		assert.Equal(t, want.counter, got.Counter)
		assert.Equal(t, want.tsNs, got.TimestampNs)
		assert.Equal(t, want.payload, got.Payload)
	}
	_, ok, err := it.Next()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriterReaderRoundTripAcrossMultipleContainers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.xmraw")
	// Small chunk size forces several flush() calls, exercising container
	// boundaries and the mmap grow-and-remap path.
	var frames []frame
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	for i := 0; i < 200; i++ {
		frames = append(frames, frame{xcp.CategoryDAQ, uint16(i), float64(i) * 100, append([]byte(nil), payload...)})
	}
	writeFrames(t, path, WriterOptions{ChunkBytes: 512}, frames)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint32(len(frames)), r.RecordCount())

	table, err := AsTable(r.Iter())
	require.NoError(t, err)
	require.Len(t, table.Payloads, len(frames))
	for i, want := range frames {
		assert.Equal(t, want.payload, table.Payloads[i])
		assert.Equal(t, want.counter, table.Counters[i])
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xmraw")
	require.NoError(t, writeJunkFile(path))
	_, err := Open(path)
	assert.Error(t, err)
}
