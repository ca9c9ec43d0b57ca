package segmentuploader

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSegments(t *testing.T, provider SegmentProvider) [][]byte {
	t.Helper()
	var segments [][]byte
	for i := 0; i < provider.NumSegments(); i++ {
		reader, err := provider.Segment(i)
		require.NoError(t, err)
		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, provider.SegmentSize(i), int64(len(data)))
		segments = append(segments, data)
	}
	return segments
}

func TestByteSliceProvider(t *testing.T) {
	provider := NewByteSliceProvider([]byte("abcdefghij"), 4)

	assert.Equal(t, 3, provider.NumSegments())
	assert.Equal(t, [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ij")}, readSegments(t, provider))
	assert.Equal(t, int64(0), provider.SegmentSize(3))

	_, err := provider.Segment(3)
	assert.Error(t, err)
}

func TestFileProvider(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10)
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	provider, err := NewFileProvider(path, 30)
	require.NoError(t, err)
	defer func() { require.NoError(t, provider.Close()) }()

	assert.Equal(t, int64(100), provider.Size())
	assert.Equal(t, 4, provider.NumSegments())
	assert.Equal(t, int64(10), provider.SegmentSize(3))

	segments := readSegments(t, provider)
	assert.Equal(t, data, bytes.Join(segments, nil))

	// Readers can be replayed after a seek.
	reader, err := provider.Segment(1)
	require.NoError(t, err)
	_, err = io.ReadAll(reader)
	require.NoError(t, err)
	_, err = reader.Seek(0, io.SeekStart)
	require.NoError(t, err)
	again, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data[30:60], again)
}

func TestFileProvider_InvalidSegmentSize(t *testing.T) {
	_, err := NewFileProvider(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}

func TestReaderProvider_RemovesSpoolOnClose(t *testing.T) {
	dir := t.TempDir()
	data := []byte("streamed payload")

	provider, err := NewReaderProvider(bytes.NewReader(data), dir, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, provider.NumSegments())
	assert.Equal(t, data, bytes.Join(readSegments(t, provider), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, provider.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
