package segmentuploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// FileProvider reads segments from a file on disk. Segment readers are
// independent section readers, safe for parallel use.
type FileProvider struct {
	file          *os.File
	size          int64
	segmentSize   int64
	numSegments   int
	removeOnClose bool
}

// NewFileProvider creates a SegmentProvider that partitions the file at path
// into segments of segmentSize bytes.
func NewFileProvider(path string, segmentSize int64) (*FileProvider, error) {
	if segmentSize <= 0 {
		return nil, fmt.Errorf("segment size must be positive, got %d", segmentSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileProvider{
		file:        file,
		size:        info.Size(),
		segmentSize: segmentSize,
		numSegments: NumSegments(info.Size(), segmentSize),
	}, nil
}

// NumSegments returns the total number of segments.
func (p *FileProvider) NumSegments() int {
	return p.numSegments
}

// SegmentSize returns the size of the segment at the given index.
func (p *FileProvider) SegmentSize(index int) int64 {
	return segmentSize(p.size, p.segmentSize, index)
}

// Segment returns a reader for the segment at the given index.
func (p *FileProvider) Segment(index int) (io.ReadSeeker, error) {
	if index < 0 || index >= p.numSegments {
		return nil, fmt.Errorf("segment index %d out of range [0, %d)", index, p.numSegments)
	}
	return io.NewSectionReader(p.file, int64(index)*p.segmentSize, p.SegmentSize(index)), nil
}

// Size returns the total size of the file.
func (p *FileProvider) Size() int64 {
	return p.size
}

// Close closes the underlying file.
func (p *FileProvider) Close() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	if p.removeOnClose {
		if rmErr := os.Remove(p.file.Name()); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	p.file = nil
	return err
}

// NewReaderProvider spools r into a temporary file in dir (os.TempDir() when
// empty) and partitions it like NewFileProvider. Close removes the spool file.
func NewReaderProvider(r io.Reader, dir string, segmentSize int64) (*FileProvider, error) {
	spool, err := os.CreateTemp(dir, "segments-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	path := spool.Name()

	if _, err := io.Copy(spool, r); err != nil {
		_ = spool.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("spool input: %w", err)
	}
	if err := spool.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close spool file: %w", err)
	}

	provider, err := NewFileProvider(path, segmentSize)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	provider.removeOnClose = true
	return provider, nil
}

// ByteSliceProvider provides segments from data already in memory.
type ByteSliceProvider struct {
	data        []byte
	segmentSize int64
}

// NewByteSliceProvider partitions data into segments of segmentSize bytes.
func NewByteSliceProvider(data []byte, segmentSize int64) *ByteSliceProvider {
	return &ByteSliceProvider{data: data, segmentSize: segmentSize}
}

// NumSegments returns the total number of segments.
func (p *ByteSliceProvider) NumSegments() int {
	return NumSegments(int64(len(p.data)), p.segmentSize)
}

// SegmentSize returns the size of the segment at the given index.
func (p *ByteSliceProvider) SegmentSize(index int) int64 {
	return segmentSize(int64(len(p.data)), p.segmentSize, index)
}

// Segment returns a reader for the segment at the given index.
func (p *ByteSliceProvider) Segment(index int) (io.ReadSeeker, error) {
	n := p.NumSegments()
	if index < 0 || index >= n {
		return nil, fmt.Errorf("segment index %d out of range [0, %d)", index, n)
	}
	start := int64(index) * p.segmentSize
	return bytes.NewReader(p.data[start : start+p.SegmentSize(index)]), nil
}

func segmentSize(total, size int64, index int) int64 {
	start := int64(index) * size
	if index < 0 || size <= 0 || start >= total {
		return 0
	}
	if remaining := total - start; remaining < size {
		return remaining
	}
	return size
}
