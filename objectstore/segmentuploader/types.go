// Package segmentuploader uploads the ordered segments of a large object in
// parallel. It joins every segment upload before returning, restarts
// attempts that hang well past the running average and aborts the remaining
// segments as soon as one fails permanently.
package segmentuploader

import (
	"context"
	"io"
)

// SegmentProvider provides segment data for upload.
type SegmentProvider interface {
	// NumSegments returns the total number of segments.
	NumSegments() int

	// SegmentSize returns the size of the segment at the given index.
	SegmentSize(index int) int64

	// Segment returns a reader for the segment at the given index. It may be
	// called more than once for the same index when an attempt is restarted.
	Segment(index int) (io.ReadSeeker, error)
}

// PutFunc stores a single segment and returns its ETag.
type PutFunc func(ctx context.Context, index int, body io.ReadSeeker, size int64) (string, error)

// SegmentResult is the outcome of a single segment upload.
type SegmentResult struct {
	Index   int
	ETag    string
	Size    int64
	Err     error
	Aborted bool
}

// Result describes a completed upload.
type Result struct {
	ETags []string
	Size  int64
}
