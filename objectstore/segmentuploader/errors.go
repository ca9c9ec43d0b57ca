package segmentuploader

import (
	"fmt"
	"sort"
)

// Error reports the segments that failed permanently. Segments skipped or
// interrupted because of an earlier failure are not listed in Failed.
type Error struct {
	Total    int
	Uploaded int
	Failed   []int
	// Err is the first permanent failure.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d of %d segments failed (%d uploaded), first failure: %s", len(e.Failed), e.Total, e.Uploaded, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(results []SegmentResult, first SegmentResult) *Error {
	e := &Error{Total: len(results), Err: fmt.Errorf("segment %d: %w", first.Index, first.Err)}
	for _, result := range results {
		switch {
		case result.Err == nil && !result.Aborted:
			e.Uploaded++
		case result.Err != nil && !result.Aborted:
			e.Failed = append(e.Failed, result.Index)
		}
	}
	sort.Ints(e.Failed)
	return e
}
