package segmentuploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

var errHung = errors.New("segment upload hung")

// Uploader handles parallel segment uploads with hung detection.
type Uploader struct {
	config        Config
	logger        log.Logger
	stats         *Stats
	checkInterval time.Duration
}

// New creates a new Uploader with the given configuration.
func New(config Config) *Uploader {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency()
	}
	if config.MaxHungRetries < 0 {
		config.MaxHungRetries = 0
	}

	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config:        config,
		logger:        logger,
		stats:         NewStats(),
		checkInterval: time.Second,
	}
}

// Stats returns the upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// Upload uploads every segment of the provider with put and waits for all of
// them. If a segment fails permanently the remaining ones are aborted and an
// *Error is returned once every started upload has returned.
func (u *Uploader) Upload(ctx context.Context, provider SegmentProvider, put PutFunc) (*Result, error) {
	numSegments := provider.NumSegments()
	if numSegments == 0 {
		return &Result{ETags: []string{}}, nil
	}

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	results := make([]SegmentResult, numSegments)
	semaphore := make(chan struct{}, u.config.Concurrency)
	var wg sync.WaitGroup

	for i := 0; i < numSegments; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-uploadCtx.Done():
				err := fmt.Errorf("segment %d not started: %w", index, uploadCtx.Err())
				results[index] = SegmentResult{Index: index, Err: err, Aborted: ctx.Err() == nil}
				return
			}
			defer func() { <-semaphore }()

			etag, err := u.uploadSegmentWithRestart(uploadCtx, provider, put, index, numSegments)
			result := SegmentResult{Index: index, ETag: etag, Size: provider.SegmentSize(index), Err: err}
			if err != nil {
				// Only an interruption caused by a sibling's abort is not a
				// failure of its own; a segment failing independently is.
				if ctx.Err() == nil && uploadCtx.Err() != nil && errors.Is(err, context.Canceled) {
					result.Aborted = true
				} else {
					abort()
				}
			}
			results[index] = result
		}(i)
	}

	wg.Wait()

	etags := make([]string, numSegments)
	var size int64
	var first *SegmentResult
	for i := range results {
		result := results[i]
		if result.Err != nil && !result.Aborted && first == nil {
			first = &results[i]
		}
		etags[i] = result.ETag
		size += result.Size
	}
	if first != nil {
		return nil, newError(results, *first)
	}

	return &Result{ETags: etags, Size: size}, nil
}

func (u *Uploader) uploadSegmentWithRestart(ctx context.Context, provider SegmentProvider, put PutFunc, index, total int) (string, error) {
	for restart := 0; ; restart++ {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("segment %d upload cancelled: %w", index, err)
		}

		u.logger.Debugf("Uploading segment %d/%d (restart %d/%d) [finished=%d] [avg=%v]",
			index+1, total, restart, u.config.MaxHungRetries,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		start := time.Now()
		etag, err := u.uploadSegment(ctx, provider, put, index, restart < u.config.MaxHungRetries)
		if err == nil {
			took := time.Since(start)
			size := provider.SegmentSize(index)
			u.stats.Update(took, size)
			u.logger.Debugf("Segment %d uploaded (%s) in %v, ETag: %s",
				index+1, units.HumanSize(float64(size)), took.Round(time.Millisecond), etag)
			return etag, nil
		}

		if !errors.Is(err, errHung) || ctx.Err() != nil {
			return "", err
		}

		delay := time.Duration(restart+1) * u.config.RestartDelay
		u.logger.Warnf("Segment %d upload hung, restarting after %v", index+1, delay)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("segment %d upload cancelled: %w", index, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (u *Uploader) uploadSegment(ctx context.Context, provider SegmentProvider, put PutFunc, index int, detectHung bool) (string, error) {
	body, err := provider.Segment(index)
	if err != nil {
		return "", fmt.Errorf("get segment %d: %w", index, err)
	}

	segmentCtx, cancelSegment := context.WithCancelCause(ctx)
	defer cancelSegment(nil)

	if detectHung && u.config.HungThreshold > 0 {
		go u.detectHungUpload(segmentCtx, cancelSegment, time.Now(), index)
	}

	etag, err := put(segmentCtx, index, body, provider.SegmentSize(index))
	if err != nil && errors.Is(context.Cause(segmentCtx), errHung) {
		return "", fmt.Errorf("segment %d: %w", index, errHung)
	}
	return etag, err
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelCauseFunc, start time.Time, index int) {
	ticker := time.NewTicker(u.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() == 0 {
				continue
			}
			elapsed := time.Since(start)
			avg := u.stats.Average()
			if elapsed-avg > u.config.HungThreshold {
				u.logger.Warnf("Found hung segment upload (segment %d); canceling request after %s (avg: %s)",
					index+1, elapsed.Round(time.Millisecond), avg.Round(time.Millisecond))
				cancel(errHung)
				return
			}
		}
	}
}
