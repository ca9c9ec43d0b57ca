// Package rangestream provides a lazy, seekable reader over a remote object
// that fetches byte ranges on demand and serves sequential reads from a
// buffered window.
package rangestream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// DefaultPrefetchSize is the minimum window fetched on a buffer miss.
const DefaultPrefetchSize int64 = 1024 * 1024

// ErrClosed is returned by operations on a closed Stream.
var ErrClosed = errors.New("stream is closed")

// Fetcher reads byte ranges and the total length of a remote object.
type Fetcher interface {
	// FetchRange returns the bytes in [start, end).
	FetchRange(ctx context.Context, start, end int64) ([]byte, error)
	Length(ctx context.Context) (int64, error)
}

// Option configures a Stream.
type Option func(*Stream)

// WithPrefetchSize sets the minimum window size.
func WithPrefetchSize(size int64) Option {
	return func(s *Stream) {
		if size > 0 {
			s.prefetchSize = size
		}
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// Stream is an io.ReadSeekCloser over a remote object. No request is made
// until the first read or length call. The object is assumed not to change
// while the stream is open. A Stream is not safe for concurrent use.
type Stream struct {
	ctx          context.Context
	fetcher      Fetcher
	name         string
	prefetchSize int64
	logger       log.Logger

	pos         int64
	window      []byte
	windowStart int64

	length      int64
	lengthKnown bool

	fetches int
	closed  bool
}

// New creates a Stream. ctx is used by Read, Seek and Length; ReadContext and
// LengthContext take their own.
func New(ctx context.Context, fetcher Fetcher, name string, opts ...Option) *Stream {
	s := &Stream{
		ctx:          ctx,
		fetcher:      fetcher,
		name:         name,
		prefetchSize: DefaultPrefetchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewLogger()
	}
	return s
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(s.ctx, p)
}

// ReadContext reads up to len(p) bytes from the current position. It only
// returns fewer bytes at the end of the object.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	length, err := s.LengthContext(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		if s.pos >= length {
			break
		}
		if !s.buffered(s.pos) {
			if err := s.fill(ctx, int64(len(p)-n), length); err != nil {
				return n, err
			}
		}
		copied := copy(p[n:], s.window[s.pos-s.windowStart:])
		n += copied
		s.pos += int64(copied)
	}

	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker. It drops the buffered window without a network
// call, except that io.SeekEnd resolves the length if it is not known yet.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		length, err := s.LengthContext(s.ctx)
		if err != nil {
			return 0, err
		}
		target = length + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("negative position %d", target)
	}

	s.pos = target
	s.window = nil
	return target, nil
}

// Length returns the object length, resolving it once.
func (s *Stream) Length() (int64, error) {
	return s.LengthContext(s.ctx)
}

// LengthContext ...
func (s *Stream) LengthContext(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if s.lengthKnown {
		return s.length, nil
	}

	length, err := s.fetcher.Length(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve length of %s: %w", s.name, err)
	}
	s.length = length
	s.lengthKnown = true
	return length, nil
}

// Fetches returns the number of range fetches made so far.
func (s *Stream) Fetches() int {
	return s.fetches
}

// Close releases the buffer. Further calls fail with ErrClosed.
func (s *Stream) Close() error {
	s.closed = true
	s.window = nil
	return nil
}

func (s *Stream) buffered(pos int64) bool {
	return s.window != nil && pos >= s.windowStart && pos < s.windowStart+int64(len(s.window))
}

func (s *Stream) fill(ctx context.Context, want, length int64) error {
	size := want
	if size < s.prefetchSize {
		size = s.prefetchSize
	}
	start := s.pos
	end := start + size
	if end > length {
		end = length
	}

	data, err := s.fetcher.FetchRange(ctx, start, end)
	s.fetches++
	if err != nil {
		s.window = nil
		return fmt.Errorf("fetch %s bytes %d-%d: %w", s.name, start, end-1, err)
	}
	if int64(len(data)) != end-start {
		s.window = nil
		return fmt.Errorf("fetch %s bytes %d-%d: got %d bytes: %w", s.name, start, end-1, len(data), io.ErrUnexpectedEOF)
	}

	s.logger.Debugf("Buffered %s of %s at offset %d", units.BytesSize(float64(len(data))), s.name, start)
	s.window = data
	s.windowStart = start
	return nil
}
