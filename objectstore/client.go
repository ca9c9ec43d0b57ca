// Package objectstore is a Swift-compatible object storage client. Every
// request goes through a dispatch.Dispatcher, so endpoint rotation, token
// refresh and retries apply to all operations, including the segment
// uploads of large objects and the range reads of streams.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/bitrise-io/go-swiftclient/rangestream"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	// DefaultSegmentSize is used when Config.SegmentSize is not set.
	DefaultSegmentSize int64 = 100 * 1000 * 1000
	// DefaultSegmentContainerSuffix names the container holding the segments of
	// large objects: "{container}_segments".
	DefaultSegmentContainerSuffix = "_segments"

	metaHeaderPrefix = "X-Object-Meta-"
	maxErrorBodySize = 1024
)

// Dispatcher executes operations with endpoint rotation and retries.
// *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, op dispatch.Operation) (*http.Response, error)
	HTTPClient() *http.Client
}

// Config ...
type Config struct {
	Dispatcher Dispatcher
	Logger     log.Logger

	SegmentSize            int64
	SegmentContainerSuffix string
	// Uploader configures parallel segment uploads. The zero value means
	// segmentuploader.DefaultConfig().
	Uploader     segmentuploader.Config
	PrefetchSize int64

	// CleanupRetries and CleanupWait bound the loop that waits for bulk
	// deletes to show up in container listings.
	CleanupRetries uint
	CleanupWait    time.Duration
}

// Client ...
type Client struct {
	dispatcher             Dispatcher
	logger                 log.Logger
	segmentSize            int64
	segmentContainerSuffix string
	uploaderConfig         segmentuploader.Config
	prefetchSize           int64
	cleanupRetries         uint
	cleanupWait            time.Duration
}

// NewClient ...
func NewClient(config Config) (*Client, error) {
	if config.Dispatcher == nil {
		return nil, errors.New("dispatcher must not be nil")
	}
	if config.SegmentSize < 0 {
		return nil, fmt.Errorf("segment size must not be negative, got %d", config.SegmentSize)
	}

	c := &Client{
		dispatcher:             config.Dispatcher,
		logger:                 config.Logger,
		segmentSize:            config.SegmentSize,
		segmentContainerSuffix: config.SegmentContainerSuffix,
		uploaderConfig:         config.Uploader,
		prefetchSize:           config.PrefetchSize,
		cleanupRetries:         config.CleanupRetries,
		cleanupWait:            config.CleanupWait,
	}
	if c.logger == nil {
		c.logger = log.NewLogger()
	}
	if c.segmentSize == 0 {
		c.segmentSize = DefaultSegmentSize
	}
	if c.segmentContainerSuffix == "" {
		c.segmentContainerSuffix = DefaultSegmentContainerSuffix
	}
	if u := c.uploaderConfig; u.Concurrency == 0 && u.HungThreshold == 0 && u.MaxHungRetries == 0 && u.RestartDelay == 0 {
		c.uploaderConfig = segmentuploader.DefaultConfig()
		c.uploaderConfig.Logger = u.Logger
	}
	if c.uploaderConfig.Logger == nil {
		c.uploaderConfig.Logger = c.logger
	}
	if c.prefetchSize <= 0 {
		c.prefetchSize = rangestream.DefaultPrefetchSize
	}
	if c.cleanupRetries == 0 {
		c.cleanupRetries = 3
	}
	if c.cleanupWait == 0 {
		c.cleanupWait = 2 * time.Second
	}

	return c, nil
}

// SegmentSize is the default segment size for large object uploads.
func (c *Client) SegmentSize() int64 {
	return c.segmentSize
}

// SegmentContainer returns the container holding the segments of large
// objects uploaded to container.
func (c *Client) SegmentContainer(container string) string {
	return container + c.segmentContainerSuffix
}

// Response is the outcome of an operation that reached the storage service.
// Non-2xx statuses other than exhausted retries and authentication failures
// are reported here rather than as errors.
type Response struct {
	Method        string
	Path          string
	StatusCode    int
	Header        http.Header
	ContentLength int64
	// Body is only set by GetObject on success and must be closed by the caller.
	Body io.ReadCloser
	// ErrorBody holds the beginning of a non-2xx response body.
	ErrorBody string
}

// IsSuccess ...
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a *StatusError for non-2xx responses.
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &StatusError{Method: r.Method, Path: r.Path, StatusCode: r.StatusCode, Body: r.ErrorBody}
}

// Metadata returns the X-Object-Meta-* headers keyed by the name after the prefix.
func (r *Response) Metadata() map[string]string {
	meta := map[string]string{}
	for key, values := range r.Header {
		if name, found := strings.CutPrefix(http.CanonicalHeaderKey(key), metaHeaderPrefix); found && len(values) > 0 {
			meta[name] = values[0]
		}
	}
	return meta
}

// Close closes the body if there is one.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// StatusError is a semantic non-2xx outcome turned into an error by helpers
// that have no Response to return.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// MetadataHeader builds X-Object-Meta-* headers from plain names.
func MetadataHeader(meta map[string]string) http.Header {
	header := http.Header{}
	for name, value := range meta {
		header.Set(metaHeaderPrefix+name, value)
	}
	return header
}

func (c *Client) do(ctx context.Context, op dispatch.Operation, keepBody bool) (*Response, error) {
	c.logger.Debugf("%s", op)

	resp, err := c.dispatcher.Dispatch(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := &Response{
		Method:        op.Method,
		Path:          op.Path,
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: contentLength(resp),
	}

	if keepBody && r.IsSuccess() {
		r.Body = resp.Body
		return r, nil
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("%s", err)
		}
	}()

	if !r.IsSuccess() {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		r.ErrorBody = string(data)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return r, nil
}

func contentLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		return n
	}
	return -1
}

func containerPath(container string) (string, error) {
	if container == "" || strings.Contains(container, "/") {
		return "", fmt.Errorf("invalid container name %q", container)
	}
	return "/" + url.PathEscape(container), nil
}

// objectPath escapes each component of the object name, keeping "/" as is.
func objectPath(container, object string) (string, error) {
	base, err := containerPath(container)
	if err != nil {
		return "", err
	}
	if object == "" {
		return "", errors.New("object name must not be empty")
	}
	parts := strings.Split(object, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return base + "/" + strings.Join(parts, "/"), nil
}
