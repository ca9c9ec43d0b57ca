package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-swiftclient/rangestream"
)

// OpenStream returns a lazy, seekable reader over container/object. Ranges
// are fetched with GET and a Range header, the length with HEAD.
func (c *Client) OpenStream(ctx context.Context, container, object string, opts ...rangestream.Option) *rangestream.Stream {
	fetcher := &objectFetcher{client: c, container: container, object: object}
	opts = append([]rangestream.Option{
		rangestream.WithPrefetchSize(c.prefetchSize),
		rangestream.WithLogger(c.logger),
	}, opts...)
	return rangestream.New(ctx, fetcher, container+"/"+object, opts...)
}

type objectFetcher struct {
	client    *Client
	container string
	object    string
}

func (f *objectFetcher) Length(ctx context.Context) (int64, error) {
	resp, err := f.client.HeadObject(ctx, f.container, f.object)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("HEAD %s/%s: missing Content-Length", f.container, f.object)
	}
	return resp.ContentLength, nil
}

func (f *objectFetcher) FetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	if end <= start {
		return []byte{}, nil
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := f.client.GetObject(ctx, f.container, f.object, header)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Close(); err != nil {
			f.client.logger.Printf("%s", err)
		}
	}()

	body := resp.Body
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if served, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && served != start {
			return nil, fmt.Errorf("GET %s: requested offset %d, served %d", resp.Path, start, served)
		}
	default:
		// The whole object was sent.
		if _, err := io.CopyN(io.Discard, body, start); err != nil {
			return nil, fmt.Errorf("GET %s: skip to offset %d: %w", resp.Path, start, err)
		}
	}

	data := make([]byte, end-start)
	n, err := io.ReadFull(body, data)
	if err != nil {
		return data[:n], fmt.Errorf("GET %s: read range: %w", resp.Path, err)
	}
	return data, nil
}

// contentRangeStart parses the first offset of "bytes a-b/size".
func contentRangeStart(header string) (int64, bool) {
	byteRange, found := strings.CutPrefix(header, "bytes ")
	if !found {
		return 0, false
	}
	first, _, found := strings.Cut(byteRange, "-")
	if !found {
		return 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	return start, err == nil
}
