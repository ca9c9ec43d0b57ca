package objectstore

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-swiftclient/dispatch"
)

// PutContainer creates container, or updates its metadata if it exists.
func (c *Client) PutContainer(ctx context.Context, container string, header http.Header) (*Response, error) {
	path, err := containerPath(container)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodPut, Path: path, Header: header}, false)
}

// DeleteContainer deletes an empty container.
func (c *Client) DeleteContainer(ctx context.Context, container string) (*Response, error) {
	path, err := containerPath(container)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodDelete, Path: path}, false)
}

// PutObject uploads body as container/object. Body is replayed on retries.
func (c *Client) PutObject(ctx context.Context, container, object string, body io.ReadSeeker, header http.Header) (*Response, error) {
	path, err := objectPath(container, object)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodPut, Path: path, Header: header, Body: body}, false)
}

// GetObject downloads container/object. On success the caller owns
// Response.Body. A "Range" entry in header turns it into a partial read.
func (c *Client) GetObject(ctx context.Context, container, object string, header http.Header) (*Response, error) {
	path, err := objectPath(container, object)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodGet, Path: path, Header: header}, true)
}

// HeadObject reads the length and metadata of container/object.
func (c *Client) HeadObject(ctx context.Context, container, object string) (*Response, error) {
	path, err := objectPath(container, object)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodHead, Path: path}, false)
}

// DeleteObject ...
func (c *Client) DeleteObject(ctx context.Context, container, object string) (*Response, error) {
	path, err := objectPath(container, object)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, dispatch.Operation{Method: http.MethodDelete, Path: path}, false)
}

// CopyObject copies the source object server side and sets header (content
// type, X-Object-Meta-*, Content-Disposition) on the destination in the same
// request. Copying a manifest copies the composed content.
func (c *Client) CopyObject(ctx context.Context, srcContainer, srcObject, dstContainer, dstObject string, header http.Header) (*Response, error) {
	source, err := objectPath(srcContainer, srcObject)
	if err != nil {
		return nil, err
	}
	path, err := objectPath(dstContainer, dstObject)
	if err != nil {
		return nil, err
	}

	copyHeader := header.Clone()
	if copyHeader == nil {
		copyHeader = http.Header{}
	}
	copyHeader.Set("X-Copy-From", source)

	return c.do(ctx, dispatch.Operation{Method: http.MethodPut, Path: path, Header: copyHeader}, false)
}

// PutManifest creates container/object as a dynamic large object whose
// content is every object under segmentContainer/prefix in lexical order.
func (c *Client) PutManifest(ctx context.Context, container, object, segmentContainer, prefix string, header http.Header) (*Response, error) {
	manifest, err := objectPath(segmentContainer, prefix)
	if err != nil {
		return nil, err
	}

	manifestHeader := header.Clone()
	if manifestHeader == nil {
		manifestHeader = http.Header{}
	}
	manifestHeader.Set("X-Object-Manifest", strings.TrimPrefix(manifest, "/"))

	return c.PutObject(ctx, container, object, nil, manifestHeader)
}
