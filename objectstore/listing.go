package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bitrise-io/go-swiftclient/dispatch"
)

const defaultPageSize = 10000

// ObjectInfo is a single entry of a container listing.
type ObjectInfo struct {
	Name         string `json:"name"`
	Bytes        int64  `json:"bytes"`
	Hash         string `json:"hash"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
}

// ListOptions ...
type ListOptions struct {
	Prefix string
	// Marker lists names strictly after it.
	Marker string
	// Limit caps the number of returned entries, zero means all.
	Limit int
	// PageSize is the number of entries requested per call.
	PageSize int
}

// ListObjects lists container in lexical order, following pages with the
// marker of the last returned name. A missing container is a 404 *StatusError.
func (c *Client) ListObjects(ctx context.Context, container string, opts ListOptions) ([]ObjectInfo, error) {
	path, err := containerPath(container)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var objects []ObjectInfo
	marker := opts.Marker
	for {
		limit := pageSize
		if opts.Limit > 0 && opts.Limit-len(objects) < limit {
			limit = opts.Limit - len(objects)
		}

		query := url.Values{}
		query.Set("format", "json")
		query.Set("limit", strconv.Itoa(limit))
		if opts.Prefix != "" {
			query.Set("prefix", opts.Prefix)
		}
		if marker != "" {
			query.Set("marker", marker)
		}

		page, err := c.listPage(ctx, dispatch.Operation{Method: http.MethodGet, Path: path, Query: query})
		if err != nil {
			return nil, err
		}
		objects = append(objects, page...)

		if len(page) < limit || (opts.Limit > 0 && len(objects) >= opts.Limit) {
			return objects, nil
		}
		marker = page[len(page)-1].Name
	}
}

func (c *Client) listPage(ctx context.Context, op dispatch.Operation) ([]ObjectInfo, error) {
	resp, err := c.do(ctx, op, true)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Close(); err != nil {
			c.logger.Printf("%s", err)
		}
	}()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var page []ObjectInfo
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode listing of %s: %w", op.Path, err)
	}
	return page, nil
}
