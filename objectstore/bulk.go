package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bmatcuk/doublestar/v4"
)

const maxDeletesPerRequest = 10000

var errNotConfirmed = errors.New("deleted objects are still listed")

// BulkDeleteResult is the aggregated report of bulk delete requests.
type BulkDeleteResult struct {
	NumberDeleted  int        `json:"Number Deleted"`
	NumberNotFound int        `json:"Number Not Found"`
	ResponseStatus string     `json:"Response Status"`
	ResponseBody   string     `json:"Response Body"`
	Errors         [][]string `json:"Errors"`
}

func (r *BulkDeleteResult) add(other *BulkDeleteResult) {
	r.NumberDeleted += other.NumberDeleted
	r.NumberNotFound += other.NumberNotFound
	r.ResponseStatus = other.ResponseStatus
	r.ResponseBody = other.ResponseBody
	r.Errors = append(r.Errors, other.Errors...)
}

// DeleteContainerContents removes every object of container with bulk
// deletes, then lists it again until the deletes are visible. The container
// itself is kept. A missing container is not an error.
func (c *Client) DeleteContainerContents(ctx context.Context, container string) (*BulkDeleteResult, error) {
	return c.deleteObjects(ctx, container, "", nil)
}

// DeleteMatching removes the objects of container whose name matches the
// doublestar glob pattern (e.g. "builds/**/*.log").
func (c *Client) DeleteMatching(ctx context.Context, container, pattern string) (*BulkDeleteResult, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	return c.deleteObjects(ctx, container, "", func(name string) bool {
		match, err := doublestar.Match(pattern, name)
		return err == nil && match
	})
}

func (c *Client) deleteObjects(ctx context.Context, container, prefix string, match func(string) bool) (*BulkDeleteResult, error) {
	total := &BulkDeleteResult{Errors: [][]string{}}

	err := retry.Times(c.cleanupRetries).Wait(c.cleanupWait).TryWithAbort(func(attempt uint) (error, bool) {
		paths, err := c.listPaths(ctx, container, prefix, match)
		if err != nil {
			return err, errors.Is(err, dispatch.ErrCancelled)
		}
		if len(paths) == 0 {
			return nil, true
		}

		if attempt > 0 {
			c.logger.Debugf("%d object(s) still listed in %s, deleting again", len(paths), container)
		}

		result, err := c.bulkDelete(ctx, paths)
		if result != nil {
			total.add(result)
		}
		if err != nil {
			return err, errors.Is(err, dispatch.ErrCancelled)
		}

		remaining, err := c.listPaths(ctx, container, prefix, match)
		if err != nil {
			return err, errors.Is(err, dispatch.ErrCancelled)
		}
		if len(remaining) > 0 {
			return errNotConfirmed, false
		}
		return nil, true
	})

	return total, err
}

// listPaths returns the escaped paths of the listed objects accepted by
// match. A missing container lists as empty.
func (c *Client) listPaths(ctx context.Context, container, prefix string, match func(string) bool) ([]string, error) {
	objects, err := c.ListObjects(ctx, container, ListOptions{Prefix: prefix})
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", container, err)
	}

	var paths []string
	for _, object := range objects {
		if match != nil && !match(object.Name) {
			continue
		}
		path, err := objectPath(container, object.Name)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// bulkDelete deletes escaped "/container/object" paths in batches.
func (c *Client) bulkDelete(ctx context.Context, paths []string) (*BulkDeleteResult, error) {
	total := &BulkDeleteResult{Errors: [][]string{}}

	for start := 0; start < len(paths); start += maxDeletesPerRequest {
		end := start + maxDeletesPerRequest
		if end > len(paths) {
			end = len(paths)
		}

		result, err := c.bulkDeleteBatch(ctx, paths[start:end])
		if err != nil {
			return total, err
		}
		total.add(result)
	}

	if len(total.Errors) > 0 {
		var failures []string
		for _, e := range total.Errors {
			failures = append(failures, strings.Join(e, ": "))
		}
		return total, fmt.Errorf("bulk delete: %d error(s): %s", len(total.Errors), strings.Join(failures, ", "))
	}
	return total, nil
}

func (c *Client) bulkDeleteBatch(ctx context.Context, paths []string) (*BulkDeleteResult, error) {
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("Accept", "application/json")

	op := dispatch.Operation{
		Method: http.MethodPost,
		Path:   "/",
		Query:  url.Values{"bulk-delete": {""}},
		Header: header,
		Body:   strings.NewReader(strings.Join(paths, "\n")),
	}

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

	var result BulkDeleteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode bulk delete response: %w", err)
	}
	c.logger.Debugf("Bulk delete: %d deleted, %d not found, status %s", result.NumberDeleted, result.NumberNotFound, result.ResponseStatus)

	return &result, nil
}
