package objectstore

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/melbahja/got"
)

// downloadURLBase only makes the URLs handed to got absolute. The
// dispatcher's RoundTripper ignores scheme and host and resolves the path
// against the current endpoint.
const downloadURLBase = "http://objectstore.invalid"

// DownloadFile downloads container/object to dest with parallel range
// requests. A missing object is a 404 *StatusError.
func (c *Client) DownloadFile(ctx context.Context, container, object, dest string) error {
	head, err := c.HeadObject(ctx, container, object)
	if err != nil {
		return err
	}
	if err := head.Err(); err != nil {
		return err
	}

	// got probes with "Range: bytes=0-0", which an empty object cannot serve.
	if head.ContentLength == 0 {
		file, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		return file.Close()
	}

	path, err := objectPath(container, object)
	if err != nil {
		return err
	}

	c.logger.Debugf("Downloading %s/%s (%s) to %s", container, object, units.HumanSize(float64(head.ContentLength)), dest)

	downloader := got.New()
	downloader.Client = c.dispatcher.HTTPClient()

	if err := downloader.Do(got.NewDownload(ctx, downloadURLBase+path, dest)); err != nil {
		return fmt.Errorf("download %s/%s: %w", container, object, err)
	}
	return nil
}
