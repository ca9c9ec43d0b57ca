package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/docker/go-units"
)

// ErrPartialUpload is matched by *PartialUploadError.
var ErrPartialUpload = errors.New("partial upload")

// PartialUploadError is returned when one or more segments of a large object
// failed. No manifest is created in this case.
type PartialUploadError struct {
	Container string
	Object    string
	Total     int
	Failed    []int
	Err       error
}

func (e *PartialUploadError) Error() string {
	return fmt.Sprintf("%s of %s/%s: segments %v of %d failed: %s", ErrPartialUpload, e.Container, e.Object, e.Failed, e.Total, e.Err)
}

func (e *PartialUploadError) Is(target error) bool {
	return target == ErrPartialUpload
}

func (e *PartialUploadError) Unwrap() error {
	return e.Err
}

// CopyTarget is the final destination of a large object.
type CopyTarget struct {
	Container string
	Object    string
	// Header is set on the destination, e.g. Content-Type,
	// Content-Disposition or X-Object-Meta-* entries.
	Header http.Header
}

// LargeObjectInput ...
type LargeObjectInput struct {
	Container string
	Object    string
	// Source partitions the payload; its segment sizes are the segment size
	// policy of the upload.
	Source segmentuploader.SegmentProvider
	// SegmentContainer defaults to Client.SegmentContainer(Container).
	SegmentContainer string
	// Header is set on the manifest.
	Header http.Header

	// CopyTo, when set, copies the composed object to its final destination
	// and then removes the segments and the manifest.
	CopyTo *CopyTarget
	// KeepSegments skips the removal after a successful copy.
	KeepSegments bool
}

// ManifestRef describes a composed large object.
type ManifestRef struct {
	Container        string
	Object           string
	SegmentContainer string
	SegmentPrefix    string
	Segments         int
	Size             int64
	ETags            []string

	// CopiedTo is set once the copy to CopyTarget succeeded.
	CopiedTo *CopyTarget
	// CopyErr and CleanupErr report failures after the manifest was
	// published; the manifest stays valid.
	CopyErr    error
	CleanupErr error
}

// SegmentName returns the name of the index-th segment of object. Names sort
// lexically in upload order.
func SegmentName(object string, index int) string {
	return fmt.Sprintf("%s/%08d", object, index)
}

// UploadLargeObject uploads input.Source as ordered segments, waits for all of
// them and only then publishes a manifest at Container/Object. Any segment
// failure aborts the upload with a *PartialUploadError before the manifest
// step. Copy and cleanup failures after the manifest are reported in the
// returned ManifestRef, not as an error.
func (c *Client) UploadLargeObject(ctx context.Context, input LargeObjectInput) (*ManifestRef, error) {
	if input.Source == nil {
		return nil, errors.New("segment source must not be nil")
	}
	if _, err := objectPath(input.Container, input.Object); err != nil {
		return nil, err
	}

	segmentContainer := input.SegmentContainer
	if segmentContainer == "" {
		segmentContainer = c.SegmentContainer(input.Container)
	}
	prefix := input.Object + "/"

	resp, err := c.PutContainer(ctx, segmentContainer, nil)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("create segment container: %w", err)
	}

	// Leftovers of an earlier upload under the same prefix would be
	// concatenated into the new object.
	if _, err := c.deleteObjects(ctx, segmentContainer, prefix, nil); err != nil {
		return nil, fmt.Errorf("remove stale segments: %w", err)
	}

	numSegments := input.Source.NumSegments()
	c.logger.Infof("Uploading %s/%s in %d segment(s) to %s", input.Container, input.Object, numSegments, segmentContainer)

	uploader := segmentuploader.New(c.uploaderConfig)
	result, err := uploader.Upload(ctx, input.Source, func(ctx context.Context, index int, body io.ReadSeeker, size int64) (string, error) {
		path, err := objectPath(segmentContainer, SegmentName(input.Object, index))
		if err != nil {
			return "", err
		}
		resp, err := c.do(ctx, dispatch.Operation{
			Method:        http.MethodPut,
			Path:          path,
			Body:          body,
			ContentLength: size,
		}, false)
		if err != nil {
			return "", err
		}
		if err := resp.Err(); err != nil {
			return "", err
		}
		return resp.Header.Get("ETag"), nil
	})
	if err != nil {
		partialErr := &PartialUploadError{Container: input.Container, Object: input.Object, Total: numSegments, Err: err}
		var uploadErr *segmentuploader.Error
		if errors.As(err, &uploadErr) {
			partialErr.Failed = uploadErr.Failed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &dispatch.CancelledError{Err: partialErr}
		}
		return nil, partialErr
	}

	resp, err = c.PutManifest(ctx, input.Container, input.Object, segmentContainer, prefix, input.Header)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}

	ref := &ManifestRef{
		Container:        input.Container,
		Object:           input.Object,
		SegmentContainer: segmentContainer,
		SegmentPrefix:    prefix,
		Segments:         numSegments,
		Size:             result.Size,
		ETags:            result.ETags,
	}
	c.logger.Infof("Published %s/%s (%s)", input.Container, input.Object, units.HumanSize(float64(result.Size)))

	if input.CopyTo == nil {
		return ref, nil
	}

	if err := c.copyLargeObject(ctx, ref, *input.CopyTo); err != nil {
		ref.CopyErr = err
		c.logger.Errorf("Failed to copy %s/%s to %s/%s: %s", ref.Container, ref.Object, input.CopyTo.Container, input.CopyTo.Object, err)
		return ref, nil
	}
	ref.CopiedTo = input.CopyTo

	if !input.KeepSegments {
		if err := c.RemoveSegments(ctx, ref); err != nil {
			ref.CleanupErr = err
			c.logger.Errorf("Failed to clean up segments of %s/%s: %s", ref.Container, ref.Object, err)
		}
	}

	return ref, nil
}

func (c *Client) copyLargeObject(ctx context.Context, ref *ManifestRef, target CopyTarget) error {
	resp, err := c.CopyObject(ctx, ref.Container, ref.Object, target.Container, target.Object, target.Header)
	if err != nil {
		return err
	}
	return resp.Err()
}

// RemoveSegments deletes the segments of ref and, if the object was copied
// to its final destination, the manifest itself. It can be retried by the
// caller after a failed cleanup.
func (c *Client) RemoveSegments(ctx context.Context, ref *ManifestRef) error {
	if _, err := c.deleteObjects(ctx, ref.SegmentContainer, ref.SegmentPrefix, nil); err != nil {
		return fmt.Errorf("delete segments: %w", err)
	}

	if ref.CopiedTo == nil || (ref.CopiedTo.Container == ref.Container && ref.CopiedTo.Object == ref.Object) {
		return nil
	}

	resp, err := c.DeleteObject(ctx, ref.Container, ref.Object)
	if err != nil {
		return fmt.Errorf("delete manifest: %w", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		if err := resp.Err(); err != nil {
			return fmt.Errorf("delete manifest: %w", err)
		}
	}
	return nil
}
