package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-swiftclient/objectstore"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newUploadLargeCmd(a *app) *cobra.Command {
	var segmentContainer, copyTo string
	var keepSegments bool
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "upload-large [container] [object] [file]",
		Short: "Upload a file as parallel segments joined by a manifest.",
		Long: `Splits the file into segments, uploads them in parallel and publishes a manifest once every segment is stored.
Use - as file to read stdin. With --copy-to the composed object is copied to its final place and the segments are removed.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target *objectstore.CopyTarget
			if copyTo != "" {
				container, object, ok := strings.Cut(copyTo, "/")
				if !ok || container == "" || object == "" {
					return fmt.Errorf("invalid --copy-to %q, expected container/object", copyTo)
				}
				target = &objectstore.CopyTarget{Container: container, Object: object, Header: objectstore.MetadataHeader(meta)}
			}

			source, err := a.segmentSource(args[2])
			if err != nil {
				return err
			}
			defer func() {
				if err := source.Close(); err != nil {
					a.logger.Warnf("Failed to close %s: %s", args[2], err)
				}
			}()

			ref, err := a.client().UploadLargeObject(cmd.Context(), objectstore.LargeObjectInput{
				Container:        args[0],
				Object:           args[1],
				Source:           source,
				SegmentContainer: segmentContainer,
				Header:           objectstore.MetadataHeader(meta),
				CopyTo:           target,
				KeepSegments:     keepSegments,
			})
			if err != nil {
				return err
			}
			if ref.CopyErr != nil {
				return fmt.Errorf("manifest %s/%s was published but the copy failed: %w", ref.Container, ref.Object, ref.CopyErr)
			}
			if ref.CleanupErr != nil {
				a.logger.Warnf("Segments under %s/%s were not removed: %s", ref.SegmentContainer, ref.SegmentPrefix, ref.CleanupErr)
			}

			location := ref.Container + "/" + ref.Object
			if ref.CopiedTo != nil {
				location = ref.CopiedTo.Container + "/" + ref.CopiedTo.Object
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s in %d segments)\n", location, units.HumanSize(float64(ref.Size)), ref.Segments)
			return nil
		},
	}
	cmd.Flags().StringVar(&segmentContainer, "segment-container", "", "container of the segments (default is the container name with the configured suffix)")
	cmd.Flags().StringVar(&copyTo, "copy-to", "", "copy the composed object to container/object and remove the segments")
	cmd.Flags().BoolVar(&keepSegments, "keep-segments", false, "keep the segments after --copy-to")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "object metadata, e.g. --meta build=42")
	return cmd
}

type closingProvider struct {
	*segmentuploader.FileProvider
	cleanup func()
}

func (p closingProvider) Close() error {
	defer p.cleanup()
	return p.FileProvider.Close()
}

func (a *app) segmentSource(path string) (closingProvider, error) {
	segmentSize := a.client().SegmentSize()

	if path == "-" {
		if a.zstd {
			return closingProvider{}, fmt.Errorf("--zstd cannot be used with stdin")
		}
		provider, err := segmentuploader.NewReaderProvider(os.Stdin, "", segmentSize)
		if err != nil {
			return closingProvider{}, err
		}
		return closingProvider{FileProvider: provider, cleanup: func() {}}, nil
	}

	compressed, cleanup, err := a.compressToTemp(path)
	if err != nil {
		return closingProvider{}, err
	}
	provider, err := segmentuploader.NewFileProvider(compressed, segmentSize)
	if err != nil {
		cleanup()
		return closingProvider{}, err
	}
	return closingProvider{FileProvider: provider, cleanup: cleanup}, nil
}

func newDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download [container] [object] [dest]",
		Short: "Download an object to a file with parallel range requests.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := args[2]
			if !a.zstd {
				return a.client().DownloadFile(cmd.Context(), args[0], args[1], dest)
			}

			dir, err := os.MkdirTemp("", "swiftctl")
			if err != nil {
				return err
			}
			defer func() {
				if err := os.RemoveAll(dir); err != nil {
					a.logger.Warnf("Failed to remove %s: %s", dir, err)
				}
			}()

			compressed := filepath.Join(dir, filepath.Base(dest))
			if err := a.client().DownloadFile(cmd.Context(), args[0], args[1], compressed); err != nil {
				return err
			}
			return a.compressor().DecompressFile(compressed, dest)
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "cleanup [container]",
		Short: "Bulk delete the objects of a container, or the ones matching a glob.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *objectstore.BulkDeleteResult
			var err error
			if pattern != "" {
				result, err = a.client().DeleteMatching(cmd.Context(), args[0], pattern)
			} else {
				result, err = a.client().DeleteContainerContents(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted: %d, not found: %d\n", result.NumberDeleted, result.NumberNotFound)
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "only delete names matching this doublestar glob, e.g. 'logs/**/*.txt'")
	return cmd
}
