package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/bitrise-io/go-swiftclient/compression"
	"github.com/bitrise-io/go-swiftclient/objectstore"
	"github.com/spf13/cobra"
)

func newCreateContainerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create-container [container]",
		Short: "Create a container (no-op if it exists).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client().PutContainer(cmd.Context(), args[0], nil)
			if err != nil {
				return err
			}
			return resp.Err()
		},
	}
}

func newPutCmd(a *app) *cobra.Command {
	var contentType string
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "put [container] [object] [file]",
		Short: "Upload a file as a single object.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cleanup, err := a.compressToTemp(args[2])
			if err != nil {
				return err
			}
			defer cleanup()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			header := objectstore.MetadataHeader(meta)
			if contentType != "" {
				header.Set("Content-Type", contentType)
			}
			if a.zstd {
				header.Set("Content-Encoding", "zstd")
			}

			resp, err := a.client().PutObject(cmd.Context(), args[0], args[1], f, header)
			if err != nil {
				return err
			}
			if err := resp.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Header.Get("ETag"))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content-Type of the object")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "object metadata, e.g. --meta build=42")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	var offset, length int64
	var output string

	cmd := &cobra.Command{
		Use:   "get [container] [object]",
		Short: "Read an object, or a byte range of it, through a buffered range stream.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if offset < 0 {
				return fmt.Errorf("invalid offset %d", offset)
			}
			if a.zstd && (offset != 0 || length >= 0) {
				return errors.New("--offset and --length cannot be combined with --zstd")
			}

			out, closeOut, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			defer closeOut()

			stream := a.client().OpenStream(cmd.Context(), args[0], args[1])
			defer stream.Close()

			if _, err := stream.Seek(offset, io.SeekStart); err != nil {
				return err
			}

			var r io.Reader = stream
			if length >= 0 {
				r = io.LimitReader(stream, length)
			}
			if a.zstd {
				return compression.Decompress(out, r)
			}
			_, err = io.Copy(out, r)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "first byte to read")
	cmd.Flags().Int64Var(&length, "length", -1, "number of bytes to read, negative reads to the end")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func openOutput(cmd *cobra.Command, output string) (io.Writer, func(), error) {
	if output == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func newHeadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "head [container] [object]",
		Short: "Print the size, ETag and metadata of an object.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client().HeadObject(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := resp.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Content-Length: %d\n", resp.ContentLength)
			for _, key := range []string{"Content-Type", "ETag", "Last-Modified", "X-Object-Manifest"} {
				if value := resp.Header.Get(key); value != "" {
					fmt.Fprintf(out, "%s: %s\n", key, value)
				}
			}

			meta := resp.Metadata()
			names := make([]string, 0, len(meta))
			for name := range meta {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "Meta-%s: %s\n", name, meta[name])
			}
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var ignoreMissing bool

	cmd := &cobra.Command{
		Use:   "delete [container] [object]",
		Short: "Delete an object.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client().DeleteObject(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if ignoreMissing && resp.StatusCode == http.StatusNotFound {
				return nil
			}
			return resp.Err()
		},
	}
	cmd.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "do not fail if the object does not exist")
	return cmd
}

func newCopyCmd(a *app) *cobra.Command {
	var meta map[string]string

	cmd := &cobra.Command{
		Use:   "copy [src-container] [src-object] [dst-container] [dst-object]",
		Short: "Copy an object server side.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client().CopyObject(cmd.Context(), args[0], args[1], args[2], args[3], objectstore.MetadataHeader(meta))
			if err != nil {
				return err
			}
			return resp.Err()
		},
	}
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata to set on the copy")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var opts objectstore.ListOptions
	var long bool

	cmd := &cobra.Command{
		Use:   "list [container]",
		Short: "List the objects of a container.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			objects, err := a.client().ListObjects(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			var sb strings.Builder
			for _, object := range objects {
				if long {
					fmt.Fprintf(&sb, "%d\t%s\t%s\n", object.Bytes, object.LastModified, object.Name)
				} else {
					fmt.Fprintln(&sb, object.Name)
				}
			}
			_, err = io.WriteString(cmd.OutOrStdout(), sb.String())
			return err
		},
	}
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only list names with this prefix")
	cmd.Flags().StringVar(&opts.Marker, "marker", "", "only list names after this one")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries, 0 lists all")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "print size and modification time")
	return cmd
}
