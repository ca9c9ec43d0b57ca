// Package compression compresses objects with zstd before upload and
// decompresses them after download.
package compression

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// Extension is appended to the name of compressed objects.
const Extension = ".zst"

// DependencyChecker reports whether the zstd binary can be used.
type DependencyChecker interface {
	CheckDependencies() bool
}

type binaryChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker looks up the zstd binary on the PATH.
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) DependencyChecker {
	return binaryChecker{logger: logger, envRepo: envRepo}
}

func (c binaryChecker) CheckDependencies() bool {
	cmd := command.NewFactory(c.envRepo).Create("which", []string{"zstd"}, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Compressor compresses files with the zstd binary when available and falls
// back to the native encoder otherwise.
type Compressor struct {
	logger  log.Logger
	envRepo env.Repository
	checker DependencyChecker
}

// NewCompressor ...
func NewCompressor(logger log.Logger, envRepo env.Repository, checker DependencyChecker) *Compressor {
	return &Compressor{
		logger:  logger,
		envRepo: envRepo,
		checker: checker,
	}
}

// CompressFile writes the zstd compressed content of src to dst.
func (c *Compressor) CompressFile(src, dst string) error {
	if c.checker.CheckDependencies() {
		c.logger.Debugf("Using installed zstd binary")
		if err := c.runZstd("-q", "-f", "--threads=0", "-o", dst, src); err != nil {
			return fmt.Errorf("compress %s: %w", src, err)
		}
		return nil
	}

	c.logger.Debugf("Falling back to native implementation of zstd")
	if err := convertFile(src, dst, Compress); err != nil {
		return fmt.Errorf("compress %s: %w", src, err)
	}
	return nil
}

// DecompressFile writes the decompressed content of src to dst.
func (c *Compressor) DecompressFile(src, dst string) error {
	if c.checker.CheckDependencies() {
		c.logger.Debugf("Using installed zstd binary")
		if err := c.runZstd("-d", "-q", "-f", "-o", dst, src); err != nil {
			return fmt.Errorf("decompress %s: %w", src, err)
		}
		return nil
	}

	c.logger.Debugf("Falling back to native implementation of zstd")
	if err := convertFile(src, dst, Decompress); err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}
	return nil
}

func (c *Compressor) runZstd(args ...string) error {
	cmd := command.NewFactory(c.envRepo).Create("zstd", args, nil)
	c.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}
	return nil
}

// Compress copies src to dst through the native zstd encoder.
func Compress(dst io.Writer, src io.Reader) error {
	encoder, err := zstd.NewWriter(dst)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(encoder, src); err != nil {
		_ = encoder.Close()
		return fmt.Errorf("write zstd stream: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return nil
}

// Decompress copies src to dst through the native zstd decoder.
func Decompress(dst io.Writer, src io.Reader) error {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer decoder.Close()

	if _, err := io.Copy(dst, decoder); err != nil {
		return fmt.Errorf("read zstd stream: %w", err)
	}
	return nil
}

func convertFile(src, dst string, convert func(io.Writer, io.Reader) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := convert(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
