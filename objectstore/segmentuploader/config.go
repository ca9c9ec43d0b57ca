package segmentuploader

import (
	"runtime"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Config holds configuration for the segment uploader.
type Config struct {
	// Concurrency is the maximum number of parallel segment uploads.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// HungThreshold is the duration after which a segment upload is considered
	// hung if it exceeds the average upload time by this amount. Zero disables
	// hung detection.
	// Default: 30 seconds
	HungThreshold time.Duration

	// MaxHungRetries is how many times a hung segment upload is restarted.
	// Default: 2
	MaxHungRetries int

	// RestartDelay is multiplied by the restart count before a hung segment
	// is uploaded again.
	// Default: 2 seconds
	RestartDelay time.Duration

	Logger log.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    DefaultConcurrency(),
		HungThreshold:  30 * time.Second,
		MaxHungRetries: 2,
		RestartDelay:   2 * time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}

// NumSegments returns how many segments of segmentSize cover totalSize bytes.
func NumSegments(totalSize, segmentSize int64) int {
	if totalSize <= 0 || segmentSize <= 0 {
		return 0
	}
	return int((totalSize + segmentSize - 1) / segmentSize)
}
