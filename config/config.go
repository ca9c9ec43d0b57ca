// Package config loads client settings from the environment or from a
// JSON/YAML file and assembles a ready-to-use object storage client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-swiftclient/objectstore/segmentuploader"
	"github.com/docker/go-units"
)

const (
	DefaultRetryCount       = 6
	DefaultRetryPerEndpoint = 2
	DefaultSegmentSize      = "100MB"
	DefaultSegmentContainer = "_segments"
	DefaultPrefetchSize     = "1MB"
)

// Secret variables are not shown in the printed output.
type Secret string

const secret = "*****"

// String implements fmt.Stringer.String.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secret
}

// Config ...
type Config struct {
	Username  string   `mapstructure:"username"`
	Password  Secret   `mapstructure:"password"`
	Endpoints []string `mapstructure:"endpoints"`

	// RetryCount is the total attempt budget of one operation.
	RetryCount int `mapstructure:"retry_count"`
	// RetryPerEndpoint is the number of transient failures tolerated on an
	// endpoint before rotating to the next one.
	RetryPerEndpoint int `mapstructure:"retry_per_endpoint"`
	// RetryStatuses are retried on top of 429 and 5xx, e.g. 409.
	RetryStatuses []int `mapstructure:"retry_statuses"`

	// SegmentSize is a human readable size, e.g. "100MB".
	SegmentSize string `mapstructure:"segment_size"`
	// SegmentContainer is the suffix of the segment container name.
	SegmentContainer string `mapstructure:"segment_container"`
	Concurrency      int    `mapstructure:"concurrency"`
	PrefetchSize     string `mapstructure:"prefetch_size"`

	// TokenCacheDir enables a persistent token cache shared by processes.
	TokenCacheDir string `mapstructure:"token_cache_dir"`

	// Timeout bounds a single attempt, zero means no limit.
	Timeout    time.Duration `mapstructure:"timeout"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

// Default ...
func Default() Config {
	return Config{
		RetryCount:       DefaultRetryCount,
		RetryPerEndpoint: DefaultRetryPerEndpoint,
		SegmentSize:      DefaultSegmentSize,
		SegmentContainer: DefaultSegmentContainer,
		Concurrency:      segmentuploader.DefaultConcurrency(),
		PrefetchSize:     DefaultPrefetchSize,
	}
}

// Validate ...
func (c Config) Validate() error {
	if err := c.Credentials().Validate(); err != nil {
		return err
	}
	if err := c.Budget().Validate(); err != nil {
		return err
	}
	if _, err := c.SegmentSizeBytes(); err != nil {
		return err
	}
	if _, err := c.PrefetchSizeBytes(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("backoff max (%s) is lower than backoff min (%s)", c.BackoffMax, c.BackoffMin)
	}
	for _, status := range c.RetryStatuses {
		if status < 400 || status > 599 {
			return fmt.Errorf("retry status %d is not an error status", status)
		}
	}
	return nil
}

// Credentials ...
func (c Config) Credentials() dispatch.Credentials {
	return dispatch.Credentials{
		Username:  c.Username,
		Password:  string(c.Password),
		Endpoints: c.Endpoints,
	}
}

// Budget ...
func (c Config) Budget() dispatch.RetryBudget {
	return dispatch.RetryBudget{
		TotalAttempts:       c.RetryCount,
		PerEndpointAttempts: c.RetryPerEndpoint,
	}
}

// SegmentSizeBytes parses SegmentSize.
func (c Config) SegmentSizeBytes() (int64, error) {
	return parseSize("segment size", c.SegmentSize)
}

// PrefetchSizeBytes parses PrefetchSize.
func (c Config) PrefetchSizeBytes() (int64, error) {
	return parseSize("prefetch size", c.PrefetchSize)
}

func parseSize(name, value string) (int64, error) {
	size, err := units.FromHumanSize(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, value)
	}
	return size, nil
}
