package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.Username = "user"
	cfg.Password = "pass"
	cfg.Endpoints = []string{"https://swift-1.example.com", "https://swift-2.example.com"}
	return cfg
}

func TestSecret_String(t *testing.T) {
	assert.Equal(t, "*****", Secret("hunter2").String())
	assert.Equal(t, "", Secret("").String())
	assert.Equal(t, "password: *****", fmt.Sprintf("password: %s", Secret("hunter2")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:   "budget lower than a full rotation is valid",
			modify: func(c *Config) { c.RetryCount = 1; c.RetryPerEndpoint = 5 },
		},
		{name: "missing username", modify: func(c *Config) { c.Username = "" }, wantErr: "username must not be empty"},
		{name: "no endpoints", modify: func(c *Config) { c.Endpoints = nil }, wantErr: "at least one endpoint is required"},
		{
			name:    "relative endpoint",
			modify:  func(c *Config) { c.Endpoints = []string{"swift.example.com"} },
			wantErr: `invalid endpoint "swift.example.com": scheme must be http or https`,
		},
		{name: "zero retry count", modify: func(c *Config) { c.RetryCount = 0 }, wantErr: "total attempts must be at least 1, got 0"},
		{name: "zero per endpoint", modify: func(c *Config) { c.RetryPerEndpoint = 0 }, wantErr: "per endpoint attempts must be at least 1, got 0"},
		{name: "bad segment size", modify: func(c *Config) { c.SegmentSize = "lots" }, wantErr: `invalid segment size "lots"`},
		{name: "zero segment size", modify: func(c *Config) { c.SegmentSize = "0" }, wantErr: `segment size must be positive, got "0"`},
		{name: "zero concurrency", modify: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency must be at least 1, got 0"},
		{name: "negative timeout", modify: func(c *Config) { c.Timeout = -time.Second }, wantErr: "timeout must not be negative"},
		{
			name:    "inverted backoff",
			modify:  func(c *Config) { c.BackoffMin = time.Second; c.BackoffMax = time.Millisecond },
			wantErr: "backoff max (1ms) is lower than backoff min (1s)",
		},
		{name: "retry status", modify: func(c *Config) { c.RetryStatuses = []int{200} }, wantErr: "retry status 200 is not an error status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Sizes(t *testing.T) {
	cfg := validConfig()

	segmentSize, err := cfg.SegmentSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), segmentSize)

	prefetchSize, err := cfg.PrefetchSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), prefetchSize)

	cfg.SegmentSize = "5GB"
	segmentSize, err = cfg.SegmentSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000_000), segmentSize)
}

func TestConfig_Budget(t *testing.T) {
	cfg := validConfig()
	cfg.RetryCount = 9
	cfg.RetryPerEndpoint = 3

	budget := cfg.Budget()
	assert.Equal(t, 9, budget.TotalAttempts)
	assert.Equal(t, 3, budget.PerEndpointAttempts)

	credentials := cfg.Credentials()
	assert.Equal(t, "pass", credentials.Password)
	assert.Equal(t, cfg.Endpoints, credentials.Endpoints)
}
