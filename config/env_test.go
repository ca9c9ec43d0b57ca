package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func() Config
		wantErr string
	}{
		{
			name: "defaults",
			envVars: map[string]string{
				"SWIFT_USERNAME":  "user",
				"SWIFT_PASSWORD":  "pass",
				"SWIFT_ENDPOINTS": "https://a.example.com, https://b.example.com",
			},
			want: func() Config {
				cfg := Default()
				cfg.Username = "user"
				cfg.Password = "pass"
				cfg.Endpoints = []string{"https://a.example.com", "https://b.example.com"}
				return cfg
			},
		},
		{
			name: "all settings",
			envVars: map[string]string{
				"SWIFT_USERNAME":           "user",
				"SWIFT_PASSWORD":           "pass",
				"SWIFT_ENDPOINTS":          "https://a.example.com",
				"SWIFT_RETRY_COUNT":        "10",
				"SWIFT_RETRY_PER_ENDPOINT": "3",
				"SWIFT_RETRY_STATUSES":     "409,423",
				"SWIFT_SEGMENT_SIZE":       "10MB",
				"SWIFT_SEGMENT_CONTAINER":  "_parts",
				"SWIFT_CONCURRENCY":        "4",
				"SWIFT_PREFETCH_SIZE":      "64kB",
				"SWIFT_TOKEN_CACHE_DIR":    "/tmp/tokens",
				"SWIFT_TIMEOUT":            "30s",
			},
			want: func() Config {
				return Config{
					Username:         "user",
					Password:         "pass",
					Endpoints:        []string{"https://a.example.com"},
					RetryCount:       10,
					RetryPerEndpoint: 3,
					RetryStatuses:    []int{409, 423},
					SegmentSize:      "10MB",
					SegmentContainer: "_parts",
					Concurrency:      4,
					PrefetchSize:     "64kB",
					TokenCacheDir:    "/tmp/tokens",
					Timeout:          30 * time.Second,
				}
			},
		},
		{
			name:    "missing username",
			envVars: map[string]string{"SWIFT_PASSWORD": "pass"},
			wantErr: "the secret 'SWIFT_USERNAME' is not defined",
		},
		{
			name:    "missing password",
			envVars: map[string]string{"SWIFT_USERNAME": "user"},
			wantErr: "the secret 'SWIFT_PASSWORD' is not defined",
		},
		{
			name: "missing endpoints",
			envVars: map[string]string{
				"SWIFT_USERNAME": "user",
				"SWIFT_PASSWORD": "pass",
			},
			wantErr: "at least one endpoint is required",
		},
		{
			name: "invalid number",
			envVars: map[string]string{
				"SWIFT_USERNAME":    "user",
				"SWIFT_PASSWORD":    "pass",
				"SWIFT_ENDPOINTS":   "https://a.example.com",
				"SWIFT_RETRY_COUNT": "many",
			},
			wantErr: "invalid SWIFT_RETRY_COUNT",
		},
		{
			name: "invalid timeout",
			envVars: map[string]string{
				"SWIFT_USERNAME":  "user",
				"SWIFT_PASSWORD":  "pass",
				"SWIFT_ENDPOINTS": "https://a.example.com",
				"SWIFT_TIMEOUT":   "soon",
			},
			wantErr: "invalid SWIFT_TIMEOUT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(fakeEnvRepo{envVars: tt.envVars})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want(), cfg)
		})
	}
}
