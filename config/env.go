package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Environment variables read by FromEnv.
const (
	UsernameEnvKey         = "SWIFT_USERNAME"
	PasswordEnvKey         = "SWIFT_PASSWORD"
	EndpointsEnvKey        = "SWIFT_ENDPOINTS"
	RetryCountEnvKey       = "SWIFT_RETRY_COUNT"
	RetryPerEndpointEnvKey = "SWIFT_RETRY_PER_ENDPOINT"
	RetryStatusesEnvKey    = "SWIFT_RETRY_STATUSES"
	SegmentSizeEnvKey      = "SWIFT_SEGMENT_SIZE"
	SegmentContainerEnvKey = "SWIFT_SEGMENT_CONTAINER"
	ConcurrencyEnvKey      = "SWIFT_CONCURRENCY"
	PrefetchSizeEnvKey     = "SWIFT_PREFETCH_SIZE"
	TokenCacheDirEnvKey    = "SWIFT_TOKEN_CACHE_DIR"
	TimeoutEnvKey          = "SWIFT_TIMEOUT"
)

// FromEnv reads the configuration from SWIFT_* environment variables on top
// of Default and validates it.
func FromEnv(envRepo env.Repository) (Config, error) {
	cfg := Default()

	cfg.Username = envRepo.Get(UsernameEnvKey)
	if cfg.Username == "" {
		return Config{}, fmt.Errorf("the secret '%s' is not defined", UsernameEnvKey)
	}
	cfg.Password = Secret(envRepo.Get(PasswordEnvKey))
	if cfg.Password == "" {
		return Config{}, fmt.Errorf("the secret '%s' is not defined", PasswordEnvKey)
	}
	cfg.Endpoints = splitList(envRepo.Get(EndpointsEnvKey))

	ints := []struct {
		key   string
		value *int
	}{
		{RetryCountEnvKey, &cfg.RetryCount},
		{RetryPerEndpointEnvKey, &cfg.RetryPerEndpoint},
		{ConcurrencyEnvKey, &cfg.Concurrency},
	}
	for _, i := range ints {
		if raw := envRepo.Get(i.key); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", i.key, err)
			}
			*i.value = n
		}
	}

	for _, raw := range splitList(envRepo.Get(RetryStatusesEnvKey)) {
		status, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", RetryStatusesEnvKey, err)
		}
		cfg.RetryStatuses = append(cfg.RetryStatuses, status)
	}

	strs := []struct {
		key   string
		value *string
	}{
		{SegmentSizeEnvKey, &cfg.SegmentSize},
		{SegmentContainerEnvKey, &cfg.SegmentContainer},
		{PrefetchSizeEnvKey, &cfg.PrefetchSize},
		{TokenCacheDirEnvKey, &cfg.TokenCacheDir},
	}
	for _, s := range strs {
		if raw := envRepo.Get(s.key); raw != "" {
			*s.value = raw
		}
	}

	if raw := envRepo.Get(TimeoutEnvKey); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", TimeoutEnvKey, err)
		}
		cfg.Timeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
