package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FromFile reads a JSON or YAML configuration file (the format follows the
// extension). SWIFT_* environment variables override the file.
func FromFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SWIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("endpoints", []string{})
	v.SetDefault("retry_count", defaults.RetryCount)
	v.SetDefault("retry_per_endpoint", defaults.RetryPerEndpoint)
	v.SetDefault("retry_statuses", []int{})
	v.SetDefault("segment_size", defaults.SegmentSize)
	v.SetDefault("segment_container", defaults.SegmentContainer)
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("prefetch_size", defaults.PrefetchSize)
	v.SetDefault("token_cache_dir", "")
	v.SetDefault("timeout", "0s")
	v.SetDefault("backoff_min", "0s")
	v.SetDefault("backoff_max", "0s")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
