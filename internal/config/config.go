// Package config loads the merklefs mount configuration: the pool
// directory, the opaque remote identifier, and the fetcher endpoint,
// plus a handful of optional ambient knobs (cache timeout, negative
// fetch cache) that a real deployment needs.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// DefaultPath is the configuration file location used when the caller
// doesn't override it.
const DefaultPath = "/etc/merklefs/config.json"

// Config is the parsed and validated mount configuration.
type Config struct {
	// Pool is the absolute path to the directory of content-addressed
	// blobs.
	Pool string `mapstructure:"pool" validate:"required"`

	// Remote is a logical identifier for the remote source, opaque to
	// this package and passed through to the fetcher unexamined.
	Remote string `mapstructure:"remote" validate:"required"`

	// Fetcher is the endpoint address of the fetcher RPC (a Unix
	// socket path or host:port).
	Fetcher string `mapstructure:"fetcher" validate:"required"`

	// CacheTimeout is how long the kernel may cache attributes,
	// entries and readdir results. Zero disables caching entirely.
	CacheTimeout time.Duration `mapstructure:"cache_timeout_seconds" validate:"gte=0"`

	// NegativeCacheTTL bounds how long a failed fetch is remembered
	// before the fetcher is consulted again for the same hash.
	NegativeCacheTTL time.Duration `mapstructure:"negative_cache_ttl_seconds" validate:"gte=0"`

	// NegativeCachePath is where the negative-fetch cache's on-disk
	// state lives. Empty means "derive it from Pool".
	NegativeCachePath string `mapstructure:"negative_cache_path"`

	// VerifySampleRate is the fraction, in [0,1], of opens that get a
	// blake3 integrity spot-check against the pool filename.
	VerifySampleRate float64 `mapstructure:"verify_sample_rate" validate:"gte=0,lte=1"`
}

// NegativeCacheDir returns NegativeCachePath if set, else a directory
// named .merklefs-negcache inside the pool directory.
func (c *Config) NegativeCacheDir() string {
	if c.NegativeCachePath != "" {
		return c.NegativeCachePath
	}
	return filepath.Join(c.Pool, ".merklefs-negcache")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates the configuration file at path. path=="" uses
// DefaultPath. The file is JSON, but // and /* */ comments are
// tolerated: it is stripped through jsonc before being handed to viper,
// so operators can annotate a production config without breaking a
// strict JSON parser.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("cache_timeout_seconds", 0)
	v.SetDefault("negative_cache_ttl_seconds", 60)
	v.SetDefault("verify_sample_rate", 0)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	clean := jsonc.ToJSON(raw)
	if err := v.ReadConfig(bytes.NewReader(clean)); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	var seconds struct {
		Cache    int64 `mapstructure:"cache_timeout_seconds"`
		Negative int64 `mapstructure:"negative_cache_ttl_seconds"`
	}
	if err := v.Unmarshal(&seconds); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	cfg.CacheTimeout = time.Duration(seconds.Cache) * time.Second
	cfg.NegativeCacheTTL = time.Duration(seconds.Negative) * time.Second

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %s is invalid: %w", path, err)
	}
	return &cfg, nil
}
