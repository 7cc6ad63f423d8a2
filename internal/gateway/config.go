package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls the search endpoints.
type Config struct {
	// URISearch rewrites "scheme://rest" queries to "//rest" so that URLs
	// stored without their scheme still match.
	URISearch      bool          `yaml:"uri_search"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodySize    int64         `yaml:"max_body_size"`
	Status         StatusConfig  `yaml:"status"`
}

// StatusConfig guards the status endpoint. An empty secret leaves it open.
type StatusConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	MinLevel  int    `yaml:"min_level"`
}

func DefaultConfig() Config {
	return Config{
		URISearch:      true,
		RequestTimeout: 10 * time.Second,
		MaxBodySize:    1 << 20,
		Status:         StatusConfig{MinLevel: 500},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = defaults.MaxBodySize
	}
	if c.Status.MinLevel == 0 {
		c.Status.MinLevel = defaults.Status.MinLevel
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_URI_SEARCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.URISearch = b
		}
	}
	if val := os.Getenv("FINDER_JWT_SECRET"); val != "" {
		c.Status.JWTSecret = val
	}
}

// ResolvePaths is a no-op; the gateway has no paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.RequestTimeout < 0 {
		return fmt.Errorf("gateway.request_timeout must not be negative")
	}
	if c.MaxBodySize < 0 {
		return fmt.Errorf("gateway.max_body_size must not be negative")
	}
	return nil
}
