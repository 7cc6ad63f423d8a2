package notify

import (
	"fmt"
	"os"
	"strings"
)

// Config describes where sync events are published.
type Config struct {
	// Enabled turns publishing on. Setting FINDER_NATS_URL enables it too.
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	// Stream is the JetStream stream that captures the events.
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// DefaultConfig returns the notify defaults. Publishing is off.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Stream:        "FINDER",
		SubjectPrefix: "finder",
		RetryAttempts: 2,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaults.SubjectPrefix
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_NATS_URL"); val != "" {
		c.URL = val
		c.Enabled = true
	}
}

// ResolvePaths is a no-op; notify has no paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("notify.url must start with nats:// or tls://, got %q", c.URL)
	}
	if strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("notify.subject_prefix %q is not a valid subject token", c.SubjectPrefix)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("notify.retry_attempts must not be negative")
	}
	return nil
}
