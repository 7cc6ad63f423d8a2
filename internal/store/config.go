package store

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/o2r-project/o2r-finder/internal/retry"
)

// Config describes the primary MongoDB store.
type Config struct {
	URI         string      `yaml:"uri"`
	Database    string      `yaml:"database"`
	Collections Collections `yaml:"collections"`

	// Connect bounds the initial connection attempts.
	Connect        retry.Policy  `yaml:"connect"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// BatchSize is the cursor batch size used for backfill scans.
	BatchSize int32 `yaml:"batch_size"`
}

// Collections names the watched collections.
type Collections struct {
	Compendia string `yaml:"compendia"`
	Jobs      string `yaml:"jobs"`
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		URI:      "mongodb://localhost/",
		Database: "muncher",
		Collections: Collections{
			Compendia: "compendia",
			Jobs:      "jobs",
		},
		Connect: retry.Policy{
			Attempts: 10,
			Delay:    500 * time.Millisecond,
			MaxDelay: 30 * time.Second,
			Strategy: retry.Fibonacci,
		},
		ConnectTimeout: 10 * time.Second,
		BatchSize:      100,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.URI == "" {
		c.URI = defaults.URI
	}
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.Collections.Compendia == "" {
		c.Collections.Compendia = defaults.Collections.Compendia
	}
	if c.Collections.Jobs == "" {
		c.Collections.Jobs = defaults.Collections.Jobs
	}
	if c.Connect.Attempts == 0 {
		c.Connect.Attempts = defaults.Connect.Attempts
	}
	if c.Connect.Delay == 0 {
		c.Connect.Delay = defaults.Connect.Delay
	}
	if c.Connect.MaxDelay == 0 {
		c.Connect.MaxDelay = defaults.Connect.MaxDelay
	}
	if c.Connect.Strategy == "" {
		c.Connect.Strategy = defaults.Connect.Strategy
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_MONGODB"); val != "" {
		c.URI = val
	}
	if val := os.Getenv("FINDER_MONGODB_DATABASE"); val != "" {
		c.Database = val
	}
	if val := os.Getenv("FINDER_MONGODB_COLL_COMPENDIA"); val != "" {
		c.Collections.Compendia = val
	}
	if val := os.Getenv("FINDER_MONGODB_COLL_JOBS"); val != "" {
		c.Collections.Jobs = val
	}
}

// ResolvePaths is a no-op; the store has no local paths.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.URI, "mongodb://") && !strings.HasPrefix(c.URI, "mongodb+srv://") {
		return fmt.Errorf("store.uri must be a mongodb:// or mongodb+srv:// URI, got %q", c.URI)
	}
	if c.Collections.Compendia == c.Collections.Jobs {
		return fmt.Errorf("store.collections: compendia and jobs must differ")
	}
	if c.Connect.Attempts < 1 {
		return fmt.Errorf("store.connect.attempts must be at least 1")
	}
	return nil
}
