package syncer

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/o2r-project/o2r-finder/internal/retry"
)

// Config tunes the sync orchestrator.
type Config struct {
	Start StartConfig `yaml:"start"`

	// Workers is the number of appliers per watcher. Changes to the same
	// document always land on the same applier.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// Reconnect paces change stream reopening after an error. Attempts is
	// ignored; streaming retries until shutdown.
	Reconnect retry.Policy `yaml:"reconnect"`

	// ApplyTimeout bounds one index write.
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

// StartConfig bounds the search engine probe.
type StartConfig struct {
	Attempts    int           `yaml:"attempts"`
	Pause       time.Duration `yaml:"pause"`
	PingTimeout time.Duration `yaml:"ping_timeout"`
}

// DefaultConfig returns the sync defaults.
func DefaultConfig() Config {
	return Config{
		Start: StartConfig{
			Attempts:    6,
			Pause:       5 * time.Second,
			PingTimeout: 2 * time.Second,
		},
		Workers:   4,
		QueueSize: 64,
		Reconnect: retry.Policy{
			Delay:    time.Second,
			MaxDelay: time.Minute,
			Strategy: retry.Exponential,
		},
		ApplyTimeout: 10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Start.Attempts == 0 {
		c.Start.Attempts = defaults.Start.Attempts
	}
	if c.Start.Pause == 0 {
		c.Start.Pause = defaults.Start.Pause
	}
	if c.Start.PingTimeout == 0 {
		c.Start.PingTimeout = defaults.Start.PingTimeout
	}
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = defaults.Reconnect.Delay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = defaults.Reconnect.MaxDelay
	}
	if c.Reconnect.Strategy == "" {
		c.Reconnect.Strategy = defaults.Reconnect.Strategy
	}
	if c.ApplyTimeout == 0 {
		c.ApplyTimeout = defaults.ApplyTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
// FINDER_START_PING_PAUSE takes a duration ("5s") or whole seconds ("5").
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_START_PING_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Start.Attempts = n
		}
	}
	if val := os.Getenv("FINDER_START_PING_PAUSE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Start.Pause = d
		} else if n, err := strconv.Atoi(val); err == nil {
			c.Start.Pause = time.Duration(n) * time.Second
		}
	}
}

// ResolvePaths is a no-op; sync has no paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Start.Attempts < 1 {
		return fmt.Errorf("sync.start.attempts must be at least 1")
	}
	if c.Start.Pause < 0 || c.Start.PingTimeout <= 0 {
		return fmt.Errorf("sync.start: pause must not be negative and ping_timeout must be positive")
	}
	if c.Workers < 1 || c.QueueSize < 1 {
		return fmt.Errorf("sync: workers and queue_size must be at least 1")
	}
	return nil
}

func (c Config) probePolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.Start.Attempts,
		Delay:    c.Start.Pause,
		Strategy: retry.Constant,
	}
}
