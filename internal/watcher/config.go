package watcher

import (
	"fmt"
	"os"
)

// Config holds the per-entity watcher settings.
type Config struct {
	Compendia Settings `yaml:"compendia"`
	Jobs      Settings `yaml:"jobs"`
}

// Settings tunes one watcher.
type Settings struct {
	// FetchExisting backfills all records of the collection at startup.
	FetchExisting bool `yaml:"fetch_existing"`
	// Priority orders registration and backfill, lowest first.
	Priority int `yaml:"priority"`
	// Filter is an optional CEL expression over `record`. Records for which
	// it is false are removed from the index instead of being indexed.
	Filter string `yaml:"filter"`
	// Disabled drops the watcher from the registry.
	Disabled bool `yaml:"disabled"`
}

// DefaultConfig returns the watcher defaults: compendia before jobs, both backfilled.
func DefaultConfig() Config {
	return Config{
		Compendia: Settings{FetchExisting: true, Priority: 1},
		Jobs:      Settings{FetchExisting: true, Priority: 2},
	}
}

// ApplyDefaults fills in zero priorities.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Compendia.Priority == 0 {
		c.Compendia.Priority = defaults.Compendia.Priority
	}
	if c.Jobs.Priority == 0 {
		c.Jobs.Priority = defaults.Jobs.Priority
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_FETCH_EXISTING_COMPENDIA"); val != "" {
		c.Compendia.FetchExisting = val == "true" || val == "1"
	}
	if val := os.Getenv("FINDER_FETCH_EXISTING_JOBS"); val != "" {
		c.Jobs.FetchExisting = val == "true" || val == "1"
	}
}

// ResolvePaths is a no-op; watchers have no paths.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate compiles the filters so a bad expression fails at startup.
func (c *Config) Validate() error {
	for name, s := range map[string]Settings{"compendia": c.Compendia, "jobs": c.Jobs} {
		if s.Filter == "" {
			continue
		}
		if _, err := NewFilter(s.Filter); err != nil {
			return fmt.Errorf("watchers.%s.filter: %w", name, err)
		}
	}
	return nil
}
