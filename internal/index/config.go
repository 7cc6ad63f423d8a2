package index

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config describes the on-disk search index and its partitions.
type Config struct {
	// Dir holds one bleve index per partition.
	Dir string `yaml:"dir"`
	// InMemory keeps every partition in memory. Nothing survives a restart.
	InMemory bool `yaml:"in_memory"`

	Partitions Partitions `yaml:"partitions"`

	// RecreateOnStartup drops and recreates every partition at startup.
	RecreateOnStartup bool `yaml:"recreate_on_startup"`
	// PutMappingOnStartup composes the field mapping into newly created partitions.
	PutMappingOnStartup bool `yaml:"put_mapping_on_startup"`

	// DefaultSize is the number of hits returned when a request names none.
	DefaultSize int `yaml:"default_size"`
	// MaxSize caps the number of hits a request may ask for.
	MaxSize int `yaml:"max_size"`
}

// Partitions names the partition and document type tag per entity.
type Partitions struct {
	Compendia Partition `yaml:"compendia"`
	Jobs      Partition `yaml:"jobs"`
}

// Partition names one partition.
type Partition struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// DefaultConfig returns the index defaults.
func DefaultConfig() Config {
	return Config{
		Dir: "index",
		Partitions: Partitions{
			Compendia: Partition{Name: "compendia", Type: "compendia"},
			Jobs:      Partition{Name: "jobs", Type: "jobs"},
		},
		RecreateOnStartup:   true,
		PutMappingOnStartup: true,
		DefaultSize:         10,
		MaxSize:             1000,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Dir == "" {
		c.Dir = defaults.Dir
	}
	if c.Partitions.Compendia.Name == "" {
		c.Partitions.Compendia.Name = defaults.Partitions.Compendia.Name
	}
	if c.Partitions.Compendia.Type == "" {
		c.Partitions.Compendia.Type = defaults.Partitions.Compendia.Type
	}
	if c.Partitions.Jobs.Name == "" {
		c.Partitions.Jobs.Name = defaults.Partitions.Jobs.Name
	}
	if c.Partitions.Jobs.Type == "" {
		c.Partitions.Jobs.Type = defaults.Partitions.Jobs.Type
	}
	if c.DefaultSize == 0 {
		c.DefaultSize = defaults.DefaultSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = defaults.MaxSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FINDER_INDEX_DIR"); val != "" {
		c.Dir = val
	}
	if val := os.Getenv("FINDER_INDEX_COMPENDIA"); val != "" {
		c.Partitions.Compendia.Name = val
	}
	if val := os.Getenv("FINDER_INDEX_JOBS"); val != "" {
		c.Partitions.Jobs.Name = val
	}
	if val := os.Getenv("FINDER_RECREATE_INDEX"); val != "" {
		c.RecreateOnStartup = val == "true" || val == "1"
	}
	if val := os.Getenv("FINDER_PUT_MAPPING"); val != "" {
		c.PutMappingOnStartup = val == "true" || val == "1"
	}
}

// ResolvePaths resolves a relative Dir against dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) {
		c.Dir = filepath.Join(dataDir, c.Dir)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Partitions.Compendia.Name == c.Partitions.Jobs.Name {
		return fmt.Errorf("index.partitions: compendia and jobs must use different partitions")
	}
	if c.Partitions.Compendia.Type == c.Partitions.Jobs.Type {
		return fmt.Errorf("index.partitions: compendia and jobs must use different types")
	}
	if c.DefaultSize < 0 || c.MaxSize < c.DefaultSize {
		return fmt.Errorf("index: default_size must be between 0 and max_size")
	}
	return nil
}
