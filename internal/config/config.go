// Package config assembles the finder configuration from defaults, YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/o2r-project/o2r-finder/internal/gateway"
	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/internal/notify"
	"github.com/o2r-project/o2r-finder/internal/server"
	"github.com/o2r-project/o2r-finder/internal/store"
	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/internal/watcher"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  server.Config `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`

	Store     store.Config     `yaml:"store"`
	Index     index.Config     `yaml:"index"`
	Transform transform.Config `yaml:"transform"`
	Watchers  watcher.Config   `yaml:"watchers"`
	Sync      syncer.Config    `yaml:"sync"`
	Gateway   gateway.Config   `yaml:"gateway"`
	Notify    notify.Config    `yaml:"notify"`
}

// Default returns the configuration used when no file or env var says otherwise.
func Default() *Config {
	return &Config{
		Server:    server.DefaultConfig(),
		Logging:   DefaultLoggingConfig(),
		Store:     store.DefaultConfig(),
		Index:     index.DefaultConfig(),
		Transform: transform.DefaultConfig(),
		Watchers:  watcher.DefaultConfig(),
		Sync:      syncer.DefaultConfig(),
		Gateway:   gateway.DefaultConfig(),
		Notify:    notify.DefaultConfig(),
	}
}

// LoadConfig loads configuration from files and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate.
// Runtime data (logs, on-disk indexes) is resolved next to configDir under "data".
func LoadConfig(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	dataDir := filepath.Join(filepath.Dir(filepath.Clean(configDir)), "data")
	if err := cfg.apply(configDir, dataDir); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func (c *Config) apply(configDir, dataDir string) error {
	return ApplyServiceConfigs(configDir, dataDir,
		&c.Server,
		&c.Logging,
		&c.Store,
		&c.Index,
		&c.Transform,
		&c.Watchers,
		&c.Sync,
		&c.Gateway,
		&c.Notify,
	)
}

// loadFile merges a YAML file into cfg. A missing file is not an error; a
// malformed one is.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
