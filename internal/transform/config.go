package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config controls how primary-store records become index documents.
type Config struct {
	// BasePath is the root of the shared file store.
	BasePath string `yaml:"base_path"`
	// CompendiumDir is the subdirectory of BasePath holding one directory per compendium.
	CompendiumDir string `yaml:"compendium_dir"`
	// IDLength is the length of compendium identifiers issued upstream.
	IDLength int `yaml:"id_length"`
	// ReloadFileTree rebuilds the file listing even when a record already has one.
	ReloadFileTree bool `yaml:"reload_file_tree"`
	// MetadataNamespace is the only metadata sub-object kept in the index.
	MetadataNamespace string `yaml:"metadata_namespace"`
	// APIPrefix is the public path compendium files are served under.
	APIPrefix string `yaml:"api_prefix"`
	// LogSize is the number of transform outcomes kept for the status endpoint.
	LogSize int `yaml:"log_size"`

	ReadConcurrency int               `yaml:"read_concurrency"`
	MaxTextSize     int64             `yaml:"max_text_size"`
	MimeOverrides   map[string]string `yaml:"mime_overrides"`
}

// DefaultConfig returns the transform defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:          "/tmp/o2r",
		CompendiumDir:     "compendium",
		IDLength:          5,
		MetadataNamespace: "o2r",
		APIPrefix:         "/api/v1/compendium",
		LogSize:           20,
		ReadConcurrency:   4,
		MaxTextSize:       10 << 20,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.BasePath == "" {
		c.BasePath = defaults.BasePath
	}
	if c.CompendiumDir == "" {
		c.CompendiumDir = defaults.CompendiumDir
	}
	if c.IDLength == 0 {
		c.IDLength = defaults.IDLength
	}
	if c.MetadataNamespace == "" {
		c.MetadataNamespace = defaults.MetadataNamespace
	}
	if c.APIPrefix == "" {
		c.APIPrefix = defaults.APIPrefix
	}
	if c.LogSize == 0 {
		c.LogSize = defaults.LogSize
	}
	if c.ReadConcurrency == 0 {
		c.ReadConcurrency = defaults.ReadConcurrency
	}
	if c.MaxTextSize == 0 {
		c.MaxTextSize = defaults.MaxTextSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("FILE_BASEPATH"); val != "" {
		c.BasePath = val
	}
	if val := os.Getenv("FINDER_ID_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.IDLength = n
		}
	}
	if val := os.Getenv("FINDER_RELOAD_FILETREE"); val != "" {
		c.ReloadFileTree = val == "true" || val == "1"
	}
	if val := os.Getenv("FINDER_STATUS_LOGSIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.LogSize = n
		}
	}
}

// ResolvePaths leaves BasePath alone unless it is relative, in which case it
// is taken relative to dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.BasePath != "" && !filepath.IsAbs(c.BasePath) {
		c.BasePath = filepath.Join(dataDir, c.BasePath)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.IDLength <= 0 {
		return fmt.Errorf("transform.id_length must be positive")
	}
	if c.LogSize <= 0 {
		return fmt.Errorf("transform.log_size must be positive")
	}
	if c.ReadConcurrency <= 0 {
		return fmt.Errorf("transform.read_concurrency must be positive")
	}
	return nil
}

// CompendiumRoot returns the directory holding a compendium's files.
func (c Config) CompendiumRoot(id string) string {
	return filepath.Join(c.BasePath, c.CompendiumDir, id)
}
