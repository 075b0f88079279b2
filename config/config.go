package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/msviz-core/paths"
)

// EnvPrefix is the prefix for environment overrides, e.g. MSVIZ_SERVER_ADDR.
const EnvPrefix = "MSVIZ"

// MaxRecentFiles caps the recent files list.
const MaxRecentFiles = 10

const (
	DefaultServerAddr         = "127.0.0.1:8090"
	DefaultNativeExtension    = ".mzMD"
	DefaultPathRequestTimeout = 5 * time.Minute
	DefaultBatchSize          = 5000
)

// ServerConfig controls the HTTP data server that exposes the open dataset.
type ServerConfig struct {
	Addr    string `yaml:"addr" envconfig:"ADDR"`
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
}

// ImportConfig controls dataset import and conversion.
type ImportConfig struct {
	NativeExtension    string        `yaml:"native_extension" envconfig:"NATIVE_EXTENSION"`
	PathRequestTimeout time.Duration `yaml:"path_request_timeout" envconfig:"PATH_REQUEST_TIMEOUT"`
	BatchSize          int           `yaml:"batch_size" envconfig:"BATCH_SIZE"`
}

// Config holds the application configuration
type Config struct {
	Server      ServerConfig `yaml:"server" envconfig:"SERVER"`
	Import      ImportConfig `yaml:"import" envconfig:"IMPORT"`
	Debug       bool         `yaml:"debug" envconfig:"DEBUG"`
	RecentFiles []string     `yaml:"recent_files,omitempty" ignored:"true"`

	mu       sync.RWMutex
	filePath string
}

// Default returns a config populated with defaults and no backing file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    DefaultServerAddr,
			Enabled: true,
		},
		Import: ImportConfig{
			NativeExtension:    DefaultNativeExtension,
			PathRequestTimeout: DefaultPathRequestTimeout,
			BatchSize:          DefaultBatchSize,
		},
		RecentFiles: []string{},
	}
}

// Load reads the config from the default location, or returns defaults if
// the file doesn't exist. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. A missing file yields defaults bound to
// that path so a later Save creates it.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.RecentFiles == nil {
		cfg.RecentFiles = []string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}
	if !strings.HasPrefix(c.Import.NativeExtension, ".") || len(c.Import.NativeExtension) < 2 {
		return fmt.Errorf("import.native_extension must look like \".ext\", got %q", c.Import.NativeExtension)
	}
	if c.Import.PathRequestTimeout <= 0 {
		return fmt.Errorf("import.path_request_timeout must be positive")
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive")
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return fmt.Errorf("config has no file path")
	}
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// FilePath returns the path the config is saved to.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// AddRecentFile moves path to the front of the recent files list.
// Returns false if it was already the most recent entry.
func (c *Config) AddRecentFile(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if absPath, err := filepath.Abs(path); err == nil {
		path = absPath
	}
	if len(c.RecentFiles) > 0 && c.RecentFiles[0] == path {
		return false
	}

	c.RecentFiles = slices.DeleteFunc(c.RecentFiles, func(p string) bool { return p == path })
	c.RecentFiles = slices.Insert(c.RecentFiles, 0, path)
	if len(c.RecentFiles) > MaxRecentFiles {
		c.RecentFiles = c.RecentFiles[:MaxRecentFiles]
	}
	return true
}

// GetRecentFiles returns a copy of the recent files list, most recent first.
func (c *Config) GetRecentFiles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.RecentFiles)
}

// GetServerConfig returns a copy of the server section.
func (c *Config) GetServerConfig() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetImportConfig returns a copy of the import section.
func (c *Config) GetImportConfig() ImportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Import
}

// IsDebug reports whether debug logging is requested.
func (c *Config) IsDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}
