// Manages the server configuration stored in config.yaml.

package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the configuration file in the data directory.
const ConfigFile = "config.yaml"

// Config stores all server-wide configuration.
// Loaded from config.yaml, created with defaults if missing.
type Config struct {
	// HTTP is the listen address.
	HTTP string `yaml:"http"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `yaml:"rate_limits"`

	History HistoryConfig `yaml:"history"`

	// IndexPath is the full-text index database, relative to the data
	// directory. ":memory:" keeps the index in memory and rebuilds it at
	// startup.
	IndexPath string `yaml:"index_path"`

	Search SearchDefaults `yaml:"search"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// WriteRatePerMin limits mutations (POST/PUT/DELETE).
	// 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min"`

	// ReadRatePerMin limits reads.
	// 0 means unlimited.
	ReadRatePerMin int `yaml:"read_rate_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.ReadRatePerMin < 0 {
		return errors.New("read_rate_per_min must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		WriteRatePerMin: 600,   // 600 req/min for writes
		ReadRatePerMin:  30000, // 30k req/min for reads
	}
}

// HistoryConfig controls the git history of the TM directories.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// SearchDefaults applies to searches that leave these parameters unset.
type SearchDefaults struct {
	// Threshold is the minimum score, between 0 and 100.
	Threshold float64 `yaml:"threshold"`
	// MaxResults caps the number of hits. 0 means unlimited.
	MaxResults int `yaml:"max_results"`
}

// Validate checks the search defaults.
func (s *SearchDefaults) Validate() error {
	if s.Threshold < 0 || s.Threshold > 100 {
		return errors.New("threshold must be between 0 and 100")
	}
	if s.MaxResults < 0 {
		return errors.New("max_results must be non-negative")
	}
	return nil
}

// DefaultConfig returns the configuration written on first start.
func DefaultConfig() Config {
	return Config{
		HTTP:       "127.0.0.1:8080",
		LogLevel:   "info",
		RateLimits: DefaultRateLimits(),
		History: HistoryConfig{
			Enabled:     true,
			AuthorName:  "tmdb",
			AuthorEmail: "tmdb@localhost",
		},
		IndexPath: "index.db",
		Search:    SearchDefaults{Threshold: 70, MaxResults: 50},
	}
}

// SlogLevel returns the slog level named by LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return l, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTP == "" {
		return errors.New("http is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if c.History.Enabled && c.History.AuthorName == "" {
		return errors.New("history: author_name is required")
	}
	if c.IndexPath == "" {
		return errors.New("index_path is required")
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from dataDir/config.yaml.
// Creates the file with defaults if it doesn't exist.
func LoadConfig(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, ConfigFile)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
		}
		// File doesn't exist, will create with defaults
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFile, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFile, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, ConfigFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFile, err)
	}
	return nil
}
