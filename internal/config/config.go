// ABOUTME: Configuration loading and parsing for taskdeck
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete taskdeck configuration
type Config struct {
	// Target selects the storage/credential strategy: auto, native, web or remote.
	Target   string         `yaml:"target"`
	Database DatabaseConfig `yaml:"database"`
	Backup   BackupConfig   `yaml:"backup"`
	Session  SessionConfig  `yaml:"session"`
	Auth     AuthConfig     `yaml:"auth"`
	Remote   RemoteConfig   `yaml:"remote"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the embedded database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackupConfig holds the secondary snapshot store configuration
type BackupConfig struct {
	Path string `yaml:"path"`
	// MaxBytes caps the snapshot store size; 0 means unlimited
	MaxBytes int `yaml:"max_bytes"`
}

// SessionConfig holds the session store location
type SessionConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing and revalidation configuration
type AuthConfig struct {
	Secret string `yaml:"secret"`

	TokenTTL             time.Duration `yaml:"-"`
	RevalidationInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TokenTTLRaw             string `yaml:"token_ttl"`
	RevalidationIntervalRaw string `yaml:"revalidation_interval"`
}

// RemoteConfig holds the remote API configuration
type RemoteConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CacheConfig holds the read cache configuration
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists. Everything
// lives under dataDir; the store-backed paths follow the database.
func Default(dataDir string) *Config {
	return &Config{
		Target: "auto",
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "taskdeck.db"),
		},
		Backup: BackupConfig{
			Path: filepath.Join(dataDir, "backup.json"),
		},
		Session: SessionConfig{
			Path: filepath.Join(dataDir, "session.json"),
		},
		Auth: AuthConfig{
			Secret:               "",
			TokenTTL:             24 * time.Hour,
			RevalidationInterval: time.Minute,
		},
		Cache: CacheConfig{
			MaxEntries: 256,
			TTL:        30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default(filepath.Dir(path))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Target {
	case "", "auto", "native", "web", "remote":
	default:
		return fmt.Errorf("target must be one of auto, native, web, remote (got %q)", c.Target)
	}

	if c.Target == "remote" && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required when target is remote")
	}

	if (c.Target == "" || c.Target == "auto" || c.Target == "native") && c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Auth.RevalidationIntervalRaw != "" {
		cfg.Auth.RevalidationInterval, err = time.ParseDuration(cfg.Auth.RevalidationIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing revalidation_interval %q: %w", cfg.Auth.RevalidationIntervalRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	return nil
}
