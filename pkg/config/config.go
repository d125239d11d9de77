package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittodrive/pkg/api"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/spf13/viper"
)

// Config represents the complete DittoDrive configuration.
//
// This structure captures all configurable aspects of a drive:
//   - Logging configuration
//   - HTTP server settings
//   - Storage quota
//   - Snapshot store selection and configuration (store-specific)
//   - Content store selection and configuration (store-specific)
//   - Metrics and garbage collection
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTODRIVE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Config
// struct contains type-specific sections (e.g., snapshot.badger,
// content.s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Quota is the storage budget of the drive
	Quota QuotaConfig `mapstructure:"quota" yaml:"quota"`

	// Snapshot specifies where the hierarchy is persisted
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`

	// Content specifies where file bytes are stored
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Metrics controls Prometheus metrics
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// GC controls garbage collection of orphaned content
	GC gc.Config `mapstructure:"gc" yaml:"gc"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// API configures the HTTP API adapter
	API api.Config `mapstructure:"api" yaml:"api"`
}

// QuotaConfig sets the storage budget.
type QuotaConfig struct {
	// Total is the budget as a human-readable size ("15GiB", "500 MB")
	// or a plain byte count
	Total string `mapstructure:"total" yaml:"total" validate:"required"`

	// Enforce rejects ingests that would exceed the budget. When false the
	// budget only drives the usage report.
	Enforce bool `mapstructure:"enforce" yaml:"enforce"`
}

// TotalBytes parses Total.
func (q QuotaConfig) TotalBytes() (int64, error) {
	n, err := humanize.ParseBytes(q.Total)
	if err != nil {
		return 0, fmt.Errorf("invalid quota total %q: %w", q.Total, err)
	}
	if n == 0 || n > 1<<62 {
		return 0, fmt.Errorf("quota total %q is out of range", q.Total)
	}
	return int64(n), nil
}

// SnapshotConfig specifies snapshot store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type SnapshotConfig struct {
	// Type specifies which snapshot store implementation to use
	// Valid values: memory, filesystem, badger, postgres
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem badger postgres"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Postgres contains PostgreSQL-specific configuration
	// Only used when Type = "postgres"
	Postgres map[string]any `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// ContentConfig specifies content store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: memory, filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns metrics collection on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port runs a dedicated metrics server. Zero serves /metrics on the
	// API server instead.
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// envKeys are bound explicitly so environment overrides work even when the
// key is absent from the configuration file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.api.host",
	"server.api.port",
	"server.api.max_upload_bytes",
	"quota.total",
	"quota.enforce",
	"snapshot.type",
	"snapshot.filesystem.path",
	"snapshot.badger.db_path",
	"snapshot.postgres.database_url",
	"content.type",
	"content.filesystem.path",
	"content.s3.bucket",
	"content.s3.region",
	"content.s3.endpoint",
	"content.s3.access_key_id",
	"content.s3.secret_access_key",
	"metrics.enabled",
	"metrics.port",
	"gc.enabled",
	"gc.interval",
	"gc.dry_run",
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DITTODRIVE_ prefix and underscores
	// Example: DITTODRIVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTODRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittodrive/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file is acceptable: defaults and environment apply
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
