package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultQuota is the storage budget of a new drive.
const DefaultQuota = "15GiB"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyQuotaDefaults(&cfg.Quota)
	applySnapshotDefaults(&cfg.Snapshot)
	applyContentDefaults(&cfg.Content)
	cfg.GC.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.API.ApplyDefaults()
}

func applyQuotaDefaults(cfg *QuotaConfig) {
	if cfg.Total == "" {
		cfg.Total = DefaultQuota
	}
}

// applySnapshotDefaults sets snapshot store defaults.
func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Postgres == nil {
		cfg.Postgres = make(map[string]any)
	}

	// Defaults for all store types, so a generated file documents them
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(defaultDataDir(), "drive.json")
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(defaultDataDir(), "badger")
	}
	if _, ok := cfg.Postgres["table_prefix"]; !ok {
		cfg.Postgres["table_prefix"] = ""
	}
}

// applyContentDefaults sets content store defaults.
func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(defaultDataDir(), "content")
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "dittodrive/"
	}
}

// defaultDataDir returns $XDG_DATA_HOME/dittodrive, ~/.local/share/dittodrive,
// or the temporary directory when no home directory is known.
func defaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "dittodrive")
	}

	return filepath.Join(home, ".local", "share", "dittodrive")
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
