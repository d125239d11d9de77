package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// configHeader starts every generated configuration file.
const configHeader = `# DittoDrive Configuration File
#
# Every value can be overridden with an environment variable named after its
# path, e.g. DITTODRIVE_LOGGING_LEVEL=DEBUG or DITTODRIVE_QUOTA_TOTAL=50GiB.
# Store sections are only read for the selected type.

`

// keyComments documents the generated file. Keys are dotted paths.
var keyComments = map[string]string{
	"content":                     "Where file bytes are stored",
	"content.filesystem":          "One file per item under path",
	"content.filesystem.path":     "Content directory",
	"content.s3":                  "S3 or compatible; set bucket and region to use it",
	"content.s3.key_prefix":       "Prepended to every object key",
	"content.type":                "memory, filesystem or s3",
	"gc":                          "Removal of content no file refers to",
	"gc.batch_size":               "Orphans removed per batch",
	"gc.dry_run":                  "Log orphans without removing them",
	"gc.enabled":                  "Run collection periodically",
	"gc.interval":                 "Time between periodic runs",
	"gc.timeout":                  "Time limit of one periodic run",
	"logging":                     "Log output",
	"logging.format":              "text or json",
	"logging.level":               "DEBUG, INFO, WARN or ERROR",
	"logging.output":              "stdout, stderr or a file path",
	"metrics":                     "Prometheus metrics",
	"metrics.enabled":             "Collect metrics",
	"metrics.port":                "Dedicated metrics port. 0 serves /metrics on the API",
	"quota":                       "Storage budget",
	"quota.enforce":               "Reject ingests that would exceed the budget",
	"quota.total":                 "Human-readable size, e.g. 15GiB or 500MB",
	"server":                      "HTTP server",
	"server.api":                  "HTTP API",
	"server.api.cors_origins":     "Allowed CORS origins. Empty disables CORS handling",
	"server.api.host":             "Interface to bind. Empty binds all interfaces",
	"server.api.idle_timeout":     "Idle keep-alive connection timeout",
	"server.api.max_upload_bytes": "Largest accepted multipart upload request",
	"server.api.port":             "Port of the HTTP API",
	"server.api.rate_limit":       "Per-client rate limit. Zero requests_per_second disables it",
	"server.api.rate_limit.burst": "Bucket size per client",
	"server.api.rate_limit.requests_per_second": "Sustained requests per second per client",
	"server.api.read_header_timeout":            "Time allowed to read request headers",
	"server.api.serve_metrics":                  "Mount /metrics on the API even without metrics.enabled",
	"server.api.shutdown_timeout":               "Time allowed to drain HTTP requests",
	"server.shutdown_timeout":                   "Maximum time to wait for a graceful shutdown",
	"snapshot":                                  "Where the folder and file hierarchy is saved",
	"snapshot.badger":                           "Embedded BadgerDB directory",
	"snapshot.badger.db_path":                   "Badger database directory",
	"snapshot.filesystem":                       "One JSON or YAML document (by extension)",
	"snapshot.filesystem.path":                  "Snapshot document path",
	"snapshot.postgres":                         "PostgreSQL; set database_url to use it",
	"snapshot.postgres.table_prefix":            "Prepended to every table name",
	"snapshot.type":                             "memory, filesystem, badger or postgres",
}

// InitConfig writes the default configuration to the default location.
//
// Returns the path of the written file. Fails if a file already exists
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path, creating its
// parent directories.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML, with a header and a comment
// above each documented key.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	annotate(&root, "")

	var sb strings.Builder
	sb.WriteString(configHeader)

	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return sb.String(), nil
}

// annotate attaches keyComments to the keys of a mapping node, recursively.
func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if comment, ok := keyComments[path]; ok {
			key.HeadComment = comment
		}
		annotate(value, path)
	}
}
