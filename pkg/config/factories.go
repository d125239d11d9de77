package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	contentFs "github.com/marmos91/dittodrive/pkg/store/content/fs"
	contentMemory "github.com/marmos91/dittodrive/pkg/store/content/memory"
	contentS3 "github.com/marmos91/dittodrive/pkg/store/content/s3"
	"github.com/marmos91/dittodrive/pkg/store/snapshot"
	snapshotBadger "github.com/marmos91/dittodrive/pkg/store/snapshot/badger"
	snapshotFs "github.com/marmos91/dittodrive/pkg/store/snapshot/fs"
	snapshotMemory "github.com/marmos91/dittodrive/pkg/store/snapshot/memory"
	snapshotPostgres "github.com/marmos91/dittodrive/pkg/store/snapshot/postgres"
	"github.com/mitchellh/mapstructure"
)

// S3ContentConfig is the content.s3 section: how to reach the object
// store plus where objects live in it.
type S3ContentConfig struct {
	contentS3.ClientConfig `mapstructure:",squash"`

	// Bucket must already exist
	Bucket string `mapstructure:"bucket" validate:"required"`

	// KeyPrefix is prepended to every object key
	KeyPrefix string `mapstructure:"key_prefix"`

	// SpoolDir holds uploads while they are measured
	SpoolDir string `mapstructure:"spool_dir"`
}

// CreateSnapshotStore creates a snapshot store based on configuration.
//
// This factory function uses the Type field to determine which store
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/snapshot/memory (ephemeral)
//   - "filesystem": Uses pkg/store/snapshot/fs (one JSON or YAML document)
//   - "badger": Uses pkg/store/snapshot/badger (embedded BadgerDB)
//   - "postgres": Uses pkg/store/snapshot/postgres (PostgreSQL)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Snapshot store configuration
//   - m: Storage metrics (nil for no-op)
//
// Returns:
//   - snapshot.Store: Initialized snapshot store
//   - error: Configuration or initialization error
func CreateSnapshotStore(ctx context.Context, cfg *SnapshotConfig, m metrics.StorageMetrics) (snapshot.Store, error) {
	options, err := decodeSnapshotOptions(*cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid %s snapshot store config: %w", cfg.Type, err)
	}

	switch opts := options.(type) {
	case nil:
		logger.Warn("Using the memory snapshot store: the drive is lost on exit")
		return snapshotMemory.New(), nil

	case snapshotFs.Config:
		store, err := snapshotFs.New(opts, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem snapshot store: %w", err)
		}
		logger.Info("Filesystem snapshot store initialized: path=%s", opts.Path)
		return store, nil

	case snapshotBadger.Config:
		store, err := snapshotBadger.New(ctx, opts, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger snapshot store: %w", err)
		}
		logger.Info("Badger snapshot store initialized: path=%s", opts.DBPath)
		return store, nil

	case snapshotPostgres.Config:
		store, err := snapshotPostgres.New(ctx, opts, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres snapshot store: %w", err)
		}
		logger.Info("Postgres snapshot store initialized: prefix=%q", opts.TablePrefix)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown snapshot store type: %q", cfg.Type)
	}
}

// CreateContentStore creates a content store based on configuration.
//
// Supported types:
//   - "memory": Uses pkg/store/content/memory (ephemeral)
//   - "filesystem": Uses pkg/store/content/fs (one file per item)
//   - "s3": Uses pkg/store/content/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Content store configuration
//   - m: Storage metrics (nil for no-op)
//
// Returns:
//   - content.Store: Initialized content store
//   - error: Configuration or initialization error
func CreateContentStore(ctx context.Context, cfg *ContentConfig, m metrics.StorageMetrics) (content.Store, error) {
	options, err := decodeContentOptions(*cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid %s content store config: %w", cfg.Type, err)
	}

	switch opts := options.(type) {
	case nil:
		logger.Warn("Using the memory content store: uploads are lost on exit")
		return contentMemory.New(), nil

	case contentFs.Config:
		store, err := contentFs.New(ctx, opts, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
		}
		logger.Info("Filesystem content store initialized: path=%s", opts.Path)
		return store, nil

	case S3ContentConfig:
		return createS3ContentStore(ctx, opts, m)

	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, opts S3ContentConfig, m metrics.StorageMetrics) (content.Store, error) {
	client, err := contentS3.NewClient(ctx, opts.ClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := contentS3.New(ctx, contentS3.Config{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
		SpoolDir:  opts.SpoolDir,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return store, nil
}

// decodeSnapshotOptions returns the typed configuration of the selected
// snapshot store, or nil for the memory store.
func decodeSnapshotOptions(cfg SnapshotConfig) (any, error) {
	switch cfg.Type {
	case "memory":
		return nil, nil
	case "filesystem":
		var opts snapshotFs.Config
		if err := decodeOptions(cfg.Filesystem, &opts); err != nil {
			return nil, err
		}
		return opts, nil
	case "badger":
		var opts snapshotBadger.Config
		if err := decodeOptions(cfg.Badger, &opts); err != nil {
			return nil, err
		}
		return opts, nil
	case "postgres":
		var opts snapshotPostgres.Config
		if err := decodeOptions(cfg.Postgres, &opts); err != nil {
			return nil, err
		}
		return opts, nil
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %q (supported: memory, filesystem, badger, postgres)", cfg.Type)
	}
}

// decodeContentOptions returns the typed configuration of the selected
// content store, or nil for the memory store.
func decodeContentOptions(cfg ContentConfig) (any, error) {
	switch cfg.Type {
	case "memory":
		return nil, nil
	case "filesystem":
		var opts contentFs.Config
		if err := decodeOptions(cfg.Filesystem, &opts); err != nil {
			return nil, err
		}
		return opts, nil
	case "s3":
		var opts S3ContentConfig
		if err := decodeOptions(cfg.S3, &opts); err != nil {
			return nil, err
		}
		return opts, nil
	default:
		return nil, fmt.Errorf("unknown content store type: %q (supported: memory, filesystem, s3)", cfg.Type)
	}
}

// decodeOptions decodes a store section into out and validates it.
// Unknown keys are rejected so typos surface at startup.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return err
	}
	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}
