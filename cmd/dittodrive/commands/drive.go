package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/drive/engine"
	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/spf13/cobra"
)

// openDrive opens the drive described by cfg.
//
// Returns the drive and the metrics created for it. The caller closes the
// drive, which also closes both stores.
func openDrive(ctx context.Context, cfg *config.Config) (*facade.Drive, *config.MetricsResult, error) {
	totalBytes, err := cfg.Quota.TotalBytes()
	if err != nil {
		return nil, nil, err
	}

	m := config.InitializeMetrics(cfg)

	snapshots, err := config.CreateSnapshotStore(ctx, &cfg.Snapshot, m.Storage)
	if err != nil {
		return nil, nil, err
	}

	contents, err := config.CreateContentStore(ctx, &cfg.Content, m.Storage)
	if err != nil {
		_ = snapshots.Close()
		return nil, nil, err
	}

	d, err := facade.Open(ctx, facade.Options{
		Snapshots: snapshots,
		Content:   contents,
		Engine: engine.Options{
			Metrics:      m.Drive,
			TotalBytes:   totalBytes,
			EnforceQuota: cfg.Quota.Enforce,
		},
	})
	if err != nil {
		_ = snapshots.Close()
		_ = contents.Close()
		return nil, nil, fmt.Errorf("failed to open drive: %w", err)
	}

	return d, m, nil
}

// withDrive opens the configured drive, runs fn and closes the drive,
// saving any change fn made.
func withDrive(cmd *cobra.Command, fn func(ctx context.Context, d *facade.Drive) error) (err error) {
	cfg := GetConfig(cmd)
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	ctx := cmd.Context()
	d, _, err := openDrive(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		// Close must save even when ctx was cancelled mid-command
		if closeErr := d.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Error("Failed to close drive: %v", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}()

	return fn(ctx, d)
}
