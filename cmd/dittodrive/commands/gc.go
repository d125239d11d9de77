package commands

import (
	"context"
	"errors"

	"github.com/marmos91/dittodrive/pkg/facade"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/spf13/cobra"
)

// GCCommand runs one garbage collection pass over the content store.
func GCCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove stored content that no file refers to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd)
			if cfg == nil {
				return errors.New("configuration not loaded")
			}

			gcCfg := cfg.GC
			if cmd.Flags().Changed("dry-run") {
				gcCfg.DryRun = dryRun
			}

			p := newPrinter(cmd.OutOrStdout())
			return withDrive(cmd, func(ctx context.Context, d *facade.Drive) error {
				store := d.ContentStore()
				if store == nil {
					return facade.ErrNoContentStore
				}

				collector, err := gc.NewCollector(d, store, gcCfg)
				if err != nil {
					return err
				}

				stats, err := collector.RunNow(ctx)
				if err != nil {
					return err
				}

				if gcCfg.DryRun {
					p.info("Dry run: %d orphaned item(s) found, nothing removed", stats.OrphanedCount)
				} else {
					p.success("Removed %d of %d orphaned item(s)", stats.DeletedCount, stats.OrphanedCount)
				}
				if stats.FailedCount > 0 {
					p.warn("%d item(s) could not be removed", stats.FailedCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report orphans without removing them")
	return cmd
}
