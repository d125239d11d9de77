package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/spf13/cobra"
)

// ServeCommand runs the HTTP API (and the metrics server when configured)
// until interrupted.
func ServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the drive over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig(cmd)
			if cfg == nil {
				return errors.New("configuration not loaded")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.API.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the API port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Info("DittoDrive starting: snapshot=%s content=%s quota=%s",
		cfg.Snapshot.Type, cfg.Content.Type, cfg.Quota.Total)

	d, m, err := openDrive(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close drive: %v", err)
		}
	}()

	srv := server.New(d)
	srv.StopTimeout = cfg.Server.ShutdownTimeout

	for _, a := range config.CreateAdapters(cfg, m) {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	if store := d.ContentStore(); store != nil {
		collector, err := gc.NewCollector(d, store, cfg.GC)
		if err != nil {
			// Every built-in content store supports collection
			logger.Warn("Garbage collection unavailable: %v", err)
		} else {
			srv.SetCollector(collector)
		}
	}

	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutdown complete")
		return nil
	}
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
