// Package commands implements the dittodrive command line.
//
// Every command except "config" loads the configuration (file, then
// DITTODRIVE_* environment), configures logging, and stores the result in
// the command context. Drive commands open the configured stores directly,
// so they must not run against stores a live server holds open exclusively
// (badger).
package commands

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/spf13/cobra"
)

type ctxKey string

const configCtxKey ctxKey = "config"

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

// NewRootCommand builds the dittodrive command tree.
func NewRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:   "dittodrive",
		Short: "dittodrive is a virtual drive with folders, files, stars and quotas",
		Long: `dittodrive keeps a hierarchy of folders and files, persists it to a
snapshot store and keeps file bytes in a content store. Run "dittodrive serve"
for the HTTP API, or use the other commands to work on the drive directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if hasAnnotation(cmd, skipConfig) {
				return nil
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := logger.Configure(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			}); err != nil {
				return fmt.Errorf("failed to configure logging: %w", err)
			}

			// One-shot commands print their own results; store chatter
			// would only interleave with them
			switch {
			case cmd.Flags().Changed("log-level"):
				logger.SetLevel(logLevel)
			case cmd.Name() != "serve":
				logger.SetLevel("WARN")
			}

			cmd.SetContext(context.WithValue(cmd.Context(), configCtxKey, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(ServeCommand())
	rootCmd.AddCommand(MkdirCommand())
	rootCmd.AddCommand(UploadCommand())
	rootCmd.AddCommand(ListCommand())
	rootCmd.AddCommand(RemoveCommand())
	rootCmd.AddCommand(StarCommand())
	rootCmd.AddCommand(VerifyCommand())
	rootCmd.AddCommand(UsageCommand())
	rootCmd.AddCommand(GCCommand())
	rootCmd.AddCommand(ConfigCommand())

	return rootCmd
}

// GetConfig returns the configuration loaded by the root command.
func GetConfig(cmd *cobra.Command) *config.Config {
	if v := cmd.Context().Value(configCtxKey); v != nil {
		if cfg, ok := v.(*config.Config); ok {
			return cfg
		}
	}
	return nil
}

func hasAnnotation(cmd *cobra.Command, key string) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[key]; ok {
			return true
		}
	}
	return false
}
