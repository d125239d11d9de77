package commands

import (
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/spf13/cobra"
)

// ConfigCommand groups configuration file helpers.
func ConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the configuration file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(configInitCommand())
	cmd.AddCommand(configValidateCommand())
	return cmd
}

func configInitCommand() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := newPrinter(cmd.OutOrStdout())

			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				p.success("Configuration written to %s", written)
				return nil
			}

			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			p.success("Configuration written to %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	cmd.Flags().StringVarP(&path, "path", "o", "", "Write to this path instead of the default location")
	return cmd
}

func configValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			newPrinter(cmd.OutOrStdout()).success("Configuration is valid (snapshot=%s, content=%s, quota=%s)",
				cfg.Snapshot.Type, cfg.Content.Type, cfg.Quota.Total)
			return nil
		},
	}
}
