package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/igtlctl/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote config template to %s\n", output)
			return err
		},
	}
	initCmd.Flags().String("output", defaultConfigPath, "output path for the config template")
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Validated %s (%d connectors)\n", path, len(cfg.Connectors))
			return err
		},
	}
	validateCmd.Flags().String("config", defaultConfigPath, "config file to validate")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
