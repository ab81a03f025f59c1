package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"deskmate/internal/config"
	"deskmate/internal/plugin/builtin/companion"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse and validate the configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if raw, ok := cfg.Plugins[companion.Name]; ok && raw.Enabled {
		if err := companion.New().ValidateConfig(context.Background(), raw.Config); err != nil {
			return fmt.Errorf("plugins.%s: %w", companion.Name, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfgPath)
	return nil
}
