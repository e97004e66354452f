package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GanWeaving/social-cross-post/internal/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalid(err)
			}
			if err := config.Validate(cfg); err != nil {
				return invalid(err)
			}

			platforms, err := config.LoadPlatforms(cfg.PlatformsFile)
			if err != nil {
				return invalid(err)
			}
			if err := platforms.Validate(); err != nil {
				return invalid(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration valid")
			configured := platforms.Configured().List()
			if len(configured) == 0 {
				fmt.Fprintf(out, "warning: no platform configured in %s\n", cfg.PlatformsFile)
				return nil
			}
			for _, p := range configured {
				fmt.Fprintf(out, "  %s configured\n", p.DisplayName())
			}
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return invalid(err)
			}
			data, err := cfg.MaskedJSON()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crossposter version %s (commit: %s)\n", version, commit)
		},
	}
}
