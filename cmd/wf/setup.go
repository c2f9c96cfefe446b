package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetupCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Verify storage and broker connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			if !check {
				if err := a.store.Migrate(cmd.Context()); err != nil {
					return unexpectedError(fmt.Errorf("migrate: %w", err))
				}
			}
			if err := a.store.Ping(cmd.Context()); err != nil {
				return unexpectedError(fmt.Errorf("storage ping: %w", err))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "storage backend %q reachable\n", cfg.Storage.Backend)
			if check {
				fmt.Fprintln(cmd.OutOrStdout(), "setup check passed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "run a non-destructive connectivity check without provisioning")
	return cmd
}
