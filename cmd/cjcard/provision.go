package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Install the cjlint runtime bundle if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prov := newProvisioner(cfg, nil)
			if err := prov.EnsureReady(cmd.Context()); err != nil {
				return fmt.Errorf("provision runtime: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), prov.ExecutablePath())
			return nil
		},
	}
}
