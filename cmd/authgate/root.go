package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "authgate - account signup, login and token verification",
		Long: `authgate issues and verifies bearer tokens for registered accounts.
All configuration is read from the environment.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
