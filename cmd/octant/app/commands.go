// Package app provides the entry point for the octant command-line application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/octantbim/octant/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "octant",
	DisableAutoGenTag: true,
	Short:             "octant is a multi-tenant IFC processing backend",
	Long: `octant stores IFC building models per workspace and project, converts
uploaded files into viewer geometry and queryable properties, and fronts the
whole surface with OAuth 2.1, personal access tokens and role-based access.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the octant CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}
