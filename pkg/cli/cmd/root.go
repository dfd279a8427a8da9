// Package cmd wires the CI image tooling into a cobra command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root command with version info and
// subcommands.
func NewRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ci",
		Short: "CI tooling for Konveyor container-image test environments",
		Long: "ci resolves the container images Konveyor test pipelines need, " +
			"loading missing images from prior CI artifacts into Kind or Podman, " +
			"and prepares nightly build matrices.",
		RunE:         handleRootRunE,
		SilenceUsage: true,
	}

	cmd.Version = fmt.Sprintf("%s (Built on %s from Git SHA %s)", version, date, commit)

	cmd.AddCommand(NewResolveCmd())
	cmd.AddCommand(NewMatrixCmd())

	return cmd
}

// handleRootRunE handles the bare root command.
func handleRootRunE(cmd *cobra.Command, _ []string) error {
	// The err can safely be ignored, as it can never fail at runtime.
	_ = cmd.Help()

	return nil
}
