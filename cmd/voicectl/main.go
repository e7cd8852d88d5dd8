// Command voicectl is the operator CLI for the voice turn core: dry-run
// routing against a fixture, fixture validation, cache invalidation, and a
// Tier 3 provider smoke check.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "voicectl",
		Short:        "Operate the voice turn core",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRouteCmd(),
		newFixtureCmd(),
		newInvalidateCmd(),
		newTier3Cmd(),
	)
	return root
}
