// Package cmd wires the phase subcommands the workflow invokes. Each
// invocation runs exactly one phase and exits; continuation happens by
// triggering a fresh workflow run, never by looping in process.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crowd-agent",
	Short: "Community-voted autonomous build agent",
	Long: `crowd-agent builds the task the community voted for, one bounded
round per CI invocation. State between invocations lives in a JSON
checkpoint committed to the task's branch.

Phases:
  route     pick the winning task or continue the current round
  work      run the plan or edit worker for the routed phase
  explore   execute read-only exploration tasks (fan-out)
  dispatch  commit progress, then trigger the next round or finalize`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with the given context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(versionCmd)
}
