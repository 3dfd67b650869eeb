package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trevorstenson/crowd-agent/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.GetInfo().String())
	},
}
