package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trevorstenson/crowd-agent/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Pick the winning task or continue the current round",
	Long: `route decides what this workflow run does. On a fresh run it picks
the most-voted open task, creates the task branch and the round-1
checkpoint. On a continuation it applies the previous round's decision
and advances the round counter. The result is published as job outputs
for the downstream jobs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.logMetrics()

		r := router.New(d.store, d.github, d.git, d.announcer, d.cfg, d.logger)
		out, err := r.Route(cmd.Context())
		if err != nil {
			return d.fail(err)
		}

		if out.HasWork() {
			d.metrics.Rounds.WithLabelValues(string(out.Phase)).Inc()
		}
		if err := d.outputs.SetAll(out.JobOutputs()); err != nil {
			d.logger.WithError(err).Warn("could not write job outputs")
		}

		d.logger.Info("route complete",
			"phase", out.JobOutputs()["phase"],
			"round", out.RoundNumber,
			"task", out.JobOutputs()["issue_number"])
		return nil
	},
}
