package cmd

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trevorstenson/crowd-agent/internal/dispatch"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/vote"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Commit progress, then trigger the next round or finalize",
	Long: `dispatch inspects the checkpoint the work phase left behind, applies
the safety limits, and either triggers the next workflow run or
finalizes: opening a pull request on success, or reporting the failure
and returning the task to the voting pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.logMetrics()

		dispatcher := dispatch.New(d.store, d.git, d.github, d.github,
			d.announcer, d.metrics, d.cfg, d.logger)

		cp, err := d.store.Load()
		if err != nil {
			if !errors.IsNotFound(err) {
				return d.fail(err)
			}
			// The work job crashed before saving. If the task number
			// is recoverable, at least report the failure.
			number, convErr := strconv.Atoi(os.Getenv("ISSUE_NUMBER"))
			if convErr != nil || number == 0 {
				return d.fail(err)
			}
			d.logger.Error("checkpoint lost, reporting failure", "task", number)
			if reportErr := d.github.ReportFailure(cmd.Context(), number,
				"Checkpoint not found in dispatch phase, the work job may have crashed"); reportErr != nil {
				d.logger.WithError(reportErr).Warn("could not report failure")
			}
			return d.fail(err)
		}

		if client, clientErr := d.completionClient(cp); clientErr != nil {
			d.logger.WithError(clientErr).Warn("vote client unavailable, skipping post-build vote")
		} else {
			dispatcher.Voter = vote.New(client, d.github, d.logger)
		}

		res, err := dispatcher.Run(cmd.Context(), cp)
		if err != nil {
			return d.fail(err)
		}

		outputs := map[string]string{"outcome": res.Outcome}
		if res.PRURL != "" {
			outputs["pr_url"] = res.PRURL
		}
		if err := d.outputs.SetAll(outputs); err != nil {
			d.logger.WithError(err).Warn("could not write job outputs")
		}

		d.logger.Info("dispatch complete", "outcome", res.Outcome)
		return nil
	},
}
