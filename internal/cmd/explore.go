package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/explore"
	"github.com/trevorstenson/crowd-agent/internal/plan"
	"github.com/trevorstenson/crowd-agent/internal/tools"
)

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Execute read-only exploration tasks",
	Long: `explore runs the planner's exploration tasks and writes one JSON
artifact per task. With EXPLORE_TASK_ID set it runs exactly that task,
which is how platform matrix jobs fan out; otherwise it runs every
task in parallel goroutines. Matrix workers never touch the
checkpoint: the dispatcher records the edit handoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.logMetrics()

		cp, err := d.store.Load()
		if err != nil {
			return d.fail(err)
		}

		xp, err := explore.LoadPlan(d.cfg.RepoRoot)
		if err != nil {
			d.logger.WithError(err).Warn("no exploration plan file, rebuilding from checkpoint")
			xp = &plan.ExplorationPlan{
				Strategy:         plan.StrategyExploreThenEdit,
				ExplorationTasks: cp.ExploreTasks,
			}
		}

		executor := tools.NewExecutor(d.cfg.RepoRoot)
		executor.SetMaxSearchResults(d.cfg.Search.MaxResults)
		runner := explore.NewRunner(executor,
			filepath.Join(d.cfg.RepoRoot, d.cfg.Explore.ResultsDir), d.logger)

		ctx := cmd.Context()
		if d.cfg.ExploreTaskID != "" {
			// One matrix worker, one task, one artifact.
			_, err := runner.RunOne(xp, d.cfg.ExploreTaskID)
			return d.fail(err)
		}

		if err := runner.RunAll(ctx, xp); err != nil {
			return d.fail(err)
		}

		cp.Decide(checkpoint.PhaseEdit, "Exploration complete")
		cp.AppendLog(checkpoint.PhaseExplore,
			"Explored repository", nil, nil)
		if err := d.store.Save(cp); err != nil {
			return d.fail(err)
		}
		commitProgress(ctx, d, cp)
		return nil
	},
}
