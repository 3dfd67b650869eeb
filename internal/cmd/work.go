package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/editor"
	"github.com/trevorstenson/crowd-agent/internal/explore"
	"github.com/trevorstenson/crowd-agent/internal/plan"
	"github.com/trevorstenson/crowd-agent/internal/provider"
	"github.com/trevorstenson/crowd-agent/internal/tools"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the plan or edit worker for the routed phase",
	Long: `work runs the model-backed worker for the phase the router selected:
a single planning call in the plan phase, or the bounded multi-turn
tool loop in the edit phase. When done it commits the checkpoint and
any modified files so the dispatch job sees them.`,
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
		d.logger.Info("work phase starting",
			"phase", cp.CurrentPhase, "round", cp.RoundNumber, "task", cp.TaskID)

		client, err := d.completionClient(cp)
		if err != nil {
			return d.fail(err)
		}

		ctx := cmd.Context()
		switch cp.CurrentPhase {
		case checkpoint.PhasePlan:
			runPlan(ctx, d, cp, client)
			if d.cfg.Variant == config.VariantSingleShot &&
				cp.PendingDecision != nil && cp.PendingDecision.NextPhase == checkpoint.PhaseEdit {
				// Single-shot mode folds the edit phase into the same
				// invocation instead of waiting for the next round.
				cp.CurrentPhase = checkpoint.PhaseEdit
				cp.PendingDecision = nil
				runEdit(ctx, d, cp, client)
			}
		case checkpoint.PhaseEdit:
			runEdit(ctx, d, cp, client)
		default:
			d.logger.Error("unexpected phase for model work", "phase", cp.CurrentPhase)
			cp.Decide(checkpoint.PhaseFailed,
				fmt.Sprintf("Unexpected phase for model work: %s", cp.CurrentPhase))
		}

		if err := d.store.Save(cp); err != nil {
			return d.fail(err)
		}
		commitProgress(ctx, d, cp)

		next := "unknown"
		if cp.PendingDecision != nil {
			next = string(cp.PendingDecision.NextPhase)
		}
		if err := d.outputs.Set("next_phase", next); err != nil {
			d.logger.WithError(err).Warn("could not write job output")
		}

		d.logger.Info("work phase complete", "next_phase", next)
		return nil
	},
}

// runPlan makes the planning call, then resolves an explore decision
// into a concrete exploration plan.
func runPlan(ctx context.Context, d *deps, cp *checkpoint.Checkpoint, client provider.Client) {
	planner := plan.New(client, d.cfg.Planner.MaxSteps, d.logger)
	planner.Run(ctx, cp)

	if cp.PendingDecision == nil || cp.PendingDecision.NextPhase != checkpoint.PhaseExplore {
		return
	}

	ep := plan.NewExplorePlanner(planner, d.cfg.Explore.MaxTasks, d.cfg.Explore.MaxStepsPerTask)
	xp := ep.Run(ctx, cp.TaskID, cp.TaskTitle, cp.TaskBody, cp.RepoFilesSnapshot)

	hints := xp.EditHints
	cp.EditHints = &hints

	if xp.Strategy == plan.StrategyDirectEdit || len(xp.ExplorationTasks) == 0 {
		cp.Decide(checkpoint.PhaseEdit, "Direct edit: "+xp.Reasoning)
		return
	}

	if err := explore.SavePlan(d.cfg.RepoRoot, xp); err != nil {
		d.logger.WithError(err).Warn("could not persist exploration plan, editing directly")
		cp.Decide(checkpoint.PhaseEdit, "Exploration plan could not be persisted")
		return
	}
	cp.ExploreTasks = xp.ExplorationTasks
	d.logger.Info("exploration plan saved", "tasks", len(xp.ExplorationTasks))
}

// runEdit waits on any exploration artifacts, then runs the turn loop.
func runEdit(ctx context.Context, d *deps, cp *checkpoint.Checkpoint, client provider.Client) {
	explorationCtx := ""
	if len(cp.ExploreTasks) > 0 {
		explorationCtx = gatherExploration(ctx, d, cp)
	}

	executor := tools.NewExecutor(d.cfg.RepoRoot)
	executor.SetMaxSearchResults(d.cfg.Search.MaxResults)

	loop := editor.New(client, executor, editor.Options{
		MaxTurns:           d.cfg.Editor.MaxTurnsPerRound,
		Timeout:            time.Duration(d.cfg.TimeoutSeconds) * time.Second,
		MaxTokens:          d.cfg.Editor.MaxTokens,
		SystemPrompt:       systemPrompt(d.cfg),
		ExplorationContext: explorationCtx,
	}, d.logger)
	loop.OnStrategyHit = func(strategy string) {
		d.metrics.ParseStrategyHits.WithLabelValues(strategy).Inc()
	}
	loop.OnToolExecuted = func(tool string, ok bool) {
		d.metrics.ToolExecutions.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
	}
	loop.Run(ctx, cp)
}

// gatherExploration joins on the fan-out artifacts and renders them
// for the edit prompt. Missing artifacts degrade to whatever arrived.
func gatherExploration(ctx context.Context, d *deps, cp *checkpoint.Checkpoint) string {
	dir := filepath.Join(d.cfg.RepoRoot, d.cfg.Explore.ResultsDir)

	ids := make([]string, len(cp.ExploreTasks))
	for i, t := range cp.ExploreTasks {
		ids[i] = t.ID
	}
	timeout := time.Duration(d.cfg.Explore.BarrierSeconds) * time.Second
	if err := explore.WaitForResults(ctx, dir, ids, timeout, d.logger); err != nil {
		d.logger.WithError(err).Warn("exploration barrier incomplete, proceeding with partial output")
	}

	results, err := explore.LoadResults(dir)
	if err != nil {
		d.logger.WithError(err).Warn("could not load exploration results")
		return ""
	}
	return formatExploration(results)
}

func formatExploration(results []explore.TaskResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "### %s: %s\n", r.TaskID, r.Description)
		for _, s := range r.Steps {
			if !s.Success {
				continue
			}
			fmt.Fprintf(&b, "%s(%v):\n%s\n\n", s.Tool, s.Args, s.Result)
		}
	}
	return strings.TrimSpace(b.String())
}

// commitProgress publishes the round's state and file changes so the
// dispatch job, on a different runner, can see them.
func commitProgress(ctx context.Context, d *deps, cp *checkpoint.Checkpoint) {
	if err := d.git.ConfigureIdentity(ctx); err != nil {
		d.logger.WithError(err).Warn("could not configure git identity")
		return
	}
	if err := d.git.CommitProgress(ctx, cp.RoundNumber, string(cp.CurrentPhase), cp.FilesModified); err != nil {
		d.logger.WithError(err).Warn("could not commit round progress")
	}
}
