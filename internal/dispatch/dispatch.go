// Package dispatch closes out each invocation: commit the round's
// state and file changes, apply the safety limiter, then trigger the
// next invocation or finalize the task. Continuation is always an
// external workflow trigger; the process never loops in place.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/announce"
	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/explore"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/metrics"
	"github.com/trevorstenson/crowd-agent/internal/safety"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

const defaultBaseBranch = "main"

// GitOps is the slice of git plumbing dispatch needs.
type GitOps interface {
	ConfigureIdentity(ctx context.Context) error
	SetAuthenticatedRemote(ctx context.Context, owner, repo, token string) error
	CommitProgress(ctx context.Context, round int, phase string, files []string) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context) error
	Diff(ctx context.Context, base string) (string, error)
}

// Store is the checkpoint persistence surface dispatch needs.
type Store interface {
	Save(cp *checkpoint.Checkpoint) error
	Remove() error
}

// Voter casts the agent's vote on what to build next after a
// successful finalize. Optional; a nil voter skips the vote.
type Voter interface {
	VoteOnNext(ctx context.Context, justBuilt int)
}

// Result is what one dispatch run concluded.
type Result struct {
	// Outcome is "continued", "success" or "failure".
	Outcome string
	// PRURL is set on success.
	PRURL string
	// Reason is set on failure.
	Reason string
}

// Dispatcher applies the limiter and routes the task to its next
// invocation or its terminal outcome.
type Dispatcher struct {
	store     Store
	git       GitOps
	tracker   tracker.Tracker
	trigger   tracker.Trigger
	announcer *announce.Announcer
	metrics   *metrics.Metrics
	cfg       *config.Config
	logger    *log.Logger

	// Voter, when set, reviews the voting pool after a successful
	// build and casts the agent's thumbs-up on the next task.
	Voter Voter

	token func() string
	sleep func(ctx context.Context, d time.Duration)
}

func New(store Store, git GitOps, trk tracker.Tracker, trigger tracker.Trigger,
	ann *announce.Announcer, m *metrics.Metrics, cfg *config.Config, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		git:       git,
		tracker:   trk,
		trigger:   trigger,
		announcer: ann,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		token: func() string {
			if t := os.Getenv("GH_PAT"); t != "" {
				return t
			}
			return os.Getenv("GITHUB_TOKEN")
		},
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Run commits the round, applies the limiter, then either triggers the
// next invocation or finalizes. It always produces a Result; failures
// of the side channels (tracker comments, announcements) are logged
// and swallowed because the terminal outcome is already decided.
func (d *Dispatcher) Run(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	if cp.CurrentPhase == checkpoint.PhaseExplore && cp.PendingDecision == nil {
		// Matrix exploration workers only write artifacts; the single
		// writer per round is this dispatcher, so the edit handoff is
		// recorded here.
		cp.Decide(checkpoint.PhaseEdit, "Exploration complete")
		if err := d.store.Save(cp); err != nil {
			d.logger.WithError(err).Warn("could not save exploration handoff")
		}
	}

	if err := d.commitRound(ctx, cp); err != nil {
		d.logger.WithError(err).Warn("could not commit round progress")
	}

	if v := safety.Check(counters(cp), ceilings(cp)); v != nil {
		d.logger.Warn("safety limit hit", "violation", v.String())
		if d.metrics != nil {
			d.metrics.SafetyViolations.WithLabelValues(v.Limit).Inc()
		}
		if len(cp.FilesModified) > 0 {
			// Progress exists, so the budget running out is not a
			// failure. Force the terminal phase and ship what we have.
			cp.CurrentPhase = checkpoint.PhaseDone
			cp.Decide(checkpoint.PhaseDone, "Safety limit: "+v.String())
			if err := d.store.Save(cp); err != nil {
				d.logger.WithError(err).Warn("could not save forced-done checkpoint")
			}
			if err := d.commitRound(ctx, cp); err != nil {
				d.logger.WithError(err).Warn("could not commit forced-done checkpoint")
			}
			return d.finalizeSuccess(ctx, cp)
		}
		return d.finalizeFailure(ctx, cp, "Safety limit hit with no changes: "+v.String())
	}

	if cp.PendingDecision == nil {
		d.logger.Error("no pending decision, worker may have crashed")
		if len(cp.FilesModified) > 0 {
			return d.finalizeSuccess(ctx, cp)
		}
		return d.finalizeFailure(ctx, cp, "No decision recorded, worker may have crashed")
	}

	switch cp.PendingDecision.NextPhase {
	case checkpoint.PhaseDone:
		if len(cp.FilesModified) == 0 {
			return d.finalizeFailure(ctx, cp, "Agent reported done but made no file changes")
		}
		return d.finalizeSuccess(ctx, cp)
	case checkpoint.PhaseFailed:
		reason := cp.PendingDecision.Reasoning
		if reason == "" {
			reason = "Unknown failure"
		}
		return d.finalizeFailure(ctx, cp, reason)
	default:
		return d.triggerNext(ctx, cp)
	}
}

func counters(cp *checkpoint.Checkpoint) safety.Counters {
	return safety.Counters{
		Rounds:            cp.RoundNumber,
		ModelCalls:        cp.TotalModelCalls,
		ConsecutiveErrors: cp.ConsecutiveErrors,
	}
}

func ceilings(cp *checkpoint.Checkpoint) safety.Ceilings {
	return safety.Ceilings{
		MaxRounds:            cp.Limits.MaxRounds,
		MaxModelCalls:        cp.Limits.MaxModelCalls,
		MaxConsecutiveErrors: cp.Limits.MaxConsecutiveErrors,
	}
}

// commitRound pushes the checkpoint and any modified files so the next
// invocation, running on a different runner, sees them.
func (d *Dispatcher) commitRound(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := d.git.ConfigureIdentity(ctx); err != nil {
		return err
	}
	if token := d.token(); token != "" {
		if err := d.git.SetAuthenticatedRemote(ctx, d.cfg.RepoOwner, d.cfg.RepoName, token); err != nil {
			return err
		}
	}
	return d.git.CommitProgress(ctx, cp.RoundNumber, string(cp.CurrentPhase), cp.FilesModified)
}

// triggerNext spawns the next invocation through the workflow trigger,
// retrying once. When both attempts fail the task would otherwise be
// orphaned on its branch, so finalize inline with whatever exists.
func (d *Dispatcher) triggerNext(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		lastErr = d.trigger.TriggerNextInvocation(ctx, cp.BranchRef, cp.ModelID)
		if lastErr == nil {
			d.logger.Info("triggered next invocation",
				"branch", cp.BranchRef, "next_phase", cp.PendingDecision.NextPhase)
			return &Result{Outcome: "continued"}, nil
		}
		d.logger.WithError(lastErr).Warn("trigger attempt failed", "attempt", attempt)
		if attempt == 1 {
			d.sleep(ctx, 5*time.Second)
		}
	}

	d.logger.Error("could not trigger next invocation, finalizing inline")
	if len(cp.FilesModified) > 0 {
		return d.finalizeSuccess(ctx, cp)
	}
	return d.finalizeFailure(ctx, cp, fmt.Sprintf("Failed to trigger next invocation: %v", lastErr))
}

// finalizeSuccess removes the checkpoint from the branch, opens the
// pull request and reports back on the task.
func (d *Dispatcher) finalizeSuccess(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	d.logger.Info("finalizing with success", "task", cp.TaskID, "rounds", cp.RoundNumber)

	if err := d.store.Remove(); err != nil {
		d.logger.WithError(err).Warn("could not remove checkpoint file")
	}
	// Exploration artifacts were committed with round progress; they
	// must not survive into the pull request.
	if err := os.Remove(filepath.Join(d.cfg.RepoRoot, explore.PlanFile)); err != nil && !os.IsNotExist(err) {
		d.logger.WithError(err).Warn("could not remove exploration plan")
	}
	if err := os.RemoveAll(filepath.Join(d.cfg.RepoRoot, d.cfg.Explore.ResultsDir)); err != nil {
		d.logger.WithError(err).Warn("could not remove exploration results")
	}
	if err := d.git.Add(ctx, "-A"); err == nil {
		if err := d.git.Commit(ctx, "remove agent state files before PR"); err == nil {
			if err := d.git.Push(ctx); err != nil {
				d.logger.WithError(err).Warn("could not push state cleanup")
			}
		}
	}

	diffStat, err := d.git.Diff(ctx, defaultBaseBranch)
	if err != nil {
		d.logger.WithError(err).Warn("could not compute diff stat for the pull request")
		diffStat = ""
	}

	prURL, err := d.tracker.OpenPullRequest(ctx, tracker.PullRequest{
		Title: fmt.Sprintf("feat: implement #%s - %s", cp.TaskID, cp.TaskTitle),
		Body:  prBody(cp, diffStat),
		Head:  cp.BranchRef,
		Base:  defaultBaseBranch,
	})
	if err != nil {
		d.logger.WithError(err).Error("could not open pull request")
		return d.finalizeFailure(ctx, cp, fmt.Sprintf("Could not open pull request: %v", err))
	}
	d.logger.Info("pull request opened", "url", prURL)

	if number, err := strconv.Atoi(cp.TaskID); err == nil {
		if err := d.tracker.ReportSuccess(ctx, number, prURL); err != nil {
			d.logger.WithError(err).Warn("could not report success on the task")
		}
		if d.Voter != nil {
			d.Voter.VoteOnNext(ctx, number)
		}
	}
	d.announcer.BuildSuccess(ctx, cp.TaskTitle, prURL)

	if d.metrics != nil {
		d.metrics.Finalizations.WithLabelValues("success").Inc()
	}
	return &Result{Outcome: "success", PRURL: prURL}, nil
}

func prBody(cp *checkpoint.Checkpoint, diffStat string) string {
	files := "(none)"
	if len(cp.FilesModified) > 0 {
		files = strings.Join(cp.FilesModified, ", ")
	}
	body := fmt.Sprintf(
		"Closes #%s\n\n"+
			"**Issue:** %s\n\n"+
			"This PR was automatically generated by Crowd Agent "+
			"(dynamic round-based, %d rounds).\n\n"+
			"**Files changed:** %s\n\n",
		cp.TaskID, cp.TaskTitle, cp.RoundNumber, files)
	if diffStat = strings.TrimSpace(diffStat); diffStat != "" {
		body += "**Diff stat:**\n```\n" + diffStat + "\n```\n\n"
	}
	return body + "Please review and approve to merge."
}

// finalizeFailure reports the error on the task and returns it to the
// voting pool. Reporting faults are logged, never escalated.
func (d *Dispatcher) finalizeFailure(ctx context.Context, cp *checkpoint.Checkpoint, reason string) (*Result, error) {
	d.logger.Info("finalizing with failure", "task", cp.TaskID, "reason", reason)

	if number, err := strconv.Atoi(cp.TaskID); err == nil {
		if err := d.tracker.ReportFailure(ctx, number, reason); err != nil {
			d.logger.WithError(err).Warn("could not report failure on the task")
		}
	}
	d.announcer.BuildFailure(ctx, cp.TaskID, cp.TaskTitle)

	if d.metrics != nil {
		d.metrics.Finalizations.WithLabelValues("failure").Inc()
	}
	return &Result{Outcome: "failure", Reason: reason}, nil
}
