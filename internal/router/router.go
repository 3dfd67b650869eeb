// Package router is the phase state machine. On a fresh run it picks
// the winning task, creates the task branch and the initial checkpoint.
// On a continuation it consumes the previous round's pending decision
// and advances the round counter. It is the only component that
// increments round_number.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/trevorstenson/crowd-agent/internal/announce"
	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

// GitOps is the slice of git plumbing routing needs.
type GitOps interface {
	ConfigureIdentity(ctx context.Context) error
	SetAuthenticatedRemote(ctx context.Context, owner, repo, token string) error
	CheckoutStateBranch(ctx context.Context, branch string) error
	CreateStateBranch(ctx context.Context, branch string) error
	LsFiles(ctx context.Context) []string
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context) error
}

// Store is the checkpoint persistence surface the router needs.
type Store interface {
	Load() (*checkpoint.Checkpoint, error)
	Save(cp *checkpoint.Checkpoint) error
}

// Outcome tells the workflow which worker to run next.
type Outcome struct {
	Phase       checkpoint.Phase
	RoundNumber int
	TaskID      string
	StateBranch string
	Checkpoint  *checkpoint.Checkpoint
}

// HasWork reports whether a task was found or is in flight.
func (o *Outcome) HasWork() bool {
	return o.Checkpoint != nil
}

// JobOutputs renders the outcome as workflow job outputs.
func (o *Outcome) JobOutputs() map[string]string {
	hasLLM := o.Phase == checkpoint.PhasePlan || o.Phase == checkpoint.PhaseEdit
	hasExplore := o.Phase == checkpoint.PhaseExplore

	matrix := "[]"
	if hasExplore && o.Checkpoint != nil && len(o.Checkpoint.ExploreTasks) > 0 {
		ids := make([]string, len(o.Checkpoint.ExploreTasks))
		for i, t := range o.Checkpoint.ExploreTasks {
			ids[i] = t.ID
		}
		if b, err := json.Marshal(ids); err == nil {
			matrix = string(b)
		}
	}

	phase := "none"
	if o.HasWork() {
		phase = string(o.Phase)
	}
	return map[string]string{
		"phase":          phase,
		"has_llm":        strconv.FormatBool(hasLLM),
		"has_explore":    strconv.FormatBool(hasExplore),
		"explore_matrix": matrix,
		"round_number":   strconv.Itoa(o.RoundNumber),
		"issue_number":   orDefault(o.TaskID, "0"),
		"state_branch":   o.StateBranch,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Router decides what each invocation does.
type Router struct {
	store     Store
	tracker   tracker.Tracker
	git       GitOps
	announcer *announce.Announcer
	cfg       *config.Config
	logger    *log.Logger

	token func() string
}

func New(store Store, trk tracker.Tracker, git GitOps, ann *announce.Announcer, cfg *config.Config, logger *log.Logger) *Router {
	return &Router{
		store:     store,
		tracker:   trk,
		git:       git,
		announcer: ann,
		cfg:       cfg,
		logger:    logger,
		token: func() string {
			if t := os.Getenv("GH_PAT"); t != "" {
				return t
			}
			return os.Getenv("GITHUB_TOKEN")
		},
	}
}

// Route runs the state machine once. With a state branch configured it
// continues the existing task; otherwise it starts a fresh one.
func (r *Router) Route(ctx context.Context) (*Outcome, error) {
	if r.cfg.StateBranch != "" {
		return r.continueTask(ctx)
	}
	return r.freshTask(ctx)
}

// continueTask loads the checkpoint from the state branch, applies the
// pending decision and bumps the round counter.
func (r *Router) continueTask(ctx context.Context) (*Outcome, error) {
	r.logger.Info("continuing task", "state_branch", r.cfg.StateBranch)

	if err := r.git.CheckoutStateBranch(ctx, r.cfg.StateBranch); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup,
			fmt.Sprintf("checkout state branch %s", r.cfg.StateBranch), err)
	}

	cp, err := r.store.Load()
	if err != nil {
		return nil, err
	}

	if cp.PendingDecision == nil {
		// The previous worker never recorded a decision. Guessing a
		// phase could loop forever, so finalize with what exists.
		r.logger.Error("no pending decision on continuation, finalizing")
		next := checkpoint.PhaseFailed
		if len(cp.FilesModified) > 0 {
			next = checkpoint.PhaseDone
		}
		cp.Decide(next, "No decision recorded by the previous round")
	}

	cp.CurrentPhase = cp.PendingDecision.NextPhase
	cp.PendingDecision = nil
	cp.RoundNumber++

	if err := r.store.Save(cp); err != nil {
		return nil, err
	}

	r.logger.Info("round routed",
		"round", cp.RoundNumber, "phase", cp.CurrentPhase, "task", cp.TaskID)

	return &Outcome{
		Phase:       cp.CurrentPhase,
		RoundNumber: cp.RoundNumber,
		TaskID:      cp.TaskID,
		StateBranch: cp.BranchRef,
		Checkpoint:  cp,
	}, nil
}

// freshTask picks the winning task, announces it, creates the task
// branch and writes the round-1 checkpoint.
func (r *Router) freshTask(ctx context.Context) (*Outcome, error) {
	r.logger.Info("fresh run, looking for the winning task")

	task, err := r.tracker.FindNextTask(ctx)
	if err != nil {
		return nil, err
	}
	if task == nil {
		r.logger.Info("no tasks in the voting pool")
		return &Outcome{}, nil
	}

	if err := r.tracker.AnnounceBuild(ctx, task.Number); err != nil {
		r.logger.WithError(err).Warn("could not announce build on the task")
	}
	r.announcer.BuildStart(ctx, strconv.Itoa(task.Number), task.Title)

	repoFiles := r.git.LsFiles(ctx)

	token := r.token()
	if token == "" {
		return nil, errors.New(errors.ErrCodeRouteBranchSetup,
			"neither GH_PAT nor GITHUB_TOKEN is set")
	}

	branch := fmt.Sprintf("agent/issue-%d", task.Number)
	if err := r.git.ConfigureIdentity(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup, "configure identity", err)
	}
	if err := r.git.SetAuthenticatedRemote(ctx, r.cfg.RepoOwner, r.cfg.RepoName, token); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup, "set remote", err)
	}
	if err := r.git.CreateStateBranch(ctx, branch); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup,
			fmt.Sprintf("create branch %s", branch), err)
	}

	body := task.Body
	if body == "" {
		body = "(no description)"
	}
	cp := checkpoint.New(strconv.Itoa(task.Number), task.Title, body,
		branch, r.cfg.ModelID, r.cfg.ProviderID, repoFiles,
		checkpoint.Limits{
			MaxRounds:            r.cfg.Limits.MaxRounds,
			MaxModelCalls:        r.cfg.Limits.MaxModelCalls,
			MaxConsecutiveErrors: r.cfg.Limits.MaxConsecutiveErrors,
		})
	if err := r.store.Save(cp); err != nil {
		return nil, err
	}

	if err := r.git.Add(ctx, checkpoint.FileName); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup, "stage checkpoint", err)
	}
	if err := r.git.Commit(ctx, fmt.Sprintf("round 1: init state for issue #%d", task.Number)); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup, "commit checkpoint", err)
	}
	if err := r.git.Push(ctx); err != nil {
		return nil, errors.Wrap(errors.ErrCodeRouteBranchSetup, "push checkpoint", err)
	}

	r.logger.Info("initialized round 1",
		"task", task.Number, "title", task.Title, "branch", branch)

	return &Outcome{
		Phase:       checkpoint.PhasePlan,
		RoundNumber: 1,
		TaskID:      cp.TaskID,
		StateBranch: branch,
		Checkpoint:  cp,
	}, nil
}
