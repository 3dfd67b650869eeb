// Package gitops wraps the git CLI for the checkpoint branch
// lifecycle: branch setup, state commits, and the tracked-file
// snapshot. Commands run against a fixed working directory.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

const (
	botName  = "Crowd Agent[bot]"
	botEmail = "crowd-agent-bot@users.noreply.github.com"
)

// Git runs git commands in one repository.
type Git struct {
	dir    string
	logger *log.Logger
}

func New(dir string, logger *log.Logger) *Git {
	return &Git{dir: dir, logger: logger}
}

// Run executes one git command and returns its trimmed stdout.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeGitCommand,
			fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())),
			err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ConfigureIdentity sets the bot's commit identity for this repo.
func (g *Git) ConfigureIdentity(ctx context.Context) error {
	if _, err := g.Run(ctx, "config", "user.name", botName); err != nil {
		return err
	}
	_, err := g.Run(ctx, "config", "user.email", botEmail)
	return err
}

// CheckoutStateBranch fetches and checks out an existing task branch.
func (g *Git) CheckoutStateBranch(ctx context.Context, branch string) error {
	if _, err := g.Run(ctx, "fetch", "origin", branch); err != nil {
		return err
	}
	_, err := g.Run(ctx, "checkout", branch)
	return err
}

// CreateStateBranch makes a fresh task branch, replacing any local
// leftover with the same name, and publishes it upstream.
func (g *Git) CreateStateBranch(ctx context.Context, branch string) error {
	// A stale local branch from an earlier run is fine to lose.
	g.Run(ctx, "branch", "-D", branch)

	if _, err := g.Run(ctx, "checkout", "-b", branch); err != nil {
		return err
	}
	_, err := g.Run(ctx, "push", "--force", "--set-upstream", "origin", branch)
	return err
}

// SetAuthenticatedRemote points origin at a token-authenticated URL so
// pushes from the runner work.
func (g *Git) SetAuthenticatedRemote(ctx context.Context, owner, repo, token string) error {
	url := fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo)
	_, err := g.Run(ctx, "remote", "set-url", "origin", url)
	return err
}

// HasStagedChanges reports whether anything is staged for commit.
func (g *Git) HasStagedChanges(ctx context.Context) bool {
	_, err := g.Run(ctx, "diff", "--cached", "--quiet")
	return err != nil
}

// Add stages the given paths.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	_, err := g.Run(ctx, append([]string{"add"}, paths...)...)
	return err
}

// Commit records staged changes.
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.Run(ctx, "commit", "-m", message)
	return err
}

// Push publishes the current branch.
func (g *Git) Push(ctx context.Context) error {
	_, err := g.Run(ctx, "push")
	return err
}

// CommitProgress stages everything, then commits and pushes with the
// round summary message. A clean tree is not an error; the round
// simply produced no changes.
func (g *Git) CommitProgress(ctx context.Context, round int, phase string, files []string) error {
	if err := g.Add(ctx, "-A"); err != nil {
		return err
	}
	if !g.HasStagedChanges(ctx) {
		g.logger.Info("no changes to commit this round", "round", round)
		return nil
	}

	var message string
	if len(files) > 0 {
		recent := files
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		message = fmt.Sprintf("round %d (%s): edited %s", round, phase, strings.Join(recent, ", "))
	} else {
		message = fmt.Sprintf("round %d (%s): state update", round, phase)
	}

	if err := g.Commit(ctx, message); err != nil {
		return err
	}
	if err := g.Push(ctx); err != nil {
		return err
	}
	g.logger.Info("round progress committed", "message", message)
	return nil
}

// LsFiles returns the tracked-file snapshot, or an empty list when the
// command fails.
func (g *Git) LsFiles(ctx context.Context) []string {
	out, err := g.Run(ctx, "ls-files")
	if err != nil || out == "" {
		return []string{}
	}
	return strings.Split(out, "\n")
}

// Diff returns the staged diff for the PR body.
func (g *Git) Diff(ctx context.Context, base string) (string, error) {
	return g.Run(ctx, "diff", base+"...HEAD", "--stat")
}
