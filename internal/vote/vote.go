// Package vote implements the post-build self-vote: after a pull
// request opens, the agent reviews the remaining voting pool and casts
// one thumbs-up with a short explanation of its pick.
package vote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/plan"
	"github.com/trevorstenson/crowd-agent/internal/provider"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

// Pool is the tracker surface the voter needs.
type Pool interface {
	ListVotingTasks(ctx context.Context) ([]*tracker.Task, error)
	VoteFor(ctx context.Context, number int, reason string) error
}

// Completer is the completion primitive the voter needs.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// Voter picks the next task from the pool with one completion call.
type Voter struct {
	client Completer
	pool   Pool
	logger *log.Logger
}

func New(client Completer, pool Pool, logger *log.Logger) *Voter {
	return &Voter{client: client, pool: pool, logger: logger}
}

type ballot struct {
	IssueNumber int    `json:"issue_number"`
	Reason      string `json:"reason"`
}

// VoteOnNext reviews the pool, excluding the task just built, and casts
// the agent's vote. It never fails the build; every fault degrades to a
// warning.
func (v *Voter) VoteOnNext(ctx context.Context, justBuilt int) {
	tasks, err := v.pool.ListVotingTasks(ctx)
	if err != nil {
		v.logger.WithError(err).Warn("could not list the voting pool")
		return
	}
	pool := make([]*tracker.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Number != justBuilt {
			pool = append(pool, t)
		}
	}
	if len(pool) == 0 {
		v.logger.Info("no other voting tasks to vote on")
		return
	}

	resp, err := v.client.Complete(ctx, &provider.Request{
		Prompt:    buildPrompt(pool),
		MaxTokens: 256,
	})
	if err != nil {
		v.logger.WithError(err).Warn("vote completion failed")
		return
	}
	b, err := parseBallot(resp.Content)
	if err != nil {
		v.logger.WithError(err).Warn("unusable vote response",
			"content", strings.TrimSpace(resp.Content))
		return
	}

	for _, t := range pool {
		if t.Number == b.IssueNumber {
			if err := v.pool.VoteFor(ctx, t.Number, b.Reason); err != nil {
				v.logger.WithError(err).Warn("could not cast vote", "number", t.Number)
				return
			}
			v.logger.Info("voted on next task", "number", t.Number, "reason", b.Reason)
			return
		}
	}
	v.logger.Warn("vote targeted a task outside the pool", "number", b.IssueNumber)
}

func buildPrompt(pool []*tracker.Task) string {
	summaries := make([]string, 0, len(pool))
	for _, t := range pool {
		body := t.Body
		if body == "" {
			body = "(no description)"
		}
		summaries = append(summaries,
			fmt.Sprintf("- #%d: %s (%d votes)\n  %s", t.Number, t.Title, t.NetVotes, body))
	}
	return "You just finished a build. Now review the remaining issues in the voting pool " +
		"and pick the ONE issue you think should be built next. Consider feasibility, " +
		"impact on the project, how interesting it would be for the community, and whether " +
		"it builds on recent work.\n\n" +
		"## Voting Pool\n\n" + strings.Join(summaries, "\n\n") + "\n\n" +
		"Respond with ONLY a JSON object (no markdown fencing):\n" +
		`{"issue_number": <number>, "reason": "<1-2 sentence explanation>"}`
}

func parseBallot(raw string) (*ballot, error) {
	region, err := plan.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var b ballot
	if err := json.Unmarshal(region, &b); err != nil {
		return nil, fmt.Errorf("decode ballot: %w", err)
	}
	if b.IssueNumber == 0 {
		return nil, fmt.Errorf("ballot names no issue")
	}
	return &b, nil
}
