package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

// GitHub drives the tracker through the gh CLI.
type GitHub struct {
	owner        string
	repo         string
	token        string
	workflowFile string
	workflowRef  string
	logger       *log.Logger
}

type Options struct {
	Owner        string
	Repo         string
	Token        string
	WorkflowFile string
	WorkflowRef  string
}

func NewGitHub(opts Options, logger *log.Logger) *GitHub {
	token := opts.Token
	if token == "" {
		token = os.Getenv("GH_PAT")
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return &GitHub{
		owner:        opts.Owner,
		repo:         opts.Repo,
		token:        token,
		workflowFile: opts.WorkflowFile,
		workflowRef:  opts.WorkflowRef,
		logger:       logger,
	}
}

func (g *GitHub) slug() string {
	return g.owner + "/" + g.repo
}

func (g *GitHub) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Env = append(os.Environ(), "GH_TOKEN="+g.token)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeTrackerCommand,
			fmt.Sprintf("gh %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())),
			err)
	}
	return strings.TrimSpace(string(out)), nil
}

type issueJSON struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type reactionJSON struct {
	Content string `json:"content"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
}

func (g *GitHub) FindNextTask(ctx context.Context) (*Task, error) {
	tasks, err := g.ListVotingTasks(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		g.logger.Info("no tasks in the voting pool")
		return nil, nil
	}

	winner := tasks[0]
	g.logger.Info("winning task selected",
		"number", winner.Number, "title", winner.Title,
		"human_net", winner.HumanNetVotes, "net_votes", winner.NetVotes)
	return winner, nil
}

// ListVotingTasks returns the scored voting pool, ranked.
func (g *GitHub) ListVotingTasks(ctx context.Context) ([]*Task, error) {
	out, err := g.run(ctx, "issue", "list",
		"-R", g.slug(),
		"--label", "voting",
		"--state", "open",
		"--limit", "100",
		"--json", "number,title,body,createdAt")
	if err != nil {
		return nil, err
	}

	var issues []issueJSON
	if err := json.Unmarshal([]byte(out), &issues); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTrackerParse, "decode issue list", err)
	}
	if len(issues) == 0 {
		return nil, nil
	}

	bot := g.botLogin(ctx)
	tasks := make([]*Task, 0, len(issues))
	for _, issue := range issues {
		reactions, err := g.issueReactions(ctx, issue.Number)
		if err != nil {
			// Score what we can see; a fetch fault must not block the
			// whole pool.
			g.logger.WithError(err).Warn("could not fetch reactions", "number", issue.Number)
		}
		human, total := countVotes(reactions, bot)
		tasks = append(tasks, &Task{
			Number:        issue.Number,
			Title:         issue.Title,
			Body:          issue.Body,
			CreatedAt:     issue.CreatedAt,
			NetVotes:      total,
			HumanNetVotes: human,
		})
	}
	return RankTasks(tasks), nil
}

// VoteFor casts the agent's thumbs-up on a task and explains the pick.
func (g *GitHub) VoteFor(ctx context.Context, number int, reason string) error {
	if _, err := g.run(ctx, "api",
		fmt.Sprintf("repos/%s/issues/%d/reactions", g.slug(), number),
		"-f", "content=+1"); err != nil {
		return err
	}
	body := fmt.Sprintf("**Crowd Agent's vote:** I think this should be built next.\n\n_%s_", reason)
	return g.comment(ctx, number, body)
}

// botLogin resolves the agent's own account so its self-votes can be
// separated from human ones. App installation tokens cannot call
// /user; BOT_LOGIN is the fallback.
func (g *GitHub) botLogin(ctx context.Context) string {
	login, err := g.run(ctx, "api", "user", "--jq", ".login")
	if err != nil || login == "" {
		return os.Getenv("BOT_LOGIN")
	}
	return login
}

// issueReactions fetches the raw reaction list with voter logins, one
// paged call per issue.
func (g *GitHub) issueReactions(ctx context.Context, number int) ([]reactionJSON, error) {
	out, err := g.run(ctx, "api", "--paginate",
		fmt.Sprintf("repos/%s/issues/%d/reactions", g.slug(), number))
	if err != nil {
		return nil, err
	}
	return decodeReactionPages(out)
}

// decodeReactionPages parses --paginate output, which concatenates one
// JSON array per page.
func decodeReactionPages(out string) ([]reactionJSON, error) {
	var all []reactionJSON
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var page []reactionJSON
		if err := dec.Decode(&page); err != nil {
			return nil, errors.Wrap(errors.ErrCodeTrackerParse, "decode reactions", err)
		}
		all = append(all, page...)
	}
	return all, nil
}

// countVotes tallies net thumbs votes twice: over every reaction and
// excluding the agent's own account. Only "+1" and "-1" count.
func countVotes(reactions []reactionJSON, botLogin string) (human, total int) {
	for _, r := range reactions {
		var delta int
		switch r.Content {
		case "+1":
			delta = 1
		case "-1":
			delta = -1
		default:
			continue
		}
		total += delta
		if botLogin == "" || r.User.Login != botLogin {
			human += delta
		}
	}
	return human, total
}

// RankTasks orders the voting pool by human net votes, then total net
// votes, then the oldest task. The agent's self-vote never outranks a
// human's on a tie.
func RankTasks(tasks []*Task) []*Task {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].HumanNetVotes != tasks[j].HumanNetVotes {
			return tasks[i].HumanNetVotes > tasks[j].HumanNetVotes
		}
		if tasks[i].NetVotes != tasks[j].NetVotes {
			return tasks[i].NetVotes > tasks[j].NetVotes
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

func (g *GitHub) comment(ctx context.Context, number int, body string) error {
	_, err := g.run(ctx, "issue", "comment", strconv.Itoa(number),
		"-R", g.slug(), "--body", body)
	return err
}

func (g *GitHub) relabel(ctx context.Context, number int, remove, add string) error {
	// The remove can legitimately fail when the label was never set.
	if _, err := g.run(ctx, "issue", "edit", strconv.Itoa(number),
		"-R", g.slug(), "--remove-label", remove); err != nil {
		g.logger.WithError(err).Warn("label removal failed", "label", remove)
	}
	_, err := g.run(ctx, "issue", "edit", strconv.Itoa(number),
		"-R", g.slug(), "--add-label", add)
	return err
}

func (g *GitHub) AnnounceBuild(ctx context.Context, number int) error {
	if err := g.comment(ctx, number, "I'm building this now. Watch this space for a PR link."); err != nil {
		return err
	}
	return g.relabel(ctx, number, "voting", "building")
}

func (g *GitHub) ReportSuccess(ctx context.Context, number int, prURL string) error {
	if err := g.comment(ctx, number, "Build complete! PR ready for review: "+prURL); err != nil {
		return err
	}
	return g.relabel(ctx, number, "building", "review")
}

func (g *GitHub) ReportFailure(ctx context.Context, number int, errMsg string) error {
	body := fmt.Sprintf("Build failed. Error:\n```\n%s\n```", errMsg)
	if err := g.comment(ctx, number, body); err != nil {
		return err
	}
	return g.relabel(ctx, number, "building", "voting")
}

func (g *GitHub) OpenPullRequest(ctx context.Context, pr PullRequest) (string, error) {
	args := []string{"pr", "create",
		"-R", g.slug(),
		"--title", pr.Title,
		"--body", pr.Body,
		"--head", pr.Head,
	}
	if pr.Base != "" {
		args = append(args, "--base", pr.Base)
	}
	url, err := g.run(ctx, args...)
	if err != nil {
		return "", err
	}
	g.logger.Info("pull request opened", "url", url)
	return url, nil
}

// TriggerNextInvocation kicks the workflow again with the task branch
// so the next round picks the checkpoint back up.
func (g *GitHub) TriggerNextInvocation(ctx context.Context, branch, model string) error {
	_, err := g.run(ctx, "workflow", "run", g.workflowFile,
		"-R", g.slug(),
		"--ref", g.workflowRef,
		"-f", "round_state_branch="+branch,
		"-f", "model="+model)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDispatchTrigger, "trigger next invocation", err)
	}
	g.logger.Info("next invocation triggered", "branch", branch)
	return nil
}
