// Package announce posts build-cycle updates to X. Announcements are a
// non-critical side effect: every failure here is logged and swallowed
// so a broken integration never blocks a build.
package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/log"
)

const (
	maxPostLength  = 280
	defaultBaseURL = "https://api.twitter.com/2"
)

// Announcer posts short status updates about the build cycle.
type Announcer struct {
	agentName string
	repoOwner string
	repoName  string
	baseURL   string
	token     string
	dryRun    bool
	client    *http.Client
	logger    *log.Logger
}

// Options configure an Announcer.
type Options struct {
	AgentName string
	RepoOwner string
	RepoName  string
	BaseURL   string
	Token     string
	DryRun    bool
}

func New(opts Options, logger *log.Logger) *Announcer {
	if opts.AgentName == "" {
		opts.AgentName = "the agent"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Token == "" {
		opts.Token = os.Getenv("TWITTER_ACCESS_TOKEN")
	}
	return &Announcer{
		agentName: opts.AgentName,
		repoOwner: opts.RepoOwner,
		repoName:  opts.RepoName,
		baseURL:   opts.BaseURL,
		token:     opts.Token,
		dryRun:    opts.DryRun,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Configured reports whether posting is possible.
func (a *Announcer) Configured() bool {
	return a.dryRun || a.token != ""
}

func (a *Announcer) taskURL(taskID string) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%s", a.repoOwner, a.repoName, taskID)
}

// FormatBuildStart is the pre-build announcement for the winning task.
func (a *Announcer) FormatBuildStart(taskID, title string) string {
	return fmt.Sprintf("Tonight the community voted for %s to build: %s\n\n%s",
		a.agentName, title, a.taskURL(taskID))
}

// FormatBuildSuccess links the merged result.
func (a *Announcer) FormatBuildSuccess(title, prURL string) string {
	return fmt.Sprintf("%s just built: %s\n\nHere's the PR: %s", a.agentName, title, prURL)
}

// FormatBuildFailure reports the task going back to the pool.
func (a *Announcer) FormatBuildFailure(taskID, title string) string {
	return fmt.Sprintf("%s attempted to build: %s but hit a snag. "+
		"The task is back in the voting pool.\n\n%s",
		a.agentName, title, a.taskURL(taskID))
}

// BuildStart posts the pre-build announcement.
func (a *Announcer) BuildStart(ctx context.Context, taskID, title string) {
	a.post(ctx, a.FormatBuildStart(taskID, title))
}

// BuildSuccess posts the PR link.
func (a *Announcer) BuildSuccess(ctx context.Context, title, prURL string) {
	a.post(ctx, a.FormatBuildSuccess(title, prURL))
}

// BuildFailure posts the failure notice.
func (a *Announcer) BuildFailure(ctx context.Context, taskID, title string) {
	a.post(ctx, a.FormatBuildFailure(taskID, title))
}

func (a *Announcer) post(ctx context.Context, text string) {
	text = Truncate(text, maxPostLength)

	if a.dryRun {
		a.logger.Info("announcement (dry run)", "text", text)
		return
	}
	if !a.Configured() {
		a.logger.Info("announcements not configured, skipping")
		return
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		a.logger.WithError(err).Warn("announcement marshal failed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		a.logger.WithError(err).Warn("announcement request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.WithError(err).Warn("announcement post failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		a.logger.Warn("announcement rejected",
			"status", resp.StatusCode, "detail", string(detail))
		return
	}
	a.logger.Info("announcement posted")
}

// Truncate fits text within max characters. The post limit counts
// characters, not bytes, so slicing happens on runes. When the last
// line is a URL, the body is trimmed instead so the link survives.
func Truncate(text string, max int) string {
	if len([]rune(text)) <= max {
		return text
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) >= 2 {
		urlLine := strings.TrimSpace(lines[len(lines)-1])
		body := []rune(strings.Join(lines[:len(lines)-1], "\n"))
		available := max - len([]rune(urlLine)) - 2
		if available > 10 && len(body) >= available-3 {
			return string(body[:available-3]) + "..." + "\n\n" + urlLine
		}
	}
	return string([]rune(text)[:max-3]) + "..."
}
