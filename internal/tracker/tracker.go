// Package tracker integrates with the issue tracker: picking the
// winning task by community vote, posting status comments, shuffling
// labels through the voting lifecycle, and opening the final pull
// request. All of it goes through the gh CLI so the runner's existing
// auth is reused.
package tracker

import (
	"context"
	"time"
)

// Task is an open tracker issue in the voting pool.
type Task struct {
	Number    int
	Title     string
	Body      string
	CreatedAt time.Time

	// NetVotes is thumbs up minus thumbs down over all voters;
	// HumanNetVotes excludes the agent's own account.
	NetVotes      int
	HumanNetVotes int
}

// PullRequest describes the PR opened when a build finalizes.
type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Tracker is the issue-tracker surface the build cycle needs.
type Tracker interface {
	// FindNextTask returns the open voting task with the highest human
	// net votes, then total net votes, oldest first on ties, or nil
	// when the pool is empty.
	FindNextTask(ctx context.Context) (*Task, error)

	// AnnounceBuild comments on the task and moves it from voting to
	// building.
	AnnounceBuild(ctx context.Context, number int) error

	// ReportSuccess posts the PR link and moves the task to review.
	ReportSuccess(ctx context.Context, number int, prURL string) error

	// ReportFailure posts the error and puts the task back in voting.
	ReportFailure(ctx context.Context, number int, errMsg string) error

	// OpenPullRequest opens the PR and returns its URL.
	OpenPullRequest(ctx context.Context, pr PullRequest) (string, error)
}

// Trigger starts the next stateless invocation of the build workflow.
type Trigger interface {
	TriggerNextInvocation(ctx context.Context, branch, model string) error
}
