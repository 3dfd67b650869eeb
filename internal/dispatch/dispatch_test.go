package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorstenson/crowd-agent/internal/announce"
	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/explore"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/metrics"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

type fakeGit struct {
	calls    []string
	diffStat string
}

func (f *fakeGit) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeGit) ConfigureIdentity(context.Context) error { f.record("identity"); return nil }
func (f *fakeGit) SetAuthenticatedRemote(_ context.Context, _, _, _ string) error {
	f.record("remote")
	return nil
}
func (f *fakeGit) CommitProgress(_ context.Context, _ int, _ string, _ []string) error {
	f.record("progress")
	return nil
}
func (f *fakeGit) Add(_ context.Context, _ ...string) error { f.record("add"); return nil }
func (f *fakeGit) Commit(_ context.Context, _ string) error { f.record("commit"); return nil }
func (f *fakeGit) Push(context.Context) error { f.record("push"); return nil }
func (f *fakeGit) Diff(_ context.Context, _ string) (string, error) {
	f.record("diff")
	return f.diffStat, nil
}

type fakeTracker struct {
	pr        *tracker.PullRequest
	prURL     string
	prErr     error
	successes []string
	failures  []string
}

func (f *fakeTracker) FindNextTask(context.Context) (*tracker.Task, error) { return nil, nil }
func (f *fakeTracker) AnnounceBuild(context.Context, int) error { return nil }
func (f *fakeTracker) ReportSuccess(_ context.Context, number int, prURL string) error {
	f.successes = append(f.successes, fmt.Sprintf("%d:%s", number, prURL))
	return nil
}
func (f *fakeTracker) ReportFailure(_ context.Context, number int, errMsg string) error {
	f.failures = append(f.failures, fmt.Sprintf("%d:%s", number, errMsg))
	return nil
}
func (f *fakeTracker) OpenPullRequest(_ context.Context, pr tracker.PullRequest) (string, error) {
	f.pr = &pr
	if f.prErr != nil {
		return "", f.prErr
	}
	if f.prURL == "" {
		f.prURL = "https://github.com/owner/repo/pull/1"
	}
	return f.prURL, nil
}

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) TriggerNextInvocation(context.Context, string, string) error {
	f.calls++
	return f.err
}

type fakeVoter struct {
	votedFor []int
}

func (f *fakeVoter) VoteOnNext(_ context.Context, justBuilt int) {
	f.votedFor = append(f.votedFor, justBuilt)
}

type fixture struct {
	dispatcher *Dispatcher
	store      *checkpoint.Store
	git        *fakeGit
	tracker    *fakeTracker
	trigger    *fakeTrigger
	metrics    *metrics.Metrics
	root       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store := checkpoint.NewStore(root)
	git := &fakeGit{}
	trk := &fakeTracker{}
	trg := &fakeTrigger{}
	_, m := metrics.NewRegistry()
	cfg := &config.Config{
		RepoOwner: "owner",
		RepoName:  "repo",
		RepoRoot:  root,
		Explore:   config.Explore{ResultsDir: "exploration-results"},
	}
	d := New(store, git, trk, trg,
		announce.New(announce.Options{DryRun: true}, log.Default()),
		m, cfg, log.Default())
	d.token = func() string { return "" }
	d.sleep = func(context.Context, time.Duration) {}
	return &fixture{dispatcher: d, store: store, git: git, tracker: trk, trigger: trg, metrics: m, root: root}
}

func dispatchCheckpoint() *checkpoint.Checkpoint {
	cp := checkpoint.New("7", "Add greeting", "body", "agent/issue-7",
		"test-model", "anthropic", nil,
		checkpoint.Limits{MaxRounds: 10, MaxModelCalls: 50, MaxConsecutiveErrors: 3})
	cp.CurrentPhase = checkpoint.PhaseEdit
	cp.RoundNumber = 2
	return cp
}

func TestDoneWithFilesFinalizesSuccess(t *testing.T) {
	f := newFixture(t)
	f.git.diffStat = " main.go | 4 ++--\n 2 files changed"
	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go", "greeting.go"}
	cp.Decide(checkpoint.PhaseDone, "All steps complete")
	require.NoError(t, f.store.Save(cp))

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "success", res.Outcome)
	assert.NotEmpty(t, res.PRURL)

	require.NotNil(t, f.tracker.pr)
	assert.Equal(t, "feat: implement #7 - Add greeting", f.tracker.pr.Title)
	assert.Equal(t, "agent/issue-7", f.tracker.pr.Head)
	assert.Contains(t, f.tracker.pr.Body, "Closes #7")
	assert.Contains(t, f.tracker.pr.Body, "main.go, greeting.go")
	assert.Contains(t, f.tracker.pr.Body, "2 files changed")
	assert.Equal(t, []string{"7:" + res.PRURL}, f.tracker.successes)

	_, err = f.store.Load()
	assert.Error(t, err, "checkpoint should be removed before the PR")
}

func TestFinalizeSuccessRemovesExplorationArtifacts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, explore.PlanFile), []byte("{}"), 0o644))
	resultsDir := filepath.Join(f.root, "exploration-results")
	require.NoError(t, os.MkdirAll(resultsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(resultsDir, "explore-1.json"), []byte("{}"), 0o644))

	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go"}
	cp.Decide(checkpoint.PhaseDone, "All steps complete")
	require.NoError(t, f.store.Save(cp))

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Outcome)

	assert.NoFileExists(t, filepath.Join(f.root, explore.PlanFile))
	assert.NoDirExists(t, resultsDir)
}

func TestFinalizeSuccessCastsVote(t *testing.T) {
	f := newFixture(t)
	voter := &fakeVoter{}
	f.dispatcher.Voter = voter

	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go"}
	cp.Decide(checkpoint.PhaseDone, "All steps complete")
	require.NoError(t, f.store.Save(cp))

	_, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, voter.votedFor)
}

func TestFinalizeFailureDoesNotVote(t *testing.T) {
	f := newFixture(t)
	voter := &fakeVoter{}
	f.dispatcher.Voter = voter

	cp := dispatchCheckpoint()
	cp.Decide(checkpoint.PhaseFailed, "could not make progress")
	require.NoError(t, f.store.Save(cp))

	_, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)
	assert.Empty(t, voter.votedFor)
}

func TestDoneWithoutFilesFails(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.Decide(checkpoint.PhaseDone, "All steps complete")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "failure", res.Outcome)
	assert.Equal(t, "Agent reported done but made no file changes", res.Reason)
	require.Len(t, f.tracker.failures, 1)
	assert.Nil(t, f.tracker.pr)
}

func TestFailedDecision(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.Decide(checkpoint.PhaseFailed, "Provider faults interrupted the edit loop")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "failure", res.Outcome)
	assert.Equal(t, "Provider faults interrupted the edit loop", res.Reason)
}

func TestSafetyViolationWithFilesForcesDone(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.RoundNumber = 10
	cp.FilesModified = []string{"main.go"}
	cp.Decide(checkpoint.PhaseEdit, "keep going")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "success", res.Outcome)
	assert.Equal(t, checkpoint.PhaseDone, cp.CurrentPhase)
	assert.Zero(t, f.trigger.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SafetyViolations.WithLabelValues("round")))
}

func TestSafetyViolationWithoutFilesFails(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.TotalModelCalls = 50
	cp.Decide(checkpoint.PhaseEdit, "keep going")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "failure", res.Outcome)
	assert.Contains(t, res.Reason, "Safety limit hit with no changes")
	assert.Contains(t, res.Reason, "model call limit reached (50/50)")
}

func TestContinuationTriggersNextInvocation(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go"}
	cp.Decide(checkpoint.PhaseEdit, "more steps remain")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "continued", res.Outcome)
	assert.Equal(t, 1, f.trigger.calls)
	assert.Nil(t, f.tracker.pr)
}

func TestTriggerFailureFallsBackToInlineFinalize(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = fmt.Errorf("workflow not found")
	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go"}
	cp.Decide(checkpoint.PhaseEdit, "more steps remain")

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, 2, f.trigger.calls)
	assert.Equal(t, "success", res.Outcome)
	require.NotNil(t, f.tracker.pr)
}

func TestExplorePhaseHandsOffToEdit(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()
	cp.CurrentPhase = checkpoint.PhaseExplore

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "continued", res.Outcome)
	assert.Equal(t, 1, f.trigger.calls)
	require.NotNil(t, cp.PendingDecision)
	assert.Equal(t, checkpoint.PhaseEdit, cp.PendingDecision.NextPhase)
}

func TestMissingDecisionSafeDefault(t *testing.T) {
	f := newFixture(t)
	cp := dispatchCheckpoint()

	res, err := f.dispatcher.Run(context.Background(), cp)
	require.NoError(t, err)

	assert.Equal(t, "failure", res.Outcome)
	assert.Contains(t, res.Reason, "No decision recorded")
}

func TestPRBodyDiffStatSection(t *testing.T) {
	cp := dispatchCheckpoint()
	cp.FilesModified = []string{"main.go"}

	assert.NotContains(t, prBody(cp, ""), "Diff stat")

	body := prBody(cp, " main.go | 1 +\n 1 file changed\n")
	assert.Contains(t, body, "**Diff stat:**\n```\n main.go | 1 +\n 1 file changed\n```")
}
