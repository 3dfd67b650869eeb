package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trevorstenson/crowd-agent/internal/announce"
	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/config"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/tracker"
)

type fakeGit struct {
	calls    []string
	lsResult []string
}

func (f *fakeGit) record(name string) { f.calls = append(f.calls, name) }

func (f *fakeGit) ConfigureIdentity(context.Context) error { f.record("identity"); return nil }
func (f *fakeGit) SetAuthenticatedRemote(_ context.Context, _, _, _ string) error {
	f.record("remote")
	return nil
}
func (f *fakeGit) CheckoutStateBranch(_ context.Context, _ string) error {
	f.record("checkout")
	return nil
}
func (f *fakeGit) CreateStateBranch(_ context.Context, _ string) error {
	f.record("branch")
	return nil
}
func (f *fakeGit) LsFiles(context.Context) []string { return f.lsResult }
func (f *fakeGit) Add(_ context.Context, _ ...string) error { f.record("add"); return nil }
func (f *fakeGit) Commit(_ context.Context, _ string) error { f.record("commit"); return nil }
func (f *fakeGit) Push(context.Context) error { f.record("push"); return nil }

type fakeTracker struct {
	task      *tracker.Task
	announced []int
}

func (f *fakeTracker) FindNextTask(context.Context) (*tracker.Task, error) { return f.task, nil }
func (f *fakeTracker) AnnounceBuild(_ context.Context, number int) error {
	f.announced = append(f.announced, number)
	return nil
}
func (f *fakeTracker) ReportSuccess(context.Context, int, string) error { return nil }
func (f *fakeTracker) ReportFailure(context.Context, int, string) error { return nil }
func (f *fakeTracker) OpenPullRequest(context.Context, tracker.PullRequest) (string, error) {
	return "", nil
}

func newTestRouter(t *testing.T, store Store, trk tracker.Tracker, git GitOps, cfg *config.Config) *Router {
	t.Helper()
	r := New(store, trk, git, announce.New(announce.Options{DryRun: true}, log.Default()), cfg, log.Default())
	r.token = func() string { return "test-token" }
	return r
}

func continuationCheckpoint() *checkpoint.Checkpoint {
	cp := checkpoint.New("7", "Add greeting", "body", "agent/issue-7",
		"test-model", "anthropic", nil,
		checkpoint.Limits{MaxRounds: 10, MaxModelCalls: 50, MaxConsecutiveErrors: 3})
	cp.CurrentPhase = checkpoint.PhasePlan
	cp.RoundNumber = 1
	return cp
}

func TestFreshRunInitializesRoundOne(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	trk := &fakeTracker{task: &tracker.Task{Number: 42, Title: "Add greeting", CreatedAt: time.Now()}}
	git := &fakeGit{lsResult: []string{"main.go"}}
	r := newTestRouter(t, store, trk, git, &config.Config{
		ModelID: "test-model", ProviderID: "anthropic",
		Limits: config.Limits{MaxRounds: 10, MaxModelCalls: 50, MaxConsecutiveErrors: 3},
	})

	out, err := r.Route(context.Background())
	require.NoError(t, err)

	assert.True(t, out.HasWork())
	assert.Equal(t, checkpoint.PhasePlan, out.Phase)
	assert.Equal(t, 1, out.RoundNumber)
	assert.Equal(t, "agent/issue-42", out.StateBranch)
	assert.Equal(t, []int{42}, trk.announced)
	assert.Equal(t, []string{"identity", "remote", "branch", "add", "commit", "push"}, git.calls)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "42", saved.TaskID)
	assert.Equal(t, checkpoint.PhasePlan, saved.CurrentPhase)
	assert.Equal(t, "(no description)", saved.TaskBody)
	assert.Equal(t, []string{"main.go"}, saved.RepoFilesSnapshot)
}

func TestFreshRunEmptyPool(t *testing.T) {
	r := newTestRouter(t, checkpoint.NewStore(t.TempDir()), &fakeTracker{}, &fakeGit{}, &config.Config{})

	out, err := r.Route(context.Background())
	require.NoError(t, err)
	assert.False(t, out.HasWork())
	assert.Equal(t, "none", out.JobOutputs()["phase"])
	assert.Equal(t, "0", out.JobOutputs()["issue_number"])
}

func TestContinuationAppliesDecisionAndIncrementsRound(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	cp := continuationCheckpoint()
	cp.Decide(checkpoint.PhaseEdit, "plan complete")
	require.NoError(t, store.Save(cp))

	r := newTestRouter(t, store, &fakeTracker{}, &fakeGit{}, &config.Config{StateBranch: "agent/issue-7"})

	out, err := r.Route(context.Background())
	require.NoError(t, err)

	assert.Equal(t, checkpoint.PhaseEdit, out.Phase)
	assert.Equal(t, 2, out.RoundNumber)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, saved.RoundNumber)
	assert.Equal(t, checkpoint.PhaseEdit, saved.CurrentPhase)
	assert.Nil(t, saved.PendingDecision)
}

func TestRoundNumberMonotonicAcrossContinuations(t *testing.T) {
	store := checkpoint.NewStore(t.TempDir())
	cp := continuationCheckpoint()
	cp.Decide(checkpoint.PhaseEdit, "plan complete")
	require.NoError(t, store.Save(cp))

	r := newTestRouter(t, store, &fakeTracker{}, &fakeGit{}, &config.Config{StateBranch: "agent/issue-7"})

	last := 1
	for i := 0; i < 3; i++ {
		out, err := r.Route(context.Background())
		require.NoError(t, err)
		assert.Greater(t, out.RoundNumber, last)
		last = out.RoundNumber

		out.Checkpoint.Decide(checkpoint.PhaseEdit, "keep going")
		require.NoError(t, store.Save(out.Checkpoint))
	}
	assert.Equal(t, 4, last)
}

func TestContinuationWithoutDecision(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  checkpoint.Phase
	}{
		{"files modified finalizes", []string{"main.go"}, checkpoint.PhaseDone},
		{"nothing modified fails", nil, checkpoint.PhaseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := checkpoint.NewStore(t.TempDir())
			cp := continuationCheckpoint()
			cp.FilesModified = tt.files
			require.NoError(t, store.Save(cp))

			r := newTestRouter(t, store, &fakeTracker{}, &fakeGit{}, &config.Config{StateBranch: "agent/issue-7"})

			out, err := r.Route(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Phase)
			assert.Equal(t, 2, out.RoundNumber)
		})
	}
}

func TestContinuationMissingCheckpointFails(t *testing.T) {
	r := newTestRouter(t, checkpoint.NewStore(t.TempDir()), &fakeTracker{}, &fakeGit{},
		&config.Config{StateBranch: "agent/issue-7"})

	_, err := r.Route(context.Background())
	require.Error(t, err)
}

func TestJobOutputsExploreMatrix(t *testing.T) {
	cp := continuationCheckpoint()
	cp.ExploreTasks = []checkpoint.ExploreTask{{ID: "explore-1"}, {ID: "explore-2"}}
	out := &Outcome{
		Phase:       checkpoint.PhaseExplore,
		RoundNumber: 3,
		TaskID:      "7",
		StateBranch: "agent/issue-7",
		Checkpoint:  cp,
	}

	got := out.JobOutputs()
	assert.Equal(t, "explore", got["phase"])
	assert.Equal(t, "false", got["has_llm"])
	assert.Equal(t, "true", got["has_explore"])
	assert.Equal(t, `["explore-1","explore-2"]`, got["explore_matrix"])
	assert.Equal(t, "3", got["round_number"])
}
