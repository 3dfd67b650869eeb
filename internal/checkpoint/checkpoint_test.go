package checkpoint

import (
	"reflect"
	"testing"
)

func testCheckpoint() *Checkpoint {
	return New(
		"42", "Add retry logic", "The fetcher gives up on the first failure.",
		"agent/task-42", "qwen3:8b", "ollama",
		[]string{"main.go", "fetch.go"},
		Limits{MaxRounds: 10, MaxModelCalls: 8, MaxConsecutiveErrors: 2},
	)
}

func TestNew(t *testing.T) {
	cp := testCheckpoint()

	if cp.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, cp.SchemaVersion)
	}
	if cp.CurrentPhase != PhasePlan {
		t.Errorf("expected phase plan, got %s", cp.CurrentPhase)
	}
	if cp.RoundNumber != 1 {
		t.Errorf("expected round 1, got %d", cp.RoundNumber)
	}
	if cp.PendingDecision != nil {
		t.Error("fresh checkpoint should have no pending decision")
	}
	if cp.StartedAt.IsZero() {
		t.Error("started_at should be stamped")
	}
}

func TestAddModifiedFilesGrowsAndSorts(t *testing.T) {
	cp := testCheckpoint()

	cp.AddModifiedFiles([]string{"z.go", "a.go"})
	cp.AddModifiedFiles([]string{"a.go", "m.go"})

	want := []string{"a.go", "m.go", "z.go"}
	if !reflect.DeepEqual(cp.FilesModified, want) {
		t.Errorf("expected %v, got %v", want, cp.FilesModified)
	}

	// The set only grows.
	cp.AddModifiedFiles(nil)
	if !reflect.DeepEqual(cp.FilesModified, want) {
		t.Errorf("empty merge should not change the set, got %v", cp.FilesModified)
	}
}

func TestLogCompression(t *testing.T) {
	cp := testCheckpoint()

	for round := 1; round <= 4; round++ {
		cp.RoundNumber = round
		cp.AppendLog(PhaseEdit, "edited files", []string{"write_file(a.go) -> ok"}, []string{"a.go"})
	}

	if len(cp.ActionLog) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(cp.ActionLog))
	}
	for i, entry := range cp.ActionLog {
		wantDetail := i >= 2 // last two keep detail
		if (entry.Detail != nil) != wantDetail {
			t.Errorf("entry %d: detail present=%v, want %v", i, entry.Detail != nil, wantDetail)
		}
		if entry.Summary == "" {
			t.Errorf("entry %d: summary must survive compression", i)
		}
	}
}

func TestStepProgression(t *testing.T) {
	cp := testCheckpoint()
	cp.PlanSteps = []PlanStep{
		{ID: 1, Kind: StepRead, Description: "read fetch.go", Status: StepPending},
		{ID: 2, Kind: StepEdit, Description: "add retry loop", Status: StepPending},
	}

	step := cp.MarkStepInProgress()
	if step == nil || step.ID != 1 {
		t.Fatalf("expected step 1 in progress, got %+v", step)
	}

	cp.CompleteCurrentStep("Modified fetch.go")
	if cp.PlanSteps[0].Status != StepCompleted {
		t.Errorf("step 1 should be completed, got %s", cp.PlanSteps[0].Status)
	}
	if cp.PlanSteps[0].ResultSummary != "Modified fetch.go" {
		t.Errorf("unexpected result summary %q", cp.PlanSteps[0].ResultSummary)
	}
	if cp.PlanSteps[1].Status != StepPending {
		t.Errorf("step 2 should still be pending, got %s", cp.PlanSteps[1].Status)
	}

	cp.CompleteRemainingSteps("Completed in edit phase")
	if cp.PlanSteps[1].Status != StepCompleted {
		t.Errorf("step 2 should be completed, got %s", cp.PlanSteps[1].Status)
	}
	// Step 1 keeps its own result.
	if cp.PlanSteps[0].ResultSummary != "Modified fetch.go" {
		t.Errorf("completed step result was overwritten: %q", cp.PlanSteps[0].ResultSummary)
	}
}

func TestPhaseHelpers(t *testing.T) {
	if !PhaseDone.Terminal() || !PhaseFailed.Terminal() {
		t.Error("done and failed are terminal")
	}
	if PhaseEdit.Terminal() {
		t.Error("edit is not terminal")
	}
	if Phase("bogus").Valid() {
		t.Error("bogus is not a valid phase")
	}
	if !StepKind("verify").Valid() {
		t.Error("verify is a valid step kind")
	}
}
