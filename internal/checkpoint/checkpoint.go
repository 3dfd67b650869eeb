// Package checkpoint defines the persisted record that carries one
// task's progress across independent invocations, and the store that
// reads and writes it at a well-known path on the task's branch.
//
// The checkpoint is the sole shared resource between invocations. It is
// owned by exactly one invocation at a time (single writer per round);
// durability is delegated to the git commit primitive, not the store.
package checkpoint

import (
	"sort"
	"time"
)

// SchemaVersion is stamped into every new checkpoint for forward compatibility.
const SchemaVersion = 2

// logRetention is how many trailing action-log entries keep their detail.
// Older entries are compressed to summary-only so the reconstructed
// context stays flat no matter how many rounds have passed.
const logRetention = 2

// Phase is the current stage of work for a task.
type Phase string

// Task phases. Done and Failed are terminal.
const (
	PhasePlan    Phase = "plan"
	PhaseEdit    Phase = "edit"
	PhaseExplore Phase = "explore"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

// Terminal reports whether the phase ends the task.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhasePlan, PhaseEdit, PhaseExplore, PhaseDone, PhaseFailed:
		return true
	}
	return false
}

// StepKind classifies a plan step.
type StepKind string

// The closed set of plan step kinds.
const (
	StepRead   StepKind = "read"
	StepEdit   StepKind = "edit"
	StepCreate StepKind = "create"
	StepVerify StepKind = "verify"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepRead, StepEdit, StepCreate, StepVerify:
		return true
	}
	return false
}

// StepStatus tracks a plan step's progress.
type StepStatus string

// Plan step statuses.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// PlanStep is one unit of the planner's ordered implementation plan.
// IDs are assigned sequentially at plan creation and never change.
type PlanStep struct {
	ID            int        `json:"id"`
	Kind          StepKind   `json:"kind"`
	Description   string     `json:"description"`
	Status        StepStatus `json:"status"`
	ResultSummary string     `json:"result_summary"`
}

// Decision is a worker phase's recommendation for what runs next.
// Set by a worker, consumed and cleared by the router.
type Decision struct {
	NextPhase Phase  `json:"next_phase"`
	Reasoning string `json:"reasoning"`
}

// LogEntry records what one round did. Detail is dropped by compression
// once the entry falls out of the retention window.
type LogEntry struct {
	Round   int      `json:"round"`
	Phase   Phase    `json:"phase"`
	Summary string   `json:"summary"`
	Detail  []string `json:"detail,omitempty"`
	Files   []string `json:"files,omitempty"`
}

// ExploreStep is one read-only tool invocation inside an exploration task.
type ExploreStep struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args"`
}

// ExploreTask is one independent unit of the exploration fan-out.
type ExploreTask struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Steps       []ExploreStep `json:"steps"`
}

// EditHints carries the planner's guidance into the edit phase.
type EditHints struct {
	TargetFiles []string `json:"target_files"`
	Approach    string   `json:"approach"`
}

// Limits are the safety ceilings pinned at checkpoint creation.
type Limits struct {
	MaxRounds            int `json:"max_rounds"`
	MaxModelCalls        int `json:"max_model_calls"`
	MaxConsecutiveErrors int `json:"max_consecutive_errors"`
}

// Checkpoint is the persisted record of one task's progress.
type Checkpoint struct {
	SchemaVersion int `json:"schema_version"`

	TaskID    string `json:"task_id"`
	TaskTitle string `json:"task_title"`
	TaskBody  string `json:"task_body"`

	CurrentPhase      Phase `json:"current_phase"`
	RoundNumber       int   `json:"round_number"`
	TotalModelCalls   int   `json:"total_model_calls"`
	ConsecutiveErrors int   `json:"consecutive_errors"`

	PlanSteps       []PlanStep `json:"plan_steps"`
	FilesModified   []string   `json:"files_modified"`
	ActionLog       []LogEntry `json:"action_log"`
	PendingDecision *Decision  `json:"pending_decision"`

	BranchRef  string `json:"branch_ref"`
	ModelID    string `json:"model_id"`
	ProviderID string `json:"provider_id"`

	RepoFilesSnapshot []string `json:"repo_files_snapshot"`

	ExploreTasks []ExploreTask `json:"explore_tasks,omitempty"`
	EditHints    *EditHints    `json:"edit_hints,omitempty"`

	Limits Limits `json:"limits"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh checkpoint for a new task: phase plan, round 1.
func New(taskID, title, body, branchRef, modelID, providerID string, repoFiles []string, limits Limits) *Checkpoint {
	return &Checkpoint{
		SchemaVersion:     SchemaVersion,
		TaskID:            taskID,
		TaskTitle:         title,
		TaskBody:          body,
		CurrentPhase:      PhasePlan,
		RoundNumber:       1,
		PlanSteps:         []PlanStep{},
		FilesModified:     []string{},
		ActionLog:         []LogEntry{},
		BranchRef:         branchRef,
		ModelID:           modelID,
		ProviderID:        providerID,
		RepoFilesSnapshot: repoFiles,
		Limits:            limits,
		StartedAt:         time.Now().UTC(),
	}
}

// AppendLog adds an action-log entry for the current round, then
// compresses entries that fell out of the retention window.
func (c *Checkpoint) AppendLog(phase Phase, summary string, detail []string, files []string) {
	c.ActionLog = append(c.ActionLog, LogEntry{
		Round:   c.RoundNumber,
		Phase:   phase,
		Summary: summary,
		Detail:  detail,
		Files:   files,
	})
	c.compressLog()
}

// compressLog drops the Detail of every entry except the newest
// logRetention ones. Summary, round, phase and files are kept.
func (c *Checkpoint) compressLog() {
	if len(c.ActionLog) <= logRetention {
		return
	}
	for i := range c.ActionLog[:len(c.ActionLog)-logRetention] {
		c.ActionLog[i].Detail = nil
	}
}

// AddModifiedFiles merges paths into the files-modified set. The set
// only grows; it is kept sorted for stable serialization.
func (c *Checkpoint) AddModifiedFiles(paths []string) {
	if len(paths) == 0 {
		return
	}
	seen := make(map[string]bool, len(c.FilesModified))
	for _, p := range c.FilesModified {
		seen[p] = true
	}
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			c.FilesModified = append(c.FilesModified, p)
		}
	}
	sort.Strings(c.FilesModified)
}

// MarkStepInProgress flips the first pending step to in_progress and
// returns it, or nil when no step is pending.
func (c *Checkpoint) MarkStepInProgress() *PlanStep {
	for i := range c.PlanSteps {
		if c.PlanSteps[i].Status == StepPending {
			c.PlanSteps[i].Status = StepInProgress
			return &c.PlanSteps[i]
		}
	}
	return nil
}

// CompleteCurrentStep completes the first in_progress step with the
// given result summary. No-op when nothing is in progress.
func (c *Checkpoint) CompleteCurrentStep(result string) {
	for i := range c.PlanSteps {
		if c.PlanSteps[i].Status == StepInProgress {
			c.PlanSteps[i].Status = StepCompleted
			c.PlanSteps[i].ResultSummary = result
			return
		}
	}
}

// CompleteRemainingSteps marks every non-completed step completed with
// the given summary. Used when the editor sees the terminal sentinel.
func (c *Checkpoint) CompleteRemainingSteps(result string) {
	for i := range c.PlanSteps {
		if c.PlanSteps[i].Status != StepCompleted {
			c.PlanSteps[i].Status = StepCompleted
			c.PlanSteps[i].ResultSummary = result
		}
	}
}

// Decide records the worker's recommendation for the next phase.
func (c *Checkpoint) Decide(next Phase, reasoning string) {
	c.PendingDecision = &Decision{NextPhase: next, Reasoning: reasoning}
}
