// Package plan turns a task description into an ordered list of
// implementation steps with a single completion call. Planning never
// fails: when the model output cannot be parsed or the call errors,
// a deterministic fallback plan keyed on the task title takes over.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/provider"
)

const schemaDescription = `You must respond with ONLY a valid JSON object (no markdown fences, no explanation) matching this schema:

{
  "plan_steps": [
    {
      "id": 1,
      "type": "read" | "edit" | "create" | "verify",
      "description": "<what to do in this step>"
    }
  ],
  "next_action": {
    "phase": "edit",
    "reasoning": "<why edit is the right next phase>"
  }
}

Rules:
- plan_steps: ordered list of steps to implement the task (3-8 steps)
- Each step has a numeric id, a type, and a description
- type is one of: "read" (examine files), "edit" (modify existing), "create" (new file), "verify" (check work)
- next_action.phase should be "edit"
- Keep steps concrete and actionable`

// Completer is the completion primitive the planner needs.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// Planner makes one completion call and normalizes the result.
type Planner struct {
	client    Completer
	maxSteps  int
	maxTokens int
	logger    *log.Logger
}

func New(client Completer, maxSteps int, logger *log.Logger) *Planner {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &Planner{
		client:    client,
		maxSteps:  maxSteps,
		maxTokens: 2000,
		logger:    logger,
	}
}

type rawPlan struct {
	PlanSteps  []rawStep `json:"plan_steps"`
	NextAction struct {
		Phase     string `json:"phase"`
		Reasoning string `json:"reasoning"`
	} `json:"next_action"`
}

type rawStep struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Run plans the checkpoint's task and writes the result into it: plan
// steps, current step, pending decision, and one action-log entry. It
// never returns an error; a failed call or unparseable output lands on
// the fallback plan and bumps consecutive_errors.
func (p *Planner) Run(ctx context.Context, cp *checkpoint.Checkpoint) {
	prompt := buildPrompt(cp.TaskID, cp.TaskTitle, cp.TaskBody, cp.RepoFilesSnapshot)

	resp, err := p.client.Complete(ctx, &provider.Request{
		Prompt:      prompt,
		MaxTokens:   p.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		p.fallback(cp, fmt.Sprintf("planner call failed: %v", err))
		return
	}

	steps, next, reasoning, err := parseSteps(resp.Content, p.maxSteps)
	if err != nil {
		p.fallback(cp, fmt.Sprintf("planner output unusable: %v", err))
		return
	}

	cp.PlanSteps = steps
	cp.ConsecutiveErrors = 0
	cp.Decide(next, reasoning)

	summaries := make([]string, 0, 3)
	for _, s := range steps[:min(3, len(steps))] {
		summaries = append(summaries, truncate(s.Description, 60))
	}
	cp.AppendLog(checkpoint.PhasePlan,
		fmt.Sprintf("Created %d-step plan: %s", len(steps), strings.Join(summaries, "; ")),
		nil, nil)

	p.logger.Info("plan created", "steps", len(steps), "next_phase", string(next))
}

// fallback installs the deterministic 3-step plan. This path must
// never fail.
func (p *Planner) fallback(cp *checkpoint.Checkpoint, reason string) {
	p.logger.Warn("planner falling back", "reason", reason)
	cp.ConsecutiveErrors++
	cp.PlanSteps = FallbackSteps(cp.TaskTitle)
	cp.Decide(checkpoint.PhaseEdit, reason+", using fallback plan")
	cp.AppendLog(checkpoint.PhasePlan, reason+", using fallback plan", nil, nil)
}

// FallbackSteps is the fixed read/edit/verify plan parameterized only
// by the task title.
func FallbackSteps(title string) []checkpoint.PlanStep {
	return []checkpoint.PlanStep{
		{ID: 1, Kind: checkpoint.StepRead, Description: "Read relevant files", Status: checkpoint.StepPending},
		{ID: 2, Kind: checkpoint.StepEdit, Description: "Implement: " + title, Status: checkpoint.StepPending},
		{ID: 3, Kind: checkpoint.StepVerify, Description: "Verify changes", Status: checkpoint.StepPending},
	}
}

func buildPrompt(taskID, title, body string, repoFiles []string) string {
	if body == "" {
		body = "(no description)"
	}
	files := make([]string, 0, len(repoFiles))
	for _, f := range repoFiles {
		files = append(files, "- `"+f+"`")
	}
	return fmt.Sprintf(
		"You are a software engineering planner. Analyze this task "+
			"and produce a step-by-step implementation plan.\n\n"+
			"## Task #%s: %s\n\n%s\n\n"+
			"## Repository Files\n\n%s\n\n"+
			"## Instructions\n\n"+
			"Create a concrete plan with 3-8 steps to implement this task. "+
			"Each step should be a specific action (read a file, edit a file, "+
			"create a new file, verify something).\n\n%s",
		taskID, title, body, strings.Join(files, "\n"), schemaDescription)
}

// parseSteps extracts and normalizes the plan: clamp to maxSteps,
// renumber ids 1..N ignoring whatever the model proposed, default
// missing kinds to edit.
func parseSteps(raw string, maxSteps int) ([]checkpoint.PlanStep, checkpoint.Phase, string, error) {
	region, err := ExtractJSON(raw)
	if err != nil {
		return nil, "", "", errors.Wrap(errors.ErrCodePlanUnparseable, "no JSON plan in output", err)
	}

	var parsed rawPlan
	if err := json.Unmarshal(region, &parsed); err != nil {
		return nil, "", "", errors.Wrap(errors.ErrCodePlanUnparseable, "decode plan", err)
	}
	if len(parsed.PlanSteps) == 0 {
		return nil, "", "", errors.New(errors.ErrCodePlanEmpty, "plan has no steps")
	}

	if len(parsed.PlanSteps) > maxSteps {
		parsed.PlanSteps = parsed.PlanSteps[:maxSteps]
	}

	steps := make([]checkpoint.PlanStep, 0, len(parsed.PlanSteps))
	for i, s := range parsed.PlanSteps {
		kind := checkpoint.StepKind(s.Type)
		if !kind.Valid() {
			kind = checkpoint.StepEdit
		}
		desc := s.Description
		if desc == "" {
			desc = fmt.Sprintf("Step %d", i+1)
		}
		steps = append(steps, checkpoint.PlanStep{
			ID:          i + 1,
			Kind:        kind,
			Description: desc,
			Status:      checkpoint.StepPending,
		})
	}

	next := checkpoint.Phase(parsed.NextAction.Phase)
	if !next.Valid() || next == checkpoint.PhasePlan {
		next = checkpoint.PhaseEdit
	}
	reasoning := parsed.NextAction.Reasoning
	if reasoning == "" {
		reasoning = "Plan complete, proceeding to edit"
	}
	return steps, next, reasoning, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
