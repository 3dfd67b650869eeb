package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/provider"
)

// Strategies for the exploration plan.
const (
	StrategyExploreThenEdit = "explore_then_edit"
	StrategyDirectEdit      = "direct_edit"
)

// allowedExploreTools are the read-only tools exploration steps may use.
var allowedExploreTools = map[string]bool{
	"read_file":    true,
	"list_files":   true,
	"search_files": true,
}

// ExplorationPlan is the structured output of the exploration planner.
// Its tasks fan out as parallel jobs, so each must be self-contained.
type ExplorationPlan struct {
	Strategy         string                   `json:"strategy"`
	Reasoning        string                   `json:"reasoning"`
	ExplorationTasks []checkpoint.ExploreTask `json:"exploration_tasks"`
	EditHints        checkpoint.EditHints     `json:"edit_hints"`
}

const exploreSchemaDescription = `You must respond with ONLY a valid JSON object (no markdown fences, no explanation) matching this schema:

{
  "strategy": "explore_then_edit" or "direct_edit",
  "reasoning": "<1-2 sentences explaining your approach>",
  "exploration_tasks": [
    {
      "id": "explore-0",
      "description": "<what this task discovers>",
      "steps": [
        {"tool": "read_file", "args": {"path": "some/file.go"}},
        {"tool": "list_files", "args": {"directory": "some/dir"}},
        {"tool": "search_files", "args": {"pattern": "some_pattern"}}
      ]
    }
  ],
  "edit_hints": {
    "target_files": ["file1.go", "file2.go"],
    "approach": "<brief description of what edits to make>"
  }
}

Rules:
- strategy must be "explore_then_edit" or "direct_edit"
- For simple tasks (typo fixes, small config changes), use "direct_edit" with exploration_tasks=[]
- For complex tasks, use "explore_then_edit" with 1-8 exploration tasks
- Each task can have 1-6 steps
- Only these tools are allowed in steps: read_file, list_files, search_files
- read_file args: {"path": "<relative path>"}
- list_files args: {"directory": "<relative path>"}
- search_files args: {"pattern": "<text or regex>"}
- Task IDs must be "explore-0", "explore-1", etc.
- edit_hints.target_files: list of files you expect to modify
- edit_hints.approach: brief description of the edit strategy`

// ExplorePlanner produces the fan-out exploration plan with one
// completion call, falling back to keyword matching when the call or
// its parse fails.
type ExplorePlanner struct {
	*Planner
	maxTasks        int
	maxStepsPerTask int
}

func NewExplorePlanner(p *Planner, maxTasks, maxStepsPerTask int) *ExplorePlanner {
	if maxTasks <= 0 {
		maxTasks = 8
	}
	if maxStepsPerTask <= 0 {
		maxStepsPerTask = 6
	}
	return &ExplorePlanner{Planner: p, maxTasks: maxTasks, maxStepsPerTask: maxStepsPerTask}
}

// Run returns a validated exploration plan. Like step planning, this
// never fails.
func (p *ExplorePlanner) Run(ctx context.Context, taskID, title, body string, repoFiles []string) *ExplorationPlan {
	prompt := buildExplorePrompt(taskID, title, body, repoFiles)

	resp, err := p.client.Complete(ctx, &provider.Request{
		Prompt:      prompt,
		MaxTokens:   p.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		p.logger.Warn("exploration planner call failed, using fallback", "error", err.Error())
		return p.validate(FallbackExplorationPlan(title, repoFiles))
	}

	region, err := ExtractJSON(resp.Content)
	if err != nil {
		p.logger.Warn("exploration planner output unusable, using fallback", "error", err.Error())
		return p.validate(FallbackExplorationPlan(title, repoFiles))
	}
	var plan ExplorationPlan
	if err := json.Unmarshal(region, &plan); err != nil {
		p.logger.Warn("exploration plan decode failed, using fallback", "error", err.Error())
		return p.validate(FallbackExplorationPlan(title, repoFiles))
	}

	validated := p.validate(&plan)
	p.logger.Info("exploration plan created",
		"strategy", validated.Strategy, "tasks", len(validated.ExplorationTasks))
	return validated
}

// validate sanitizes a plan in place: legal strategy, capped task and
// step counts, read-only tools, normalized task ids.
func (p *ExplorePlanner) validate(plan *ExplorationPlan) *ExplorationPlan {
	if plan.Strategy != StrategyExploreThenEdit && plan.Strategy != StrategyDirectEdit {
		plan.Strategy = StrategyExploreThenEdit
	}
	if plan.Strategy == StrategyDirectEdit {
		plan.ExplorationTasks = nil
		return plan
	}

	tasks := plan.ExplorationTasks
	if len(tasks) > p.maxTasks {
		tasks = tasks[:p.maxTasks]
	}

	validated := make([]checkpoint.ExploreTask, 0, len(tasks))
	for _, task := range tasks {
		task.ID = fmt.Sprintf("explore-%d", len(validated))
		if task.Description == "" {
			task.Description = fmt.Sprintf("Exploration task %d", len(validated))
		}
		steps := task.Steps
		if len(steps) > p.maxStepsPerTask {
			steps = steps[:p.maxStepsPerTask]
		}
		valid := make([]checkpoint.ExploreStep, 0, len(steps))
		for _, step := range steps {
			if !allowedExploreTools[step.Tool] {
				p.logger.Warn("skipping disallowed exploration tool",
					"tool", step.Tool, "task", task.ID)
				continue
			}
			if step.Args == nil {
				step.Args = map[string]string{}
			}
			valid = append(valid, step)
		}
		if len(valid) > 0 {
			task.Steps = valid
			validated = append(validated, task)
		}
	}
	plan.ExplorationTasks = validated
	if len(validated) == 0 {
		plan.Strategy = StrategyDirectEdit
	}
	return plan
}

func buildExplorePrompt(taskID, title, body string, repoFiles []string) string {
	if body == "" {
		body = "(no description)"
	}
	files := make([]string, 0, len(repoFiles))
	for _, f := range repoFiles {
		files = append(files, "- `"+f+"`")
	}
	return fmt.Sprintf(
		"You are a software engineering planner. Your job is to analyze a task "+
			"and produce a structured exploration plan.\n\n"+
			"## Task #%s: %s\n\n%s\n\n"+
			"## Repository Files\n\n%s\n\n"+
			"## Instructions\n\n"+
			"Analyze the task and decide:\n"+
			"1. Is this simple enough to edit directly (typo fix, small change)? -> strategy: direct_edit\n"+
			"2. Do you need to explore the codebase first? -> strategy: explore_then_edit\n\n"+
			"For explore_then_edit, create exploration tasks that will run IN PARALLEL "+
			"(each as a separate job). Group related reads into the same task. "+
			"Each task runs independently and cannot see results from other tasks.\n\n%s",
		taskID, title, body, strings.Join(files, "\n"), exploreSchemaDescription)
}

var keywordRe = regexp.MustCompile(`[a-zA-Z_]{3,}`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "add": true, "fix": true,
	"update": true, "implement": true, "create": true, "make": true,
	"change": true, "modify": true, "remove": true, "delete": true,
	"new": true, "use": true, "with": true,
}

// FallbackExplorationPlan keyword-matches the task title against the
// file listing to pick files worth reading.
func FallbackExplorationPlan(title string, repoFiles []string) *ExplorationPlan {
	var keywords []string
	for _, w := range keywordRe.FindAllString(strings.ToLower(title), -1) {
		if !stopWords[w] {
			keywords = append(keywords, w)
		}
	}

	var matching []string
	for _, f := range repoFiles {
		lower := strings.ToLower(f)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matching = append(matching, f)
				break
			}
		}
	}

	steps := make([]checkpoint.ExploreStep, 0, 5)
	for _, f := range matching[:min(4, len(matching))] {
		steps = append(steps, checkpoint.ExploreStep{
			Tool: "read_file", Args: map[string]string{"path": f},
		})
	}
	steps = append(steps, checkpoint.ExploreStep{
		Tool: "list_files", Args: map[string]string{"directory": "."},
	})

	targets := matching
	if len(targets) > 5 {
		targets = targets[:5]
	}
	return &ExplorationPlan{
		Strategy:  StrategyExploreThenEdit,
		Reasoning: fmt.Sprintf("Fallback plan: keyword-matched files from task title %q", title),
		ExplorationTasks: []checkpoint.ExploreTask{{
			ID:          "explore-0",
			Description: "Read files related to: " + title,
			Steps:       steps,
		}},
		EditHints: checkpoint.EditHints{
			TargetFiles: targets,
			Approach:    "Address the task: " + title,
		},
	}
}
