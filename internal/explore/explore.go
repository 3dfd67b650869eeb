// Package explore executes the planner's read-only exploration tasks.
// Tasks are deterministic, no model calls: each runs its steps in
// order and writes a JSON artifact the edit phase later loads. Tasks
// fan out either as platform matrix jobs (one task id per process) or
// as local goroutines.
package explore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/plan"
	"github.com/trevorstenson/crowd-agent/internal/tools"
)

// PlanFile is where the exploration plan is shared between jobs.
const PlanFile = "exploration-plan.json"

// StepResult is the outcome of one exploration step.
type StepResult struct {
	StepIndex int               `json:"step_index"`
	Tool      string            `json:"tool"`
	Args      map[string]string `json:"args"`
	Success   bool              `json:"success"`
	Result    string            `json:"result"`
}

// TaskResult is the artifact one exploration task produces.
type TaskResult struct {
	TaskID      string       `json:"task_id"`
	Description string       `json:"description"`
	StepCount   int          `json:"step_count"`
	Steps       []StepResult `json:"steps"`
}

// Runner executes exploration tasks against a repository.
type Runner struct {
	executor   *tools.Executor
	resultsDir string
	logger     *log.Logger
}

func NewRunner(executor *tools.Executor, resultsDir string, logger *log.Logger) *Runner {
	return &Runner{executor: executor, resultsDir: resultsDir, logger: logger}
}

// ExecuteTask runs every step of one task. Step failures are recorded
// in the result, never raised; an exploration artifact with failed
// steps is still useful context.
func (r *Runner) ExecuteTask(task checkpoint.ExploreTask) *TaskResult {
	result := &TaskResult{
		TaskID:      task.ID,
		Description: task.Description,
		StepCount:   len(task.Steps),
		Steps:       []StepResult{},
	}

	ctx := tools.NewContext()
	for i, step := range task.Steps {
		r.logger.Info("exploration step",
			"task", task.ID, "step", i+1, "of", len(task.Steps), "tool", step.Tool)

		args := make(map[string]any, len(step.Args))
		for k, v := range step.Args {
			args[k] = v
		}
		out := r.executor.Execute(ctx, step.Tool, args)
		result.Steps = append(result.Steps, StepResult{
			StepIndex: i,
			Tool:      step.Tool,
			Args:      step.Args,
			Success:   !strings.HasPrefix(out, "Error"),
			Result:    out,
		})
	}
	return result
}

// WriteResult stores the artifact at <resultsDir>/<task-id>.json.
func (r *Runner) WriteResult(result *TaskResult) error {
	if err := os.MkdirAll(r.resultsDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(r.resultsDir, result.TaskID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// RunOne executes the single task a matrix job was assigned.
func (r *Runner) RunOne(p *plan.ExplorationPlan, taskID string) (*TaskResult, error) {
	for _, task := range p.ExplorationTasks {
		if task.ID == taskID {
			result := r.ExecuteTask(task)
			if err := r.WriteResult(result); err != nil {
				return nil, err
			}
			succeeded := 0
			for _, s := range result.Steps {
				if s.Success {
					succeeded++
				}
			}
			r.logger.Info("exploration task complete",
				"task", taskID, "succeeded", succeeded, "steps", len(result.Steps))
			return result, nil
		}
	}
	return nil, errors.Newf(errors.ErrCodeExploreTaskMissing,
		"task %q not found in exploration plan", taskID)
}

// RunAll executes every task concurrently, one goroutine per task,
// and writes all artifacts. Used when no matrix assignment is present.
func (r *Runner) RunAll(ctx context.Context, p *plan.ExplorationPlan) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(p.ExplorationTasks))

	for _, task := range p.ExplorationTasks {
		wg.Add(1)
		go func(task checkpoint.ExploreTask) {
			defer wg.Done()
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			if err := r.WriteResult(r.ExecuteTask(task)); err != nil {
				errCh <- err
			}
		}(task)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadResults reads every artifact in dir, sorted by task id so the
// edit prompt is deterministic. A missing directory is an empty slice;
// direct_edit plans produce no artifacts at all.
func LoadResults(dir string) ([]TaskResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	var results []TaskResult
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read result %s: %w", entry.Name(), err)
		}
		var result TaskResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode result %s: %w", entry.Name(), err)
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].TaskID < results[j].TaskID })
	return results, nil
}

// SavePlan writes the shared exploration plan file at root.
func SavePlan(root string, p *plan.ExplorationPlan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal exploration plan: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(root, PlanFile), data, 0o644)
}

// LoadPlan reads the shared exploration plan file at root.
func LoadPlan(root string) (*plan.ExplorationPlan, error) {
	data, err := os.ReadFile(filepath.Join(root, PlanFile))
	if err != nil {
		return nil, fmt.Errorf("read exploration plan: %w", err)
	}
	var p plan.ExplorationPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode exploration plan: %w", err)
	}
	return &p, nil
}
