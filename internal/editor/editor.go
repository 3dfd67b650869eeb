// Package editor runs the bounded multi-turn edit loop: one completion
// call per turn, parse a command, execute it, record the result. The
// turn budget is per invocation, so a stalled task still makes bounded
// progress each round. Every prompt is rebuilt fresh from the
// checkpoint plus this invocation's actions, keeping context flat no
// matter how many rounds have passed.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
	"github.com/trevorstenson/crowd-agent/internal/parse"
	"github.com/trevorstenson/crowd-agent/internal/provider"
	"github.com/trevorstenson/crowd-agent/internal/tools"
)

const (
	doneSentinel       = "DONE:"
	maxResultLogLength = 500
	reasonTruncation   = 200
)

// Completer is the completion primitive the loop needs.
type Completer interface {
	Complete(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

// TurnLoop executes edit turns against one checkpoint.
type TurnLoop struct {
	client       Completer
	parser       *parse.Parser
	executor     *tools.Executor
	maxTurns     int
	timeout      time.Duration
	maxTokens    int
	systemPrompt string
	exploration  string
	logger       *log.Logger

	// OnStrategyHit fires with the parser strategy name for each
	// recovered command, "none" for a miss.
	OnStrategyHit func(strategy string)

	// OnToolExecuted fires after each tool run with the tool name and
	// whether the executor reported an error result.
	OnToolExecuted func(tool string, ok bool)

	retryDelay func(ctx context.Context) error
	now        func() time.Time
}

// Options configure the turn loop.
type Options struct {
	MaxTurns     int
	Timeout      time.Duration
	MaxTokens    int
	SystemPrompt string

	// ExplorationContext is the synthesized output of the exploration
	// fan-out, inlined into every turn prompt when present.
	ExplorationContext string
}

func New(client Completer, executor *tools.Executor, opts Options, logger *log.Logger) *TurnLoop {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8096
	}
	return &TurnLoop{
		client:       client,
		parser:       parse.New(),
		executor:     executor,
		maxTurns:     opts.MaxTurns,
		timeout:      opts.Timeout,
		maxTokens:    opts.MaxTokens,
		systemPrompt: opts.SystemPrompt,
		exploration:  opts.ExplorationContext,
		logger:       logger,
		retryDelay: func(ctx context.Context) error {
			t := time.NewTimer(2 * time.Second)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
		now: time.Now,
	}
}

// Run executes up to the turn budget and records everything in the
// checkpoint: step statuses, modified files, one action-log entry, and
// the pending decision. It never loses progress; exhausting the budget
// or the wall clock finalizes with whatever changes exist.
func (t *TurnLoop) Run(ctx context.Context, cp *checkpoint.Checkpoint) {
	toolCtx := tools.NewContext()
	start := t.now()
	var actions []string
	var feedback []turnAction
	var reprompt string
	turnsUsed := 0

	defer func() {
		files := toolCtx.ModifiedPaths()
		cp.AddModifiedFiles(files)
		cp.AppendLog(checkpoint.PhaseEdit,
			fmt.Sprintf("Edited %d files in %d turns", len(files), turnsUsed),
			actions, files)
	}()

	for turn := 0; turn < t.maxTurns; turn++ {
		turnsUsed = turn + 1

		if t.now().Sub(start) > t.timeout {
			t.logger.WithError(errors.Newf(errors.ErrCodeEditTimeout,
				"wall clock limit %s reached", t.timeout)).
				Warn("edit loop hit wall-clock limit, finalizing with current changes")
			cp.Decide(checkpoint.PhaseDone, "Time limit reached, finalizing with current changes")
			return
		}

		content, ok := t.completeTurn(ctx, cp, feedback, reprompt)
		reprompt = ""
		if !ok {
			// Transport faults pushed consecutive_errors to its
			// ceiling; leave the decision to the limiter.
			cp.Decide(checkpoint.PhaseEdit, "Provider faults interrupted the edit loop")
			return
		}

		cmd, strategy := t.parser.ParseWithStrategy(content)
		if t.OnStrategyHit != nil {
			if cmd == nil {
				t.OnStrategyHit("none")
			} else {
				t.OnStrategyHit(strategy)
			}
		}

		if strings.HasPrefix(strings.ToUpper(content), doneSentinel) || (cmd == nil && turn > 0) {
			t.logger.Info("editor finished", "summary", truncate(content, reasonTruncation))
			cp.ConsecutiveErrors = 0
			cp.CompleteRemainingSteps("Completed in edit phase")
			cp.Decide(checkpoint.PhaseDone, truncate(content, reasonTruncation))
			return
		}

		if cmd == nil {
			// First turn with no command: re-prompt once instead of
			// terminating on a single formatting wobble.
			t.logger.Warn("no command parsed on first turn, re-prompting",
				"content", truncate(content, reasonTruncation))
			actions = append(actions, "(no command parsed, re-prompted)")
			reprompt = "Your previous response contained no tool call. " +
				"Make your next change using a tool call JSON, " +
				"or respond with DONE: if all changes are complete."
			continue
		}

		argsJSON, _ := json.Marshal(cmd.Args)
		t.logger.Info("tool call", "tool", cmd.Tool, "args", truncate(string(argsJSON), 100))

		result := t.executor.Execute(toolCtx, cmd.Tool, cmd.Args)
		t.logger.Info("tool result", "result", truncate(result, 100))
		if t.OnToolExecuted != nil {
			t.OnToolExecuted(cmd.Tool, !strings.HasPrefix(result, "Error"))
		}

		actions = append(actions, fmt.Sprintf("%s(%s) -> %s",
			cmd.Tool, truncate(string(argsJSON), 100), truncate(result, maxResultLogLength)))
		// The prompt feedback keeps the full result so the next turn
		// can read file contents or react to the error text.
		feedback = append(feedback, turnAction{
			tool:   cmd.Tool,
			args:   truncate(string(argsJSON), 100),
			result: result,
		})

		advanceStep(cp, cmd)
		cp.ConsecutiveErrors = 0
	}

	t.logger.Warn("editor reached max turns without finishing")
	cp.Decide(checkpoint.PhaseDone,
		fmt.Sprintf("Max tool calls (%d) reached, finalizing with current changes", t.maxTurns))
}

// turnAction is one executed tool call of the current invocation,
// fed back verbatim into every following turn's prompt.
type turnAction struct {
	tool   string
	args   string
	result string
}

// completeTurn issues one completion, retrying transport faults within
// the same turn slot until the consecutive-error ceiling is reached.
func (t *TurnLoop) completeTurn(ctx context.Context, cp *checkpoint.Checkpoint, feedback []turnAction, reprompt string) (string, bool) {
	prompt := buildPrompt(cp)
	if t.exploration != "" {
		prompt += "\n\n## Exploration Findings\n" + t.exploration
	}
	if len(feedback) > 0 {
		prompt += "\n\n" + formatTurnActions(feedback)
	}
	if reprompt != "" {
		prompt += "\n\n## Correction\n" + reprompt
	}
	for {
		resp, err := t.client.Complete(ctx, &provider.Request{
			System:    t.systemPrompt + "\n\n" + toolPrompt,
			Prompt:    prompt,
			MaxTokens: t.maxTokens,
		})
		if err == nil {
			t.logger.Debug("turn completion",
				"tokens", resp.TotalTokens(), "latency", resp.Latency)
			return strings.TrimSpace(resp.Content), true
		}

		cp.ConsecutiveErrors++
		t.logger.WithError(err).Warn("completion fault in edit loop",
			"consecutive_errors", cp.ConsecutiveErrors)
		if cp.ConsecutiveErrors >= cp.Limits.MaxConsecutiveErrors {
			return "", false
		}
		if err := t.retryDelay(ctx); err != nil {
			return "", false
		}
	}
}

// advanceStep moves the plan along: the first pending step goes in
// progress, and a mutating tool completes it.
func advanceStep(cp *checkpoint.Checkpoint, cmd *parse.Command) {
	cp.MarkStepInProgress()

	if cmd.Tool != "write_file" && cmd.Tool != "edit_file" {
		return
	}
	cp.CompleteCurrentStep("Modified " + cmd.StringArg("path"))
}

// truncate caps s at n characters. Slicing by runes keeps multibyte
// text in tool results and summaries from being cut mid-character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
