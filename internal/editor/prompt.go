package editor

import (
	"fmt"
	"strings"

	"github.com/trevorstenson/crowd-agent/internal/checkpoint"
)

const toolPrompt = `## Available Tools

- **read_file**: Read the contents of a file in the repository.
  Parameters: "path" (string, required): relative path to the file

- **write_file**: Write or overwrite a file in the repository.
  Parameters: "path" (string, required): relative path to the file; "content" (string, required): full file content

- **edit_file**: Edit a file by replacing an exact, unique substring.
  Parameters: "path" (string, required); "old_string" (string, required): exact text to replace; "new_string" (string, required): replacement text

- **list_files**: List files in a directory of the repository.
  Parameters: "directory" (string, optional): relative path, defaults to "."

- **search_files**: Search for a text or regex pattern across the repository.
  Parameters: "pattern" (string, required); "case_sensitive" (boolean, optional); "max_results" (number, optional)

## How to Call Tools

To call a tool, respond with ONLY a JSON object in this exact format:
{"tool": "<tool_name>", "args": {<arguments>}}

Examples:
{"tool": "read_file", "args": {"path": "main.go"}}
{"tool": "edit_file", "args": {"path": "main.go", "old_string": "x := 1", "new_string": "x := 2"}}

Output the JSON on a single line with string values properly escaped.`

// buildPrompt reconstructs the full turn context from the checkpoint:
// task, plan with step statuses, compressed action log, files
// modified, repository structure, and instructions.
func buildPrompt(cp *checkpoint.Checkpoint) string {
	body := cp.TaskBody
	if body == "" {
		body = "(no description)"
	}

	files := "(none yet)"
	if len(cp.FilesModified) > 0 {
		files = strings.Join(cp.FilesModified, ", ")
	}

	structure := make([]string, 0, len(cp.RepoFilesSnapshot))
	for _, f := range cp.RepoFilesSnapshot {
		structure = append(structure, "- `"+f+"`")
	}

	hints := ""
	if cp.EditHints != nil {
		hints = "\n\n## Edit Hints\n"
		if len(cp.EditHints.TargetFiles) > 0 {
			hints += "Target files: " + strings.Join(cp.EditHints.TargetFiles, ", ") + "\n"
		}
		hints += "Approach: " + cp.EditHints.Approach
	}

	return fmt.Sprintf(
		"## Task\nImplement task #%s: %s\n%s\n\n"+
			"%s\n\n"+
			"## Progress So Far\n%s\n\n"+
			"## Files Modified So Far\n%s\n\n"+
			"## Repository Structure\n%s%s\n\n"+
			"## Instructions\n"+
			"You are in the **%s** phase (round %d).\n"+
			"Make your next change using ONE tool call. Respond with ONLY a JSON object.\n"+
			"- To modify an existing file, prefer edit_file (find and replace) over write_file.\n"+
			"  edit_file only needs the old and new text, not the entire file.\n"+
			"- When ALL changes are complete, respond with a plain text summary starting with \"DONE:\".\n"+
			"- If you need to read a file you previously edited, use read_file; your edits are saved.",
		cp.TaskID, cp.TaskTitle, body,
		formatPlanSteps(cp.PlanSteps),
		formatRoundLog(cp.ActionLog),
		files,
		strings.Join(structure, "\n"), hints,
		cp.CurrentPhase, cp.RoundNumber)
}

func formatPlanSteps(steps []checkpoint.PlanStep) string {
	if len(steps) == 0 {
		return "## Your Plan\n(no plan yet)"
	}

	done := 0
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		var marker, detail string
		switch s.Status {
		case checkpoint.StepCompleted:
			marker = "DONE"
			done++
			if s.ResultSummary != "" {
				detail = " -> " + s.ResultSummary
			}
		case checkpoint.StepInProgress:
			marker = "IN PROGRESS"
		default:
			marker = "PENDING"
		}
		lines = append(lines, fmt.Sprintf("%d. [%s] %s%s", s.ID, marker, s.Description, detail))
	}
	header := fmt.Sprintf("## Your Plan (step %d/%d next)", done+1, len(steps))
	return header + "\n" + strings.Join(lines, "\n")
}

func formatRoundLog(entries []checkpoint.LogEntry) string {
	if len(entries) == 0 {
		return "(no actions yet)"
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		suffix := ""
		if len(e.Files) > 0 {
			suffix = " [" + strings.Join(e.Files, ", ") + "]"
		}
		lines = append(lines, fmt.Sprintf("- Round %d (%s): %s%s", e.Round, e.Phase, e.Summary, suffix))
		// Recent rounds still carry per-action detail; older entries
		// have had it compressed away.
		for _, d := range e.Detail {
			lines = append(lines, "  - "+d)
		}
	}
	return strings.Join(lines, "\n")
}

// formatTurnActions renders this invocation's tool calls with their
// full results, so the model can read what its own commands returned
// before deciding the next one.
func formatTurnActions(actions []turnAction) string {
	lines := make([]string, 0, len(actions)*2)
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("Tool result for %s(%s):", a.tool, a.args))
		lines = append(lines, a.result)
	}
	return "## Tool Results This Round\n" + strings.Join(lines, "\n")
}
