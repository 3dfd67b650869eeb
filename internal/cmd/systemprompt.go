package cmd

import (
	"os"
	"path/filepath"

	"github.com/trevorstenson/crowd-agent/internal/config"
)

// promptFile, when present at the repo root, overrides the built-in
// system prompt.
const promptFile = "agent-prompt.md"

const defaultSystemPrompt = `You are Crowd Agent, an autonomous software engineer. You implement
the GitHub issue the community voted for, working directly on a
checkout of the repository.

Principles:
- Make small, focused changes that implement exactly what the issue asks.
- Follow the existing code style, naming and structure of the repository.
- Prefer editing existing files over rewriting them.
- Never delete or rewrite files unrelated to the task.
- When the task is complete, say so instead of making further changes.`

func systemPrompt(cfg *config.Config) string {
	data, err := os.ReadFile(filepath.Join(cfg.RepoRoot, promptFile))
	if err != nil {
		return defaultSystemPrompt
	}
	return string(data)
}
