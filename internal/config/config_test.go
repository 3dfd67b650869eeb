package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Limits.MaxRounds != 10 {
		t.Errorf("expected max rounds 10, got %d", cfg.Limits.MaxRounds)
	}
	if cfg.Limits.MaxModelCalls != 8 {
		t.Errorf("expected max model calls 8, got %d", cfg.Limits.MaxModelCalls)
	}
	if cfg.Limits.MaxConsecutiveErrors != 2 {
		t.Errorf("expected max consecutive errors 2, got %d", cfg.Limits.MaxConsecutiveErrors)
	}
	if cfg.Variant != VariantDynamic {
		t.Errorf("expected dynamic variant, got %s", cfg.Variant)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	content := []byte(`
limits:
  max_rounds: 5
  max_model_calls: 12
  max_consecutive_errors: 3
planner:
  max_steps: 6
  max_tokens: 2000
  temperature: 0.3
editor:
  max_turns_per_round: 2
  max_tokens: 4096
explore:
  max_tasks: 4
  max_steps_per_task: 3
  results_dir: exploration-results
  barrier_seconds: 60
search:
  max_results: 10
`)
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFile), content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := cfg.loadFile(filepath.Join(tmpDir, ConfigFile)); err != nil {
		t.Fatalf("loadFile: %v", err)
	}

	if cfg.Limits.MaxRounds != 5 {
		t.Errorf("expected max_rounds 5, got %d", cfg.Limits.MaxRounds)
	}
	if cfg.Editor.MaxTurnsPerRound != 2 {
		t.Errorf("expected max_turns_per_round 2, got %d", cfg.Editor.MaxTurnsPerRound)
	}
	if cfg.Explore.MaxTasks != 4 {
		t.Errorf("expected explore max_tasks 4, got %d", cfg.Explore.MaxTasks)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg := Defaults()
	if err := cfg.loadFile(filepath.Join(t.TempDir(), ConfigFile)); err != nil {
		t.Fatalf("missing config file should not error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ROUND_STATE_BRANCH", "agent/task-42")
	t.Setenv("AGENT_MODEL", "qwen3:14b")
	t.Setenv("AGENT_LOOP_TIMEOUT", "900")
	t.Setenv("ANNOUNCE_DRY_RUN", "true")
	t.Setenv("AGENT_VARIANT", "single_shot")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg := Defaults()
	cfg.loadEnv()

	if cfg.StateBranch != "agent/task-42" {
		t.Errorf("expected state branch agent/task-42, got %q", cfg.StateBranch)
	}
	if cfg.ModelID != "qwen3:14b" {
		t.Errorf("expected model qwen3:14b, got %q", cfg.ModelID)
	}
	if cfg.TimeoutSeconds != 900 {
		t.Errorf("expected timeout 900, got %d", cfg.TimeoutSeconds)
	}
	if !cfg.DryRunAnnounce {
		t.Error("expected dry-run announce")
	}
	if cfg.Variant != VariantSingleShot {
		t.Errorf("expected single_shot variant, got %s", cfg.Variant)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("expected debug/json logging, got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestInvalidVariantIgnored(t *testing.T) {
	t.Setenv("AGENT_VARIANT", "quantum")
	cfg := Defaults()
	cfg.loadEnv()
	if cfg.Variant != VariantDynamic {
		t.Errorf("unknown variant should be ignored, got %s", cfg.Variant)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Limits.MaxRounds = 0
	if err := cfg.validate(); err == nil {
		t.Error("expected validation error for zero max_rounds")
	}
}
