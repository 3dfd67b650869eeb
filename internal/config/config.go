// Package config assembles the per-invocation configuration from the
// environment the CI platform provides, plus an optional agent.yaml at
// the repository root for tunables. Each invocation is an isolated
// process, so configuration is read once at startup and never reloaded.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/trevorstenson/crowd-agent/internal/errors"
)

// ConfigFile is the optional tunables file at the repository root.
const ConfigFile = "agent.yaml"

// Variant selects which orchestration mode is active.
type Variant string

// Orchestration variants.
const (
	// VariantSingleShot runs plan and edit inside one invocation.
	VariantSingleShot Variant = "single_shot"
	// VariantChain runs a fixed number of turn invocations chained together.
	VariantChain Variant = "chain"
	// VariantDynamic lets each round decide the next phase (the default).
	VariantDynamic Variant = "dynamic"
)

// Limits holds the safety ceilings copied into each new checkpoint.
type Limits struct {
	MaxRounds            int `yaml:"max_rounds"`
	MaxModelCalls        int `yaml:"max_model_calls"`
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// Planner holds planner-phase tunables.
type Planner struct {
	MaxSteps    int     `yaml:"max_steps"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Editor holds edit-phase tunables.
type Editor struct {
	MaxTurnsPerRound int     `yaml:"max_turns_per_round"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float64 `yaml:"temperature"`
}

// Explore holds exploration fan-out tunables.
type Explore struct {
	MaxTasks        int    `yaml:"max_tasks"`
	MaxStepsPerTask int    `yaml:"max_steps_per_task"`
	ResultsDir      string `yaml:"results_dir"`
	BarrierSeconds  int    `yaml:"barrier_seconds"`
}

// Search holds search_files tunables.
type Search struct {
	MaxResults int `yaml:"max_results"`
}

// fileConfig is the agent.yaml schema.
type fileConfig struct {
	Limits  Limits  `yaml:"limits"`
	Planner Planner `yaml:"planner"`
	Editor  Editor  `yaml:"editor"`
	Explore Explore `yaml:"explore"`
	Search  Search  `yaml:"search"`
}

// Config is the fully resolved per-invocation configuration.
type Config struct {
	// RepoRoot is the checkout the agent operates on; all tool paths
	// resolve against it.
	RepoRoot string

	// StateBranch is the task branch carrying the checkpoint. Empty on
	// a fresh run.
	StateBranch string

	// RepoOwner and RepoName identify the hosting repository.
	RepoOwner string
	RepoName  string

	// ModelID and ProviderID are pinned into the checkpoint at creation.
	ModelID    string
	ProviderID string

	// Variant selects the orchestration mode.
	Variant Variant

	// TimeoutSeconds is the wall-clock budget for one invocation's work
	// phase; checked before each editor turn.
	TimeoutSeconds int

	// DryRunAnnounce suppresses outbound announcements.
	DryRunAnnounce bool

	// WorkflowFile and WorkflowRef locate the workflow for triggering
	// the next invocation.
	WorkflowFile string
	WorkflowRef  string

	// ExploreTaskID, when set, restricts the explore phase to one task
	// (platform matrix fan-out).
	ExploreTaskID string

	// JobOutputPath is the platform-provided output channel.
	JobOutputPath string

	// LogLevel and LogFormat override the logger defaults when set
	// (debug/info/warn/error, text/json).
	LogLevel  string
	LogFormat string

	Limits  Limits
	Planner Planner
	Editor  Editor
	Explore Explore
	Search  Search
}

// Defaults returns the built-in configuration before env and file overrides.
func Defaults() *Config {
	return &Config{
		RepoRoot:       ".",
		ModelID:        "qwen3:8b",
		ProviderID:     "ollama",
		Variant:        VariantDynamic,
		TimeoutSeconds: 300,
		WorkflowFile:   "nightly-build-dynamic.yml",
		WorkflowRef:    "main",
		Limits: Limits{
			MaxRounds:            10,
			MaxModelCalls:        8,
			MaxConsecutiveErrors: 2,
		},
		Planner: Planner{
			MaxSteps:    8,
			MaxTokens:   2000,
			Temperature: 0.3,
		},
		Editor: Editor{
			MaxTurnsPerRound: 4,
			MaxTokens:        8096,
			Temperature:      0,
		},
		Explore: Explore{
			MaxTasks:        8,
			MaxStepsPerTask: 6,
			ResultsDir:      "exploration-results",
			BarrierSeconds:  120,
		},
		Search: Search{
			MaxResults: 20,
		},
	}
}

// Load resolves configuration: defaults, then agent.yaml at the repo
// root if present, then environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if root := os.Getenv("GITHUB_WORKSPACE"); root != "" {
		cfg.RepoRoot = root
	}

	if err := cfg.loadFile(filepath.Join(cfg.RepoRoot, ConfigFile)); err != nil {
		return nil, err
	}
	cfg.loadEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeConfigInvalid, "read "+ConfigFile, err)
	}

	fc := fileConfig{
		Limits:  c.Limits,
		Planner: c.Planner,
		Editor:  c.Editor,
		Explore: c.Explore,
		Search:  c.Search,
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "parse "+ConfigFile, err)
	}
	c.Limits = fc.Limits
	c.Planner = fc.Planner
	c.Editor = fc.Editor
	c.Explore = fc.Explore
	c.Search = fc.Search
	return nil
}

func (c *Config) loadEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.StateBranch, "ROUND_STATE_BRANCH")
	setString(&c.RepoOwner, "REPO_OWNER")
	setString(&c.RepoName, "REPO_NAME")
	setString(&c.ModelID, "AGENT_MODEL")
	setString(&c.ProviderID, "LLM_PROVIDER")
	setString(&c.WorkflowFile, "WORKFLOW_FILE")
	setString(&c.WorkflowRef, "WORKFLOW_REF")
	setString(&c.ExploreTaskID, "EXPLORE_TASK_ID")
	setString(&c.JobOutputPath, "GITHUB_OUTPUT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	if v := os.Getenv("AGENT_VARIANT"); v != "" {
		switch Variant(v) {
		case VariantSingleShot, VariantChain, VariantDynamic:
			c.Variant = Variant(v)
		}
	}
	if v := os.Getenv("AGENT_LOOP_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("ANNOUNCE_DRY_RUN"); v == "true" || v == "1" {
		c.DryRunAnnounce = true
	}
}

func (c *Config) validate() error {
	if c.Limits.MaxRounds < 1 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "max_rounds must be >= 1, got %d", c.Limits.MaxRounds)
	}
	if c.Limits.MaxModelCalls < 1 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "max_model_calls must be >= 1, got %d", c.Limits.MaxModelCalls)
	}
	if c.Limits.MaxConsecutiveErrors < 1 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "max_consecutive_errors must be >= 1, got %d", c.Limits.MaxConsecutiveErrors)
	}
	if c.Planner.MaxSteps < 1 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "planner max_steps must be >= 1, got %d", c.Planner.MaxSteps)
	}
	if c.Editor.MaxTurnsPerRound < 1 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "editor max_turns_per_round must be >= 1, got %d", c.Editor.MaxTurnsPerRound)
	}
	return nil
}
