package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/trevorstenson/crowd-agent/internal/errors"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelWarn,
		Format: FormatText,
		Output: NewOutput(&buf),
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below WARN should be suppressed, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("WARN and ERROR should be logged, got: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})

	logger.Info("round complete", "round", 3, "phase", "edit")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["msg"] != "round complete" {
		t.Errorf("expected msg 'round complete', got %v", entry["msg"])
	}
	if entry["phase"] != "edit" {
		t.Errorf("expected phase 'edit', got %v", entry["phase"])
	}
}

func TestWithErrorAddsCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})

	err := errors.New(errors.ErrCodeCheckpointNotFound, "no checkpoint")
	logger.WithError(err).Error("route failed")

	var entry map[string]any
	if jsonErr := json.Unmarshal(buf.Bytes(), &entry); jsonErr != nil {
		t.Fatalf("output is not valid JSON: %v", jsonErr)
	}
	if entry["error_code"] != "CHECKPOINT-001" {
		t.Errorf("expected error_code CHECKPOINT-001, got %v", entry["error_code"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"text":    FormatText,
		"console": FormatText,
		"JSON":    FormatJSON,
		"":        FormatJSON,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDefaultLoggerLazyFallback(t *testing.T) {
	SetDefaultLogger(nil)
	if DefaultLogger() == nil {
		t.Fatal("expected a lazily initialized fallback logger")
	}

	configured := New(DefaultConfig())
	SetDefaultLogger(configured)
	if DefaultLogger() != configured {
		t.Error("expected the configured logger to win")
	}
}
