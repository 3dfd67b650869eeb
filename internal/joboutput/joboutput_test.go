package joboutput

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestSetSingleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	w := New(path)

	if err := w.Set("next_phase", "edit"); err != nil {
		t.Fatal(err)
	}
	if err := w.Set("round", "3"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "next_phase=edit\nround=3\n" {
		t.Errorf("unexpected file content %q", data)
	}
}

func TestSetMultiLineUsesDelimiter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	w := New(path)

	value := "line one\nline two"
	if err := w.Set("plan", value); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	re := regexp.MustCompile(`^plan<<(ghadelimiter_[0-9a-f-]+)\n`)
	m := re.FindStringSubmatch(content)
	if m == nil {
		t.Fatalf("expected heredoc form, got %q", content)
	}
	delimiter := m[1]
	if !strings.Contains(content, value+"\n"+delimiter+"\n") {
		t.Errorf("value and closing delimiter missing: %q", content)
	}
}

func TestEmptyPathIsNoop(t *testing.T) {
	w := New("")
	if err := w.Set("key", "value"); err != nil {
		t.Errorf("empty path should be a no-op, got %v", err)
	}
}
