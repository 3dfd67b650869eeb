// Package joboutput writes step outputs in the GITHUB_OUTPUT file
// format so later workflow jobs can read routing decisions. Multi-line
// values use the heredoc form with a random delimiter, matching what
// the platform's own toolkit generates.
package joboutput

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Writer appends key/value outputs to a GITHUB_OUTPUT style file.
type Writer struct {
	path string
}

// New returns a writer for path. An empty path yields a writer whose
// Set calls are no-ops, which keeps local runs outside a workflow from
// failing.
func New(path string) *Writer {
	return &Writer{path: path}
}

// FromEnv builds a writer from the GITHUB_OUTPUT environment variable.
func FromEnv() *Writer {
	return New(os.Getenv("GITHUB_OUTPUT"))
}

// Set writes one output. Single-line values use key=value; values
// containing a newline use the delimited heredoc form.
func (w *Writer) Set(key, value string) error {
	if w.path == "" {
		return nil
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open job output file: %w", err)
	}
	defer f.Close()

	var line string
	if strings.Contains(value, "\n") {
		delimiter := "ghadelimiter_" + uuid.NewString()
		line = fmt.Sprintf("%s<<%s\n%s\n%s\n", key, delimiter, value, delimiter)
	} else {
		line = fmt.Sprintf("%s=%s\n", key, value)
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write job output: %w", err)
	}
	return nil
}

// SetAll writes every entry in outputs, stopping on the first failure.
func (w *Writer) SetAll(outputs map[string]string) error {
	for key, value := range outputs {
		if err := w.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}
