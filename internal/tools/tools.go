// Package tools implements the file operations the model can invoke
// during an edit loop. Every operation returns a textual result, never
// an error: failures are phrased so the model's next turn can see what
// went wrong and react. Paths are confined to the executor's root.
package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Context tracks the files an edit loop has modified. It replaces any
// shared mutable state: each invocation builds its own Context and
// merges the result into the checkpoint afterwards.
type Context struct {
	changed map[string]struct{}
}

func NewContext() *Context {
	return &Context{changed: make(map[string]struct{})}
}

// Record notes that path was mutated.
func (c *Context) Record(path string) {
	c.changed[path] = struct{}{}
}

// ModifiedPaths returns the changed paths in sorted order.
func (c *Context) ModifiedPaths() []string {
	paths := make([]string, 0, len(c.changed))
	for p := range c.changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Executor runs tool commands against a repository root.
type Executor struct {
	root             string
	maxSearchResults int
	skipDirs         map[string]bool
	skipExts         map[string]bool
}

const defaultMaxSearchResults = 20

func NewExecutor(root string) *Executor {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	return &Executor{
		root:             abs,
		maxSearchResults: defaultMaxSearchResults,
		skipDirs: map[string]bool{
			".git": true, "__pycache__": true, ".venv": true,
			"node_modules": true, ".pytest_cache": true, ".github": true,
			"vendor": true,
		},
		skipExts: map[string]bool{
			".pyc": true, ".o": true, ".so": true, ".bin": true,
			".jpg": true, ".png": true, ".gif": true, ".pdf": true,
			".class": true, ".exe": true,
		},
	}
}

// SetMaxSearchResults overrides the default search result cap.
func (e *Executor) SetMaxSearchResults(n int) {
	if n > 0 {
		e.maxSearchResults = n
	}
}

// Root returns the repository root the executor is confined to.
func (e *Executor) Root() string { return e.root }

// Execute dispatches a named tool with its arguments, recording any
// file mutation in ctx. Unknown tools and missing arguments come back
// as textual errors like every other failure.
func (e *Executor) Execute(ctx *Context, tool string, args map[string]any) string {
	switch tool {
	case "read_file":
		path := stringArg(args, "path")
		if path == "" {
			return "Error: Missing required parameters: path"
		}
		return e.ReadFile(path)
	case "write_file":
		path := stringArg(args, "path")
		content, hasContent := args["content"].(string)
		if path == "" || !hasContent {
			return "Error: Missing required parameters: content, path"
		}
		return e.WriteFile(ctx, path, content)
	case "edit_file":
		path := stringArg(args, "path")
		oldStr, hasOld := args["old_string"].(string)
		newStr, hasNew := args["new_string"].(string)
		if path == "" || !hasOld || !hasNew {
			return "Error: Missing required parameters: new_string, old_string, path"
		}
		return e.EditFile(ctx, path, oldStr, newStr)
	case "list_files":
		dir := stringArg(args, "directory")
		if dir == "" {
			dir = "."
		}
		return e.ListFiles(dir)
	case "search_files":
		pattern := stringArg(args, "pattern")
		if pattern == "" {
			return "Error: Missing required parameters: pattern"
		}
		return e.SearchFiles(pattern, boolArg(args, "case_sensitive"), intArg(args, "max_results", e.maxSearchResults))
	default:
		return fmt.Sprintf("Error: Unknown tool: %s", tool)
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}

// resolve joins path onto the root and rejects anything that escapes it.
func (e *Executor) resolve(path string) (string, error) {
	full := filepath.Clean(filepath.Join(e.root, path))
	if full != e.root && !strings.HasPrefix(full, e.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	return full, nil
}

func (e *Executor) ReadFile(path string) string {
	full, err := e.resolve(path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return fmt.Sprintf("Error: File not found: %s", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	return string(data)
}

func (e *Executor) WriteFile(ctx *Context, path, content string) string {
	full, err := e.resolve(path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	ctx.Record(path)
	return fmt.Sprintf("Successfully wrote %s", path)
}

func (e *Executor) EditFile(ctx *Context, path, oldString, newString string) string {
	if path == "" {
		return "Error: File path cannot be empty"
	}
	if oldString == "" {
		return "Error: old_string cannot be empty"
	}
	full, err := e.resolve(path)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return fmt.Sprintf("Error: File not found: %s", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err)
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return fmt.Sprintf("Error: Substring not found in %s. The exact string to replace was not found.", path)
	}
	if count > 1 {
		return fmt.Sprintf("Error: Found %d occurrences of the substring in %s. Please provide more context to make the match unique.", count, path)
	}

	updated := strings.Replace(content, oldString, newString, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err)
	}
	ctx.Record(path)
	return fmt.Sprintf("Successfully edited %s: replaced 1 occurrence", path)
}

func (e *Executor) ListFiles(directory string) string {
	full, err := e.resolve(directory)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return fmt.Sprintf("Error: Directory not found: %s", directory)
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Sprintf("Error listing directory: %v", err)
	}
	if len(entries) == 0 {
		return "(empty directory)"
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

type searchMatch struct {
	File    string `json:"file"`
	LineNum int    `json:"line_num"`
	Snippet string `json:"snippet"`
}

type searchResult struct {
	Error            string        `json:"error,omitempty"`
	Matches          []searchMatch `json:"matches"`
	TotalMatches     int           `json:"total_matches"`
	SearchPattern    string        `json:"search_pattern,omitempty"`
	CaseSensitive    bool          `json:"case_sensitive,omitempty"`
	MaxResults       int           `json:"max_results,omitempty"`
	ResultsTruncated bool          `json:"results_truncated,omitempty"`
}

// SearchFiles walks the repository matching pattern line by line,
// skipping binary extensions and housekeeping directories. The result
// is a JSON document so the model gets structured matches plus the
// truncation flag.
func (e *Executor) SearchFiles(pattern string, caseSensitive bool, maxResults int) string {
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return marshalSearch(searchResult{
			Error:   fmt.Sprintf("Invalid regex pattern: %v", err),
			Matches: []searchMatch{},
		})
	}
	if maxResults <= 0 {
		maxResults = e.maxSearchResults
	}

	result := searchResult{
		Matches:       []searchMatch{},
		SearchPattern: pattern,
		CaseSensitive: caseSensitive,
		MaxResults:    maxResults,
	}

	filepath.WalkDir(e.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if e.skipDirs[d.Name()] && path != e.root {
				return filepath.SkipDir
			}
			return nil
		}
		if e.skipExts[filepath.Ext(d.Name())] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(e.root, path)
		if err != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				result.TotalMatches++
				if len(result.Matches) < maxResults {
					result.Matches = append(result.Matches, searchMatch{
						File:    rel,
						LineNum: i + 1,
						Snippet: strings.TrimRight(line, " \t\r"),
					})
				}
			}
		}
		return nil
	})

	result.ResultsTruncated = result.TotalMatches > maxResults
	return marshalSearch(result)
}

func marshalSearch(r searchResult) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("Error: Search failed: %v", err)
	}
	return string(data)
}
