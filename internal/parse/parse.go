// Package parse recovers structured tool commands from free-form model
// text. Small models routinely wrap the command object in markdown
// fences, append commentary, or emit literal newlines inside string
// values, so parsing cascades through an ordered list of strategies
// and takes the first success. A text that no strategy can recover a
// command from yields nil, which is a valid outcome, not an error.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Command is a single tool invocation extracted from model output.
type Command struct {
	Tool string
	Args map[string]any
}

// StringArg returns the named argument as a string, or "" when absent
// or not a string.
func (c *Command) StringArg(key string) string {
	if c == nil || c.Args == nil {
		return ""
	}
	s, _ := c.Args[key].(string)
	return s
}

// Strategy attempts to recover a command from text, returning nil on
// miss. Strategies must be pure.
type Strategy struct {
	Name string
	Fn   func(text string) *Command
}

// Parser applies strategies in order and returns the first hit.
type Parser struct {
	strategies []Strategy
}

// New returns a parser with the default strategy cascade:
// direct decode, newline-escape retry, balanced-brace extraction,
// and per-tool pattern extraction. Fence stripping happens before the
// cascade runs.
func New() *Parser {
	return &Parser{strategies: []Strategy{
		{Name: "direct", Fn: decodeDirect},
		{Name: "escape_newlines", Fn: decodeEscaped},
		{Name: "brace_scan", Fn: decodeBraceRegion},
		{Name: "tool_pattern", Fn: extractByToolPattern},
	}}
}

// Parse returns the first command any strategy recovers, or nil when
// the text contains no recoverable command.
func (p *Parser) Parse(text string) *Command {
	cmd, _ := p.ParseWithStrategy(text)
	return cmd
}

// ParseWithStrategy additionally reports the name of the strategy that
// produced the command, for instrumentation. The name is "" on miss.
func (p *Parser) ParseWithStrategy(text string) (*Command, string) {
	text = stripFence(strings.TrimSpace(text))
	for _, s := range p.strategies {
		if cmd := s.Fn(text); cmd != nil {
			return cmd, s.Name
		}
	}
	return nil, ""
}

// stripFence removes a markdown code fence when the whole text is
// wrapped in one, including an optional language tag on the first line.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	} else {
		text = text[3:]
	}
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// decode parses text as a JSON object with a "tool" string and an
// "args" object, normalizing the legacy "file" key to "path".
func decode(text string) *Command {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil
	}
	tool, ok := obj["tool"].(string)
	if !ok || tool == "" {
		return nil
	}
	args, ok := obj["args"].(map[string]any)
	if !ok {
		return nil
	}
	if v, present := args["file"]; present {
		if _, hasPath := args["path"]; !hasPath {
			args["path"] = v
		}
		delete(args, "file")
	}
	return &Command{Tool: tool, Args: args}
}

func decodeDirect(text string) *Command {
	return decode(text)
}

// decodeEscaped retries the decode after escaping literal line breaks.
// The model is instructed to emit a single-line object, so any raw
// newline must be inside a string value.
func decodeEscaped(text string) *Command {
	fixed := strings.ReplaceAll(text, "\r\n", `\n`)
	fixed = strings.ReplaceAll(fixed, "\n", `\n`)
	return decode(fixed)
}

// decodeBraceRegion scans for outermost balanced {...} regions that
// contain the token "tool" and retries the decode against each,
// handling commentary before or after the object.
func decodeBraceRegion(text string) *Command {
	depth, start := 0, -1
	for i, c := range text {
		switch c {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				candidate := text[start : i+1]
				if strings.Contains(candidate, `"tool"`) {
					if cmd := decode(candidate); cmd != nil {
						return cmd
					}
					if cmd := decodeEscaped(candidate); cmd != nil {
						return cmd
					}
				}
				start = -1
			}
		}
	}
	return nil
}

var (
	toolNameRe   = regexp.MustCompile(`"tool"\s*:\s*"(\w+)"`)
	pathRe       = regexp.MustCompile(`"(?:path|file)"\s*:\s*"([^"]+)"`)
	contentRe    = regexp.MustCompile(`"content"\s*:\s*"`)
	closeRe      = regexp.MustCompile(`"\s*\}\s*\}\s*$`)
	directoryRe  = regexp.MustCompile(`"directory"\s*:\s*"([^"]*)"`)
	patternRe    = regexp.MustCompile(`"pattern"\s*:\s*"([^"]+)"`)
	oldStringRe  = regexp.MustCompile(`"old_string"\s*:\s*"((?:\\.|[^"\\])*)"`)
	newStringRe  = regexp.MustCompile(`"new_string"\s*:\s*"((?:\\.|[^"\\])*)"`)
	toolPatterns = map[string]func(text string) map[string]any{
		"read_file":    extractReadFile,
		"write_file":   extractWriteFile,
		"edit_file":    extractEditFile,
		"list_files":   extractListFiles,
		"search_files": extractSearchFiles,
	}
)

// extractByToolPattern pulls out just the fields a known tool needs,
// for responses whose JSON is broken beyond repair (typically
// unescaped quotes inside write_file content).
func extractByToolPattern(text string) *Command {
	m := toolNameRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	extract, ok := toolPatterns[m[1]]
	if !ok {
		return nil
	}
	args := extract(text)
	if args == nil {
		return nil
	}
	return &Command{Tool: m[1], Args: args}
}

func extractReadFile(text string) map[string]any {
	m := pathRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return map[string]any{"path": m[1]}
}

func extractWriteFile(text string) map[string]any {
	pm := pathRe.FindStringSubmatch(text)
	cs := contentRe.FindStringIndex(text)
	end := closeRe.FindStringIndex(strings.TrimRight(text, " \t\n"))
	if pm == nil || cs == nil || end == nil || end[0] <= cs[1] {
		return nil
	}
	body := text[cs[1]:end[0]]
	return map[string]any{"path": pm[1], "content": unescape(body)}
}

func extractEditFile(text string) map[string]any {
	pm := pathRe.FindStringSubmatch(text)
	om := oldStringRe.FindStringSubmatch(text)
	nm := newStringRe.FindStringSubmatch(text)
	if pm == nil || om == nil || nm == nil {
		return nil
	}
	return map[string]any{
		"path":       pm[1],
		"old_string": unescape(om[1]),
		"new_string": unescape(nm[1]),
	}
}

func extractListFiles(text string) map[string]any {
	if m := directoryRe.FindStringSubmatch(text); m != nil {
		return map[string]any{"directory": m[1]}
	}
	return map[string]any{"directory": "."}
}

func extractSearchFiles(text string) map[string]any {
	m := patternRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return map[string]any{"pattern": m[1]}
}

// unescape reverses the escapes the model did apply inside a string
// value that otherwise failed to decode.
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\t`, "\t")
	return s
}
