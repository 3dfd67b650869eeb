package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of free-form model text. It
// strips a wrapping markdown fence, tries a direct decode, then falls
// back to scanning for outermost balanced brace regions.
func ExtractJSON(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = text[3:]
		}
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return []byte(text), nil
	}

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
				if json.Valid([]byte(candidate)) {
					return []byte(candidate), nil
				}
				start = -1
			}
		}
	}

	return nil, fmt.Errorf("no JSON object in output: %s", truncate(raw, 200))
}
