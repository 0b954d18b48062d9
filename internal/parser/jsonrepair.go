package parser

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// repairJSON attempts to parse possibly-incomplete or malformed JSON into a
// map, tolerating the two failure modes the pack's providers actually
// produce: a tool-input buffer cut off mid-stream (Anthropic deltas arrive
// as fragments of a single JSON document) and Python-flavored dict literals
// from GLM-family models (single-quoted strings, True/False/None).
//
// Returns (map, true) on success, (nil, false) if no strategy recovers a
// parseable document.
func repairJSON(raw string) (map[string]any, bool) {
	if raw == "" {
		return map[string]any{}, true
	}

	var direct map[string]any
	if err := json.Unmarshal([]byte(raw), &direct); err == nil {
		return direct, true
	}

	if fixed, ok := tryFixPythonDict(raw); ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(fixed), &m); err == nil {
			return m, true
		}
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err == nil {
		var m map[string]any
		if err := json.Unmarshal([]byte(repaired), &m); err == nil {
			return m, true
		}
	}

	return nil, false
}

// tryFixPythonDict converts a Python-style dict string to JSON: single
// quotes to double quotes, True/False/None to their JSON equivalents.
// Adapted from the GLM-specific fixup the teacher applies to OpenAI-shaped
// tool arguments; generalized here for use on any accumulated tool input.
func tryFixPythonDict(s string) (string, bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", false
	}

	fixed := make([]byte, 0, len(s))
	inString := false
	stringChar := byte(0)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == stringChar && (i == 0 || s[i-1] != '\\') {
				inString = false
				fixed = append(fixed, '"')
			} else if c == '"' && stringChar == '\'' {
				fixed = append(fixed, '\\', '"')
			} else {
				fixed = append(fixed, c)
			}
		} else {
			switch c {
			case '\'':
				inString = true
				stringChar = '\''
				fixed = append(fixed, '"')
			case '"':
				inString = true
				stringChar = '"'
				fixed = append(fixed, '"')
			default:
				fixed = append(fixed, c)
			}
		}
	}

	result := replacePythonKeywords(string(fixed))
	if json.Valid([]byte(result)) {
		return result, true
	}
	return "", false
}

func replacePythonKeywords(s string) string {
	replacements := []struct{ old, new string }{
		{": True", ": true"}, {": False", ": false"}, {": None", ": null"},
		{",True", ",true"}, {",False", ",false"}, {",None", ",null"},
		{"[True", "[true"}, {"[False", "[false"}, {"[None", "[null"},
	}
	for _, r := range replacements {
		for {
			idx := indexOf(s, r.old)
			if idx == -1 {
				break
			}
			s = s[:idx] + r.new + s[idx+len(r.old):]
		}
	}
	return s
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
