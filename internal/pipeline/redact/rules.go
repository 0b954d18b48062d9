// Package redact is the pipeline's redaction processor: a Transform stage
// that scrubs sensitive substrings out of event content while leaving every
// other field untouched. It is built directly on the teacher's guardrail
// rule engine (match a tool call against a rule set, first match wins) but
// repurposed from blocking to masking — Aspy never drops or denies an
// upstream call, it only redacts what it writes down.
package redact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Action is what a matching rule does to the content it matched.
type Action string

const (
	// ActionRedact replaces every regex/substring match within the content
	// with Rule.Replacement (default "[REDACTED]").
	ActionRedact Action = "redact"
	// ActionAllow short-circuits evaluation: later rules are skipped and
	// the content passes through unchanged. Useful for carving out an
	// exception ahead of a broader redact rule.
	ActionAllow Action = "allow"
)

// Rule is one redaction rule, loaded from redaction.yaml.
type Rule struct {
	Name        string       `yaml:"name"`
	Match       RuleMatch    `yaml:"match"`
	Action      Action       `yaml:"action"`
	Replacement string       `yaml:"replacement"`
	Builtin     bool         `yaml:"-"`
	compiled    *compiledMatcher
}

// RuleMatch gates which events a rule considers and what inside them must
// be present for the rule to fire. All non-empty fields are AND'd; list
// fields are OR'd internally, mirroring the teacher's rule grammar.
type RuleMatch struct {
	// Kinds restricts the rule to specific event.Kind values (by string
	// name, e.g. "tool_call", "assistant_response"). Empty matches every
	// content-bearing event kind.
	Kinds stringOrList `yaml:"kinds"`
	// ToolName restricts a rule to tool_call/tool_result events for
	// specific tool names (case-insensitive), same convention as the
	// teacher's Match.Tool.
	ToolName stringOrList `yaml:"tool_name"`
	// ContentRegex matches anywhere in the flattened content string; every
	// match is replaced individually, preserving surrounding text.
	ContentRegex string `yaml:"content_regex"`
	// ContentContains is a case-insensitive substring OR-list; presence of
	// any one fires the rule, redacting the whole content field (there is
	// no sub-span to target without a regex).
	ContentContains stringOrList `yaml:"content_contains"`
}

// stringOrList handles YAML fields that can be either a single string or a
// list of strings, e.g. `kinds: tool_call` or `kinds: [tool_call, thinking]`.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

type rulesFile struct {
	Rules   []Rule          `yaml:"rules"`
	Builtin map[string]bool `yaml:"builtin"`
}

// loadRulesFromFile reads custom rules from the given YAML path. A missing
// file is not an error — it yields an empty custom rule set, same as the
// teacher's loadRulesFromFile.
func loadRulesFromFile(path string) ([]Rule, map[string]bool, error) {
	if path == "" {
		return nil, nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading redaction rules %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil, nil
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing redaction rules %s: %w", path, err)
	}
	return file.Rules, file.Builtin, nil
}

// WriteDefaultRules writes a fresh redaction.yaml with every built-in rule
// enabled, for first-run setup.
func WriteDefaultRules(path string) error {
	file := rulesFile{Builtin: defaultBuiltinToggles()}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling default redaction rules: %w", err)
	}
	header := "# Aspy redaction rules. See SPEC_FULL.md section 4.D for the rule schema.\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}
