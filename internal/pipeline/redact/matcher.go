package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// compiledMatcher holds the pre-compiled regex for a rule, compiled once at
// load time the same way the teacher pre-compiles command/url regexes.
type compiledMatcher struct {
	contentRegex *regexp.Regexp
}

func compileMatcher(r *Rule) error {
	r.compiled = &compiledMatcher{}
	if r.Match.ContentRegex != "" {
		re, err := regexp.Compile(r.Match.ContentRegex)
		if err != nil {
			return fmt.Errorf("rule %q: invalid content_regex: %w", r.Name, err)
		}
		r.compiled.contentRegex = re
	}
	return nil
}

// candidate is what the processor hands the matcher: the event kind name,
// an optional tool name (for tool_call/tool_result events), and the
// flattened content string to scan.
type candidate struct {
	kind     string
	toolName string
	content  string
}

// matches reports whether a rule fires for this candidate. Gating fields
// (Kinds, ToolName) narrow which events a rule even considers; content
// fields (ContentRegex, ContentContains) decide whether the fields that got
// through actually contain something worth acting on.
func matches(r *Rule, c candidate) bool {
	m := r.Match

	if len(m.Kinds) > 0 && !containsFold(m.Kinds, c.kind) {
		return false
	}
	if len(m.ToolName) > 0 {
		if c.toolName == "" || !containsFold(m.ToolName, c.toolName) {
			return false
		}
	}

	hasContentCondition := m.ContentRegex != "" || len(m.ContentContains) > 0
	if !hasContentCondition {
		// A rule with only gating fields fires for every matching event,
		// e.g. "redact every thinking block" with no content condition.
		return true
	}

	if r.compiled != nil && r.compiled.contentRegex != nil {
		if r.compiled.contentRegex.MatchString(c.content) {
			return true
		}
	}
	if len(m.ContentContains) > 0 {
		lower := strings.ToLower(c.content)
		for _, s := range m.ContentContains {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
	}
	return false
}

// apply produces the redacted content for a firing rule. Regex matches are
// replaced span-by-span so unrelated text survives; a substring-only match
// has no span to target, so the whole content field is replaced.
func apply(r *Rule, content string) string {
	replacement := r.Replacement
	if replacement == "" {
		replacement = "[REDACTED]"
	}

	if r.compiled != nil && r.compiled.contentRegex != nil && r.compiled.contentRegex.MatchString(content) {
		return r.compiled.contentRegex.ReplaceAllString(content, replacement)
	}
	return replacement
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
