package redact

// builtinRules returns the built-in redaction rules, always loaded and
// individually toggleable via the "builtin" section of redaction.yaml —
// the same toggle-map convention the teacher uses for its guardrail rules,
// just retargeted from "block this tool call" to "mask this content".
func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "redact_aws_access_key",
			Match:       RuleMatch{ContentRegex: `AKIA[0-9A-Z]{16}`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_AWS_KEY]",
			Builtin:     true,
		},
		{
			Name:        "redact_private_key_block",
			Match:       RuleMatch{ContentRegex: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_PRIVATE_KEY]",
			Builtin:     true,
		},
		{
			Name:        "redact_bearer_token",
			Match:       RuleMatch{ContentRegex: `(?i)bearer\s+[a-z0-9._-]{16,}`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_BEARER_TOKEN]",
			Builtin:     true,
		},
		{
			Name:        "redact_anthropic_key",
			Match:       RuleMatch{ContentRegex: `sk-ant-[a-zA-Z0-9_-]{20,}`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_API_KEY]",
			Builtin:     true,
		},
		{
			Name:        "redact_openai_key",
			Match:       RuleMatch{ContentRegex: `sk-[a-zA-Z0-9]{32,}`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_API_KEY]",
			Builtin:     true,
		},
		{
			Name:        "redact_generic_jwt",
			Match:       RuleMatch{ContentRegex: `eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`},
			Action:      ActionRedact,
			Replacement: "[REDACTED_JWT]",
			Builtin:     true,
		},
		{
			Name:        "redact_ssh_private_key_path_content",
			Match:       RuleMatch{ToolName: stringOrList{"exec", "read"}, ContentContains: stringOrList{".ssh/id_rsa", ".ssh/id_ed25519"}},
			Action:      ActionRedact,
			Replacement: "[REDACTED_SSH_KEY_PATH]",
			Builtin:     true,
		},
	}
}

// defaultBuiltinToggles returns the default enable state for each built-in
// redaction rule. All secret-pattern rules default on; the path-content
// rule defaults off since it redacts the whole field rather than a span.
func defaultBuiltinToggles() map[string]bool {
	return map[string]bool{
		"redact_aws_access_key":               true,
		"redact_private_key_block":            true,
		"redact_bearer_token":                 true,
		"redact_anthropic_key":                true,
		"redact_openai_key":                   true,
		"redact_generic_jwt":                  true,
		"redact_ssh_private_key_path_content": false,
	}
}
