package redact

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/pipeline"
)

// Processor is the pipeline.Processor implementation backing the redaction
// stage. It holds the combined built-in + custom rule set and evaluates
// every content-bearing event against it, first-match-wins, exactly like
// the teacher's Engine.Evaluate — except the outcome is a content rewrite
// rather than an allow/block verdict, and every other field of the event
// (kind, session, timestamps, tool id, turn index, …) is passed through
// unchanged. This is the concrete realization of the "a redaction processor
// preserves all tag fields, mutates only content" example.
type Processor struct {
	mu             sync.RWMutex
	rules          []Rule
	customRules    []Rule
	builtinToggles map[string]bool
	rulesPath      string
}

// NewProcessor loads redaction rules from rulesPath (custom rules) merged
// with the built-in set, gated by the builtin toggle map in the file (or
// config defaults if the file doesn't specify one).
func NewProcessor(rulesPath string) (*Processor, error) {
	p := &Processor{rulesPath: rulesPath}
	if err := p.load(rulesPath); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Processor) Name() string { return "redact" }

// Process evaluates content-bearing events against the rule set. Events
// with no content field (request, response, error, rate_limit_update,
// api_usage, headers_captured, thinking_started, context_compact,
// context_recovery, todo_snapshot) pass through untouched — there is
// nothing in them to redact.
func (p *Processor) Process(_ context.Context, _ event.Context, e event.Event) (pipeline.Result, error) {
	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()

	cand, ok := candidateFor(e)
	if !ok {
		return pipeline.Result{Decision: pipeline.Continue, Event: e}, nil
	}

	for i := range rules {
		r := &rules[i]
		if !matches(r, cand) {
			continue
		}
		if r.Action == ActionAllow {
			break
		}
		return pipeline.Result{Decision: pipeline.Continue, Event: redactEvent(e, r)}, nil
	}

	return pipeline.Result{Decision: pipeline.Continue, Event: e}, nil
}

func (p *Processor) Close() error { return nil }

// Reload re-reads the rules file, called by the config watcher when
// redaction.yaml changes.
func (p *Processor) Reload() error {
	return p.load(p.rulesPath)
}

func (p *Processor) load(path string) error {
	customRules, builtinToggles, err := loadRulesFromFile(path)
	if err != nil {
		return err
	}

	defaults := defaultBuiltinToggles()
	if builtinToggles == nil {
		builtinToggles = defaults
	} else {
		for name, def := range defaults {
			if _, exists := builtinToggles[name]; !exists {
				builtinToggles[name] = def
			}
		}
	}

	for i := range customRules {
		if err := compileMatcher(&customRules[i]); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.customRules = customRules
	p.builtinToggles = builtinToggles
	p.rebuild()
	return nil
}

// rebuild merges custom rules ahead of built-ins — unlike the teacher's
// block-only engine, redaction rules support an explicit ActionAllow
// carve-out, and an operator can only use it to except specific content
// from a built-in redaction if their rule is considered first —
// caller must hold the lock.
func (p *Processor) rebuild() {
	combined := append([]Rule(nil), p.customRules...)
	for _, r := range builtinRules() {
		enabled, exists := p.builtinToggles[r.Name]
		if !exists {
			enabled = true
		}
		if !enabled {
			continue
		}
		if err := compileMatcher(&r); err != nil {
			slog.Error("failed to compile built-in redaction rule", "rule", r.Name, "error", err)
			continue
		}
		combined = append(combined, r)
	}
	p.rules = combined
}

// TotalRules reports the active rule count, surfaced by `aspy redact list`.
func (p *Processor) TotalRules() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rules)
}

// RuleInfo is the read-only view of a compiled rule exposed to operators,
// who never need the underlying matcher.
type RuleInfo struct {
	Name   string `json:"name"`
	Action Action `json:"action"`
	Custom bool   `json:"custom"`
}

// ListRules reports every active rule in evaluation order, surfaced by
// `aspy redact list`.
func (p *Processor) ListRules() []RuleInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RuleInfo, len(p.rules))
	for i, r := range p.rules {
		custom := i < len(p.customRules)
		out[i] = RuleInfo{Name: r.Name, Action: r.Action, Custom: custom}
	}
	return out
}

// candidateFor extracts the (kind, toolName, content) triple a rule
// evaluates against, for the event kinds that carry free-text content.
func candidateFor(e event.Event) (candidate, bool) {
	switch e.Kind {
	case event.KindAssistantResponse:
		v := e.Payload.(event.AssistantResponse)
		return candidate{kind: string(e.Kind), content: v.Content}, true
	case event.KindUserPrompt:
		v := e.Payload.(event.UserPrompt)
		return candidate{kind: string(e.Kind), content: v.Content}, true
	case event.KindThinking:
		v := e.Payload.(event.Thinking)
		return candidate{kind: string(e.Kind), content: v.Content}, true
	case event.KindToolResult:
		v := e.Payload.(event.ToolResult)
		return candidate{kind: string(e.Kind), content: v.OutputRaw}, true
	case event.KindToolCall:
		v := e.Payload.(event.ToolCall)
		content := ""
		if data, err := json.Marshal(v.Input); err == nil {
			content = string(data)
		}
		return candidate{kind: string(e.Kind), toolName: v.ToolName, content: content}, true
	default:
		return candidate{}, false
	}
}

// redactEvent returns a copy of e with its content field(s) rewritten by
// the firing rule. For tool_call events, every string leaf of Input is
// scanned and rewritten individually so the argument structure survives —
// marshaling the whole map to a single string and back would risk
// corrupting non-string values.
func redactEvent(e event.Event, r *Rule) event.Event {
	out := e
	switch e.Kind {
	case event.KindAssistantResponse:
		v := e.Payload.(event.AssistantResponse)
		v.Content = apply(r, v.Content)
		out.Payload = v
	case event.KindUserPrompt:
		v := e.Payload.(event.UserPrompt)
		v.Content = apply(r, v.Content)
		out.Payload = v
	case event.KindThinking:
		v := e.Payload.(event.Thinking)
		v.Content = apply(r, v.Content)
		out.Payload = v
	case event.KindToolResult:
		v := e.Payload.(event.ToolResult)
		v.OutputRaw = apply(r, v.OutputRaw)
		out.Payload = v
	case event.KindToolCall:
		v := e.Payload.(event.ToolCall)
		v.Input = redactMap(v.Input, r)
		out.Payload = v
	}
	return out
}

func redactMap(m map[string]any, r *Rule) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = redactValue(v, r)
	}
	return out
}

func redactValue(v any, r *Rule) any {
	switch t := v.(type) {
	case string:
		return apply(r, t)
	case map[string]any:
		return redactMap(t, r)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = redactValue(e, r)
		}
		return out
	default:
		return v
	}
}
