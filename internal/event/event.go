// Package event defines the closed set of observable events that flow from
// the parser through the pipeline to the writers and control API.
package event

import "time"

// Kind discriminates the Event sum type. Consumers are expected to
// exhaustively switch on Kind; adding a variant means touching every switch.
type Kind string

const (
	KindRequest           Kind = "request"
	KindHeadersCaptured   Kind = "headers_captured"
	KindResponse          Kind = "response"
	KindError             Kind = "error"
	KindRateLimitUpdate   Kind = "rate_limit_update"
	KindApiUsage          Kind = "api_usage"
	KindToolCall          Kind = "tool_call"
	KindToolResult        Kind = "tool_result"
	KindThinkingStarted   Kind = "thinking_started"
	KindThinking          Kind = "thinking"
	KindUserPrompt        Kind = "user_prompt"
	KindAssistantResponse Kind = "assistant_response"
	KindContextCompact    Kind = "context_compact"
	KindContextRecovery   Kind = "context_recovery"
	KindTodoSnapshot      Kind = "todo_snapshot"
)

// Context is the ProcessContext every pipeline processor receives alongside
// an Event. All fields are plain values — copying a Context is always cheap,
// standing in for "reference-counted clone" in a garbage-collected language.
type Context struct {
	SessionKey  string
	Fingerprint string
	Demo        bool
}

// Event is the sealed envelope. Payload holds exactly one of the variant
// structs below, selected by Kind. Event is value-typed and safe to copy;
// large text fields are plain Go strings, which already share their backing
// array across copies and slices.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Session   string
	Payload   any
}

// --- Variant payloads ---

type Request struct {
	Method   string
	Path     string
	BodySize int
	BodyHash string
	Headers  map[string]string // pre-redacted by the proxy before the event is built
}

type HeadersCaptured struct {
	RequestID      string
	Headers        map[string]string
	KeyFingerprint string
}

type Response struct {
	RequestID        string
	Status           int
	TimeToFirstByte  time.Duration
	TotalDuration    time.Duration
}

type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetworkClient ErrorCategory = "network_client"
	ErrorCategoryNetworkUpstream ErrorCategory = "network_upstream"
	ErrorCategoryProtocol      ErrorCategory = "protocol"
	ErrorCategoryStorage       ErrorCategory = "storage"
)

type Error struct {
	RequestID string // optional, empty if not tied to a single request
	Category  ErrorCategory
	Message   string
}

type RateLimitUpdate struct {
	Remaining int
	ResetAt   time.Time
	Window    time.Duration
}

type ApiUsage struct {
	RequestID      string
	Model          string
	InputTokens    int
	OutputTokens   int
	CacheRead      int
	CacheCreation  int
}

type ToolCall struct {
	ToolID    string
	ToolName  string
	Input     map[string]any
	TurnIndex int
	// ParseError is set when the accumulated input JSON could not be parsed
	// even after repair; Input is nil in that case.
	ParseError string
}

type ToolResult struct {
	ToolID      string
	Output      map[string]any
	OutputRaw   string
	Duration    time.Duration
	Success     bool
	Rejected    bool
	Correlated  bool
}

type ThinkingStarted struct {
	BlockID string
}

type Thinking struct {
	BlockID       string
	Content       string
	TokenEstimate int
}

type UserPrompt struct {
	Content string
}

type AssistantResponse struct {
	Content string
}

type ContextCompact struct {
	PreviousTokens int
	NewTokens      int
	ReductionPct   float64
}

type ContextRecovery struct {
	TokensBefore int
	TokensAfter  int
}

type TodoItem struct {
	Content    string
	Status     string
	ActiveForm string
}

type TodoSnapshot struct {
	Items []TodoItem
}
