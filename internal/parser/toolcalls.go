package parser

import (
	"context"
	"sync"
	"time"

	"github.com/aspy-proxy/aspy/internal/event"
)

// pendingCall is a tool_use/tool_calls observation waiting to be matched
// against the tool_result that a later request in the same session will
// carry. Correlation is cross-request by nature: the call arrives in one
// response body, the result arrives in the next request body.
type pendingCall struct {
	call       event.ToolCall
	sessionKey string
	insertedAt time.Time
}

// Correlator is the parser-local, single-owner registry of in-flight tool
// calls. "Single-owner" means exactly one goroutine (the session's event
// loop) calls into it for a given session key; callers across sessions are
// safe to interleave thanks to the mutex, but the design does not expect or
// support a single tool_id being registered concurrently by two sessions.
type Correlator struct {
	mu    sync.Mutex
	calls map[string]pendingCall
	ttl   time.Duration
}

// NewCorrelator builds a Correlator with the given eviction TTL, sourced
// from config.toml's parser.tool_call_ttl_secs (resolves Open Question #3).
func NewCorrelator(ttl time.Duration) *Correlator {
	return &Correlator{calls: make(map[string]pendingCall), ttl: ttl}
}

// Register records a tool call as awaiting its result. If the call has no
// ToolID (some providers omit it under odd circumstances), the caller is
// expected to have already assigned one via AssignFallbackID.
func (c *Correlator) Register(sessionKey string, call event.ToolCall) {
	if call.ToolID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[call.ToolID] = pendingCall{call: call, sessionKey: sessionKey, insertedAt: Now()}
}

// Match looks up the pending call for a tool_result's ToolID and, if found,
// removes it from the pending set and marks the result as Correlated. A
// miss (already evicted by TTL, or a result for a call this process never
// observed) leaves ToolResult.Correlated false — the caller still records
// the result, just without the paired call context.
func (c *Correlator) Match(toolID string) (event.ToolCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.calls[toolID]
	if !ok {
		return event.ToolCall{}, false
	}
	delete(c.calls, toolID)
	return p.call, true
}

// Sweep evicts pending calls older than the configured TTL and returns the
// tool calls that aged out unmatched, so the caller can emit a ToolResult
// event with Correlated=false and Success=false to record the timeout.
func (c *Correlator) Sweep() []event.ToolCall {
	cutoff := Now().Add(-c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []event.ToolCall
	for id, p := range c.calls {
		if p.insertedAt.Before(cutoff) {
			evicted = append(evicted, p.call)
			delete(c.calls, id)
		}
	}
	return evicted
}

// Pending reports the number of tool calls currently awaiting a result,
// exposed to the control API's stats endpoint.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// RunSweeper starts a ticker-driven background sweep and calls onEvicted
// for each batch of timed-out calls, until ctx is canceled. Intended to be
// started once per process against a single shared Correlator.
func (c *Correlator) RunSweeper(ctx context.Context, interval time.Duration, onEvicted func([]event.ToolCall)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.Sweep(); len(evicted) > 0 && onEvicted != nil {
				onEvicted(evicted)
			}
		}
	}
}
