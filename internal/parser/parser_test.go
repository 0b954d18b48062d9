package parser

import (
	"testing"

	"github.com/aspy-proxy/aspy/internal/event"
)

func TestStreamParser_AnthropicTextAcrossChunks(t *testing.T) {
	p := NewStreamParser("req-1", FormatAnthropic)

	frames := []string{
		"event: message_start\ndata: {\"message\":{\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":12}}}\n\n",
		"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n",
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel",
		"lo\"}}\n\n",
		"event: content_block_stop\ndata: {\"index\":0}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}

	var all []event.Event
	for _, f := range frames {
		all = append(all, p.Feed([]byte(f))...)
	}

	if !p.Done() {
		t.Fatal("expected Done() after message_stop")
	}

	var gotUsage, gotResponse bool
	for _, e := range all {
		switch e.Kind {
		case event.KindApiUsage:
			gotUsage = true
		case event.KindAssistantResponse:
			gotResponse = true
			resp := e.Payload.(event.AssistantResponse)
			if resp.Content != "Hello" {
				t.Errorf("expected assembled text %q, got %q", "Hello", resp.Content)
			}
		}
	}
	if !gotUsage {
		t.Error("expected an api_usage event from message_start")
	}
	if !gotResponse {
		t.Error("expected an assistant_response event from message_stop")
	}
}

func TestStreamParser_AnthropicToolUse(t *testing.T) {
	p := NewStreamParser("req-2", FormatAnthropic)

	frames := []string{
		"event: content_block_start\ndata: {\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"bash\"}}\n\n",
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"command\\\":\"}}\n\n",
		"event: content_block_delta\ndata: {\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"ls\\\"}\"}}\n\n",
		"event: content_block_stop\ndata: {\"index\":0}\n\n",
	}

	var all []event.Event
	for _, f := range frames {
		all = append(all, p.Feed([]byte(f))...)
	}

	if len(all) != 1 || all[0].Kind != event.KindToolCall {
		t.Fatalf("expected exactly one tool_call event, got %+v", all)
	}
	tc := all[0].Payload.(event.ToolCall)
	if tc.ToolID != "toolu_1" || tc.ToolName != "bash" {
		t.Errorf("unexpected tool call identity: %+v", tc)
	}
	if tc.Input["command"] != "ls" {
		t.Errorf("expected command=ls, got %+v", tc.Input)
	}
}

func TestStreamParser_OpenAIToolCallAcrossChunks(t *testing.T) {
	p := NewStreamParser("req-3", FormatOpenAI)

	frames := []string{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"bash\",\"arguments\":\"{\\\"cmd\\\":\"}}]}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"\\\"ls\\\"}\"}}]}}]}\n\n",
		"data: [DONE]\n\n",
	}

	var all []event.Event
	for _, f := range frames {
		all = append(all, p.Feed([]byte(f))...)
	}

	var found bool
	for _, e := range all {
		if e.Kind == event.KindToolCall {
			found = true
			tc := e.Payload.(event.ToolCall)
			if tc.ToolID != "call_1" || tc.ToolName != "bash" {
				t.Errorf("unexpected tool call identity: %+v", tc)
			}
			if tc.Input["cmd"] != "ls" {
				t.Errorf("expected cmd=ls, got %+v", tc.Input)
			}
		}
	}
	if !found {
		t.Error("expected a tool_call event after [DONE]")
	}
}

func TestCorrelator_RegisterAndMatch(t *testing.T) {
	c := NewCorrelator(0)
	c.Register("session-1", event.ToolCall{ToolID: "toolu_1", ToolName: "bash"})

	call, ok := c.Match("toolu_1")
	if !ok {
		t.Fatal("expected match")
	}
	if call.ToolName != "bash" {
		t.Errorf("unexpected matched call: %+v", call)
	}

	if _, ok := c.Match("toolu_1"); ok {
		t.Error("expected second match to miss: call should be removed after first match")
	}
}

func TestCorrelator_SweepEvictsExpired(t *testing.T) {
	c := NewCorrelator(0) // zero TTL: everything is immediately eligible
	c.Register("session-1", event.ToolCall{ToolID: "toolu_1"})

	evicted := c.Sweep()
	if len(evicted) != 1 || evicted[0].ToolID != "toolu_1" {
		t.Fatalf("expected toolu_1 to be evicted, got %+v", evicted)
	}
	if c.Pending() != 0 {
		t.Errorf("expected 0 pending after sweep, got %d", c.Pending())
	}
}

func TestExtractRequestMeta_AnthropicPrompt(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4",
		"stream": true,
		"messages": [
			{"role":"user","content":"first"},
			{"role":"assistant","content":"reply"},
			{"role":"user","content":[{"type":"text","text":"second"}]}
		]
	}`)

	meta := ExtractRequestMeta(body, FormatAnthropic)
	if meta.Model != "claude-sonnet-4" {
		t.Errorf("expected model claude-sonnet-4, got %q", meta.Model)
	}
	if !meta.Stream {
		t.Error("expected stream=true")
	}
	if meta.Prompt != "second" {
		t.Errorf("expected latest user prompt 'second', got %q", meta.Prompt)
	}
}

func TestExtractToolResults_Anthropic(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"ok","is_error":false}]}
		]
	}`)

	results := ExtractToolResults(body, FormatAnthropic)
	if len(results) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(results))
	}
	if results[0].ToolID != "toolu_1" || results[0].OutputRaw != "ok" {
		t.Errorf("unexpected tool result: %+v", results[0])
	}
}

func TestCompactionTracker_DetectsDropAndRecovery(t *testing.T) {
	tr := NewCompactionTracker()

	if c, r := tr.Observe("s1", 1000, "", 10); c != nil || r != nil {
		t.Fatalf("first observation must not fire, got compact=%v recovery=%v", c, r)
	}
	if c, r := tr.Observe("s1", 950, "", 10); c != nil || r != nil {
		t.Fatalf("5%% drop below a 10%% threshold must not fire, got compact=%v recovery=%v", c, r)
	}

	c, r := tr.Observe("s1", 200, "", 10)
	if c == nil || r != nil {
		t.Fatalf("expected a compaction event, got compact=%v recovery=%v", c, r)
	}
	if c.PreviousTokens != 950 || c.NewTokens != 200 {
		t.Errorf("unexpected compact payload: %+v", c)
	}

	if c, r := tr.Observe("s1", 500, "", 10); c != nil || r != nil {
		t.Fatalf("still below the pre-compaction peak, must not fire again, got compact=%v recovery=%v", c, r)
	}

	c, r = tr.Observe("s1", 1000, "", 10)
	if r == nil || c != nil {
		t.Fatalf("expected a recovery event once usage passes the pre-compaction peak, got compact=%v recovery=%v", c, r)
	}
}

func TestCompactionTracker_MarkerPhraseForcesCompaction(t *testing.T) {
	tr := NewCompactionTracker()
	tr.Observe("s2", 1000, "", 10)

	c, _ := tr.Observe("s2", 1100, "This session is being continued from a previous conversation", 10)
	if c == nil {
		t.Fatal("expected the marker phrase to force a compaction event despite rising token count")
	}
}

func TestDetectTodoSnapshot(t *testing.T) {
	call := event.ToolCall{
		ToolName: "TodoWrite",
		Input: map[string]any{
			"todos": []any{
				map[string]any{"content": "write tests", "status": "in_progress", "activeForm": "Writing tests"},
				map[string]any{"content": "ship it", "status": "pending", "activeForm": "Shipping it"},
			},
		},
	}
	snap, ok := DetectTodoSnapshot(call)
	if !ok {
		t.Fatal("expected TodoWrite to be detected as a todo snapshot")
	}
	if len(snap.Items) != 2 || snap.Items[0].Status != "in_progress" || snap.Items[1].Content != "ship it" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if _, ok := DetectTodoSnapshot(event.ToolCall{ToolName: "Bash"}); ok {
		t.Error("expected a non-todo tool call to be rejected")
	}
}
