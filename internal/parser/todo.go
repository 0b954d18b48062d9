package parser

import (
	"strings"

	"github.com/aspy-proxy/aspy/internal/event"
)

// todoWriteToolNames are the tool names recognized as a todo-list write,
// matched case-insensitively against event.ToolCall.ToolName.
var todoWriteToolNames = map[string]bool{
	"todowrite":  true,
	"todo_write": true,
	"todo-write": true,
}

// DetectTodoSnapshot reports whether call is a todo-list write and, if so,
// builds the TodoSnapshot event from its "todos" input array. A call whose
// input does not parse into the expected shape (unparseable input, wrong
// tool, missing field) is reported as not a snapshot rather than a partial
// one — downstream consumers never see a TodoSnapshot with items silently
// missing.
func DetectTodoSnapshot(call event.ToolCall) (event.TodoSnapshot, bool) {
	if !todoWriteToolNames[strings.ToLower(call.ToolName)] {
		return event.TodoSnapshot{}, false
	}
	if call.Input == nil {
		return event.TodoSnapshot{}, false
	}
	raw, ok := call.Input["todos"]
	if !ok {
		return event.TodoSnapshot{}, false
	}
	list, ok := raw.([]any)
	if !ok {
		return event.TodoSnapshot{}, false
	}

	var snap event.TodoSnapshot
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		snap.Items = append(snap.Items, event.TodoItem{
			Content:    stringField(m, "content"),
			Status:     stringField(m, "status"),
			ActiveForm: stringField(m, "activeForm"),
		})
	}
	return snap, true
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
