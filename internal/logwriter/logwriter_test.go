package logwriter

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/aspy-proxy/aspy/internal/event"
)

func TestWriter_AppendsOneLinePerEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.Send("sess-1", event.Event{Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "hi"}})
	w.Send("sess-1", event.Event{Kind: event.KindAssistantResponse, Payload: event.AssistantResponse{Content: "hello"}})

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "sess-1.jsonl"))
	if err != nil {
		t.Fatalf("opening session file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestWriter_SeparateFilesPerSession(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w.Send("sess-a", event.Event{Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "a"}})
	w.Send("sess-b", event.Event{Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "b"}})

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, name := range []string{"sess-a.jsonl", "sess-b.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}
