package memwriter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aspy-proxy/aspy/internal/event"
	"github.com/aspy-proxy/aspy/internal/memstore"
	"github.com/aspy-proxy/aspy/internal/pricing"
)

func openTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	s, err := memstore.Open(filepath.Join(t.TempDir(), "aspy.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	store := openTestStore(t)
	w := New(store, pricing.DefaultTable(), 100, 2, time.Hour, 0)
	defer w.Close()

	w.Send(Job{SessionKey: "sess-1", Event: event.Event{
		Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "hi"},
	}})
	w.Send(Job{SessionKey: "sess-1", Event: event.Event{
		Kind: event.KindAssistantResponse, Payload: event.AssistantResponse{Content: "hello"},
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hits, err := store.SearchAssistantResponses("hello", memstore.ModeNatural, 10)
		if err == nil && len(hits) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected batch to flush within deadline")
}

func TestWriter_FlushesOnClose(t *testing.T) {
	store := openTestStore(t)
	w := New(store, pricing.DefaultTable(), 100, 1000, time.Hour, 0)

	w.Send(Job{SessionKey: "sess-1", Event: event.Event{
		Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "unflushed until close"},
	}})

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	hits, err := store.SearchUserPrompts("unflushed", memstore.ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchUserPrompts: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected flushed row after Close, got %d hits", len(hits))
	}
}

func TestWriter_DropsAndCountsWhenChannelFull(t *testing.T) {
	store := openTestStore(t)
	w := New(store, pricing.DefaultTable(), 1, 1000, time.Hour, 0)
	defer w.Close()

	for i := 0; i < 50; i++ {
		w.Send(Job{SessionKey: "sess-1", Event: event.Event{
			Kind: event.KindUserPrompt, Payload: event.UserPrompt{Content: "flood"},
		}})
	}

	if w.Dropped() == 0 {
		t.Fatal("expected some jobs to be dropped under channel pressure")
	}
}
