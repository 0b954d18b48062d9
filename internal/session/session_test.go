package session

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveKey_ClientIDTakesPrecedence(t *testing.T) {
	key, fp := DeriveKey("dev-1", "sk-ant-secret")
	if key != "dev-1" {
		t.Fatalf("expected client id as key, got %q", key)
	}
	if fp != "" {
		t.Fatalf("expected no fingerprint when client id present, got %q", fp)
	}
}

func TestDeriveKey_BearerFingerprintNeverLeaksCredential(t *testing.T) {
	key, fp := DeriveKey("", "sk-ant-super-secret-value")
	if len(key) != 16 {
		t.Fatalf("expected 16-hex-char fingerprint key, got %q", key)
	}
	if key != fp {
		t.Fatalf("expected key == fingerprint for bearer-derived sessions")
	}
	if strings.Contains(key, "secret") {
		t.Fatal("fingerprint must not contain any substring of the raw credential")
	}
}

func TestRegistry_TouchCreatesAndUpdatesSession(t *testing.T) {
	r := NewRegistry(4, time.Hour, time.Hour)

	s := r.Touch("sess-1", "")
	if s.Status != StatusActive || s.Source != SourceFirstSeen {
		t.Fatalf("unexpected new session state: %+v", s)
	}

	r.RecordRequest("sess-1", 100, 50, 0.01)
	r.RecordToolCall("sess-1")

	got, ok := r.Get("sess-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if got.Aggregates.InputTokens != 100 || got.Aggregates.ToolCallCount != 1 {
		t.Fatalf("unexpected aggregates: %+v", got.Aggregates)
	}
}

func TestRegistry_StartSupersedesActiveSession(t *testing.T) {
	r := NewRegistry(4, time.Hour, time.Hour)
	r.Touch("sess-1", "")
	r.Start("sess-1")

	got, _ := r.Get("sess-1")
	if got.Status != StatusActive || got.Source != SourceHook {
		t.Fatalf("expected fresh hook-sourced session, got %+v", got)
	}
}

func TestRingBuffer_WrapsAtCapacity(t *testing.T) {
	r := NewRegistry(2, time.Hour, time.Hour)
	r.Touch("sess-1", "")
	r.PushEvent("sess-1", EventSummary{Kind: "a"})
	r.PushEvent("sess-1", EventSummary{Kind: "b"})
	r.PushEvent("sess-1", EventSummary{Kind: "c"})

	events := r.RecentEvents("sess-1")
	if len(events) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(events))
	}
	if events[0].Kind != "b" || events[1].Kind != "c" {
		t.Fatalf("expected oldest-evicted order [b c], got %+v", events)
	}
}

func TestRegistry_SweepTransitionsIdleThenEnded(t *testing.T) {
	r := NewRegistry(4, time.Minute, time.Minute)
	r.Touch("sess-1", "")

	wentIdle, ended := r.Sweep(time.Now().Add(2 * time.Minute))
	if len(wentIdle) != 1 || len(ended) != 0 {
		t.Fatalf("expected session to go idle, got idle=%v ended=%v", wentIdle, ended)
	}

	wentIdle, ended = r.Sweep(time.Now().Add(4 * time.Minute))
	if len(wentIdle) != 0 || len(ended) != 1 {
		t.Fatalf("expected idle session to end, got idle=%v ended=%v", wentIdle, ended)
	}
}
