package memstore

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aspy.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aspy.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open (re-migrate): %v", err)
	}
	defer s2.Close()
}

func TestBatch_InsertAndQuery(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.UpsertSession("sess-1", "fp-abc", "client-1")
	b.InsertUserPrompt("sess-1", "what is the weather in boston")
	b.InsertAssistantResponse("sess-1", "it is sunny in boston")
	b.InsertAPIUsage("req-1", "sess-1", "claude-sonnet-4", 100, 50, 0, 0, 0.002, true)
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionKey != "sess-1" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}

	prompts, err := s.SearchUserPrompts("boston", ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchUserPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected 1 hit for 'boston' in user_prompts, got %d", len(prompts))
	}

	responses, err := s.SearchAssistantResponses("boston", ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchAssistantResponses: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected 1 hit for 'boston' in assistant_responses, got %d", len(responses))
	}

	summary, err := s.SessionCostSummary("sess-1")
	if err != nil {
		t.Fatalf("SessionCostSummary: %v", err)
	}
	if summary.InputTokens != 100 || summary.OutputTokens != 50 {
		t.Errorf("unexpected cost summary: %+v", summary)
	}
}

func TestUpsertEmbeddingAndPending(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertUserPrompt("sess-1", "hello")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pending, err := s.PendingEmbeddings("user_prompts", "test-model", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending row, got %d", len(pending))
	}

	if err := s.UpsertEmbedding("user_prompts", pending[0].ID, "test-model", []float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("UpsertEmbedding: %v", err)
	}

	pending, err = s.PendingEmbeddings("user_prompts", "test-model", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings after embed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending rows after embedding, got %d", len(pending))
	}

	vecs, err := s.AllVectors("user_prompts", "test-model")
	if err != nil {
		t.Fatalf("AllVectors: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0].Vector) != 3 {
		t.Fatalf("unexpected vectors: %+v", vecs)
	}
}

func TestRetain_DeletesExpiredRowsFTSFirstThenOrphanSessions(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	b.UpsertSession("sess-old", "", "")
	b.InsertUserPrompt("sess-old", "ancient weather question")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Backdate the row and its session past any reasonable cutoff.
	if _, err := s.db.Exec(`UPDATE user_prompts SET created_at = '2000-01-01T00:00:00Z'`); err != nil {
		t.Fatalf("backdating user_prompts: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE sessions SET last_seen_at = '2000-01-01T00:00:00Z'`); err != nil {
		t.Fatalf("backdating sessions: %v", err)
	}

	if err := s.Retain("2020-01-01T00:00:00Z"); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	hits, err := s.SearchUserPrompts("ancient", ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchUserPrompts: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected expired prompt to be gone from the fts index, got %+v", hits)
	}

	sessions, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected the now-childless session to be swept, got %+v", sessions)
	}
}
