package retrieval

import (
	"path/filepath"
	"testing"

	"github.com/aspy-proxy/aspy/internal/memstore"
)

func openTestEngine(t *testing.T) (*memstore.Store, *Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aspy.db")
	store, err := memstore.Open(path)
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng, err := Open(path, 4)
	if err != nil {
		t.Fatalf("retrieval.Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return store, eng
}

func TestSearchUserPromptsAndAssistantResponses_NaturalMode(t *testing.T) {
	store, eng := openTestEngine(t)

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertUserPrompt("sess-1", "what is the weather in boston")
	b.InsertAssistantResponse("sess-1", "it is sunny in boston today")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	prompts, err := eng.SearchUserPrompts("boston", ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchUserPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt hit, got %d", len(prompts))
	}

	responses, err := eng.SearchAssistantResponses("boston", ModeNatural, 10)
	if err != nil {
		t.Fatalf("SearchAssistantResponses: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected 1 response hit, got %d", len(responses))
	}
}

func TestSessionLifetimeStats_AggregatesToolOutcomes(t *testing.T) {
	store, eng := openTestEngine(t)

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertAPIUsage("req-1", "sess-1", "claude-sonnet-4", 1000, 500, 0, 0, 0.01, true)
	b.InsertToolCall("sess-1", "req-1", "tool-1", "bash", map[string]any{"cmd": "ls"}, 0, "")
	b.InsertToolResult("sess-1", "tool-1", "ok", 1000, true, false, true)
	b.InsertToolCall("sess-1", "req-1", "tool-2", "bash", map[string]any{"cmd": "rm"}, 1, "")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	stats, err := eng.SessionLifetimeStats("sess-1")
	if err != nil {
		t.Fatalf("SessionLifetimeStats: %v", err)
	}
	if stats.InputTokens != 1000 || stats.OutputTokens != 500 {
		t.Errorf("unexpected token totals: %+v", stats)
	}
	if stats.ToolCallCount != 2 {
		t.Errorf("expected 2 tool calls, got %d", stats.ToolCallCount)
	}
	if stats.ToolSuccessCount != 1 {
		t.Errorf("expected 1 successful tool call, got %d", stats.ToolSuccessCount)
	}
	if stats.ToolPendingCount != 1 {
		t.Errorf("expected 1 pending tool call, got %d", stats.ToolPendingCount)
	}
}

func TestHybridSearch_FallsBackToFTSOnlyWithoutVectors(t *testing.T) {
	store, eng := openTestEngine(t)

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertThinking("sess-1", "blk-1", "banana split recipe", 10)
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	resp, err := eng.HybridSearch("thinking_fts", "thinking_blocks", "test-model", "banana", ModeNatural, nil, 10, 10, 5)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if resp.Type != SearchTypeFTSOnly {
		t.Fatalf("expected fts_only fallback, got %s", resp.Type)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(resp.Hits))
	}
}

func TestHybridSearch_FusesVectorAndLexicalRanks(t *testing.T) {
	store, eng := openTestEngine(t)

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertThinking("sess-1", "blk-1", "banana split recipe", 10)
	b.InsertThinking("sess-1", "blk-2", "discussion of banana plantations", 10)
	b.InsertThinking("sess-1", "blk-3", "monkey biology", 10)
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	pending, err := store.PendingEmbeddings("thinking_blocks", "test-model", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending rows, got %d", len(pending))
	}

	// Deterministic stub vectors: split-recipe and plantations lean toward
	// "food", monkey-biology leans toward "animal".
	vectors := map[string][]float64{
		"banana split recipe":                {0.9, 0.1},
		"discussion of banana plantations":    {0.6, 0.4},
		"monkey biology":                      {0.1, 0.9},
	}
	for _, p := range pending {
		if err := store.UpsertEmbedding("thinking_blocks", p.ID, "test-model", vectors[p.Content]); err != nil {
			t.Fatalf("UpsertEmbedding: %v", err)
		}
	}

	resp, err := eng.HybridSearch("thinking_fts", "thinking_blocks", "test-model", "banana", ModeNatural, []float64{0.95, 0.05}, 10, 10, 2)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if resp.Type != SearchTypeHybrid {
		t.Fatalf("expected hybrid search type, got %s", resp.Type)
	}
	if len(resp.Hits) == 0 || resp.Hits[0].Content != "banana split recipe" {
		t.Fatalf("expected split recipe to rank first, got %+v", resp.Hits)
	}
	for _, h := range resp.Hits {
		if h.Content == "monkey biology" {
			t.Fatalf("monkey biology should not be in top results: %+v", resp.Hits)
		}
	}
}
