package embedding

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aspy-proxy/aspy/internal/memstore"
)

type stubProvider struct {
	modelName string
	dims      int
	vector    []float64
}

func (s stubProvider) Name() string    { return s.modelName }
func (s stubProvider) Dimensions() int { return s.dims }
func (s stubProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

func TestIndexer_EmbedsPendingRows(t *testing.T) {
	store, err := memstore.Open(filepath.Join(t.TempDir(), "aspy.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertUserPrompt("sess-1", "hello there")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	provider := stubProvider{modelName: "test-model", dims: 3, vector: []float64{0.1, 0.2, 0.3}}
	idx := New(store, provider, "test-model", 32, time.Hour)

	if err := idx.indexTable(context.Background(), "user_prompts"); err != nil {
		t.Fatalf("indexTable: %v", err)
	}

	pending, err := store.PendingEmbeddings("user_prompts", "test-model", 10)
	if err != nil {
		t.Fatalf("PendingEmbeddings: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected 0 pending rows after indexing, got %d", len(pending))
	}
}

func TestIndexer_SkipsWhenLocalModelUnavailable(t *testing.T) {
	store, err := memstore.Open(filepath.Join(t.TempDir(), "aspy.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	b := store.NewBatch()
	b.UpsertSession("sess-1", "", "")
	b.InsertUserPrompt("sess-1", "hello there")
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	idx := New(store, LocalProvider{ModelName: "local", Dims: 3}, "local", 32, time.Hour)
	if err := idx.indexTable(context.Background(), "user_prompts"); err != nil {
		t.Fatalf("indexTable should swallow ErrLocalModelUnavailable, got: %v", err)
	}
}

func TestCheckModel_DetectsModelChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedding_model.json")

	required, err := CheckModel(path, "model-a", 1536)
	if err != nil {
		t.Fatalf("CheckModel (first run): %v", err)
	}
	if required {
		t.Fatal("first run should not require reindex")
	}

	required, err = CheckModel(path, "model-a", 1536)
	if err != nil {
		t.Fatalf("CheckModel (unchanged): %v", err)
	}
	if required {
		t.Fatal("unchanged model should not require reindex")
	}

	required, err = CheckModel(path, "model-b", 3072)
	if err != nil {
		t.Fatalf("CheckModel (changed): %v", err)
	}
	if !required {
		t.Fatal("changed model/dims should require reindex")
	}
}
