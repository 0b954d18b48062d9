// Package embedding runs the background indexer that keeps the embeddings
// table populated for whatever rows the hybrid retrieval mode needs vector
// similarity over. It polls memstore.PendingEmbeddings on an interval,
// hands batches of text to a pluggable Provider, and writes the resulting
// vectors back in one transaction per batch — grounded on the teacher's
// AuditLog polling/batching shape, generalized from an append-only audit
// log to an idempotent catch-up indexer.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aspy-proxy/aspy/internal/memstore"
)

// ErrLocalModelUnavailable is returned by LocalProvider until an in-process
// embedding model is actually wired in; the indexer logs and skips the
// batch rather than treating it as fatal.
var ErrLocalModelUnavailable = errors.New("embedding: local model not available in this build")

// Provider turns a batch of texts into equal-length vectors of a declared
// dimensionality. Implementations: NoopProvider (disabled), LocalProvider
// (in-process model, not yet available), RemoteProvider (OpenAI-compatible
// HTTP endpoint).
type Provider interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// sourceTables is the fixed set of searchable tables the indexer keeps
// embedded, matching the FTS-indexed corpus in internal/memstore/schema.go.
var sourceTables = []string{"user_prompts", "assistant_responses", "thinking_blocks", "tool_results"}

// Indexer owns the poll loop.
type Indexer struct {
	store    *memstore.Store
	provider Provider
	model    string
	batch    int
	interval time.Duration
}

func New(store *memstore.Store, provider Provider, model string, batchSize int, pollInterval time.Duration) *Indexer {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Indexer{store: store, provider: provider, model: model, batch: batchSize, interval: pollInterval}
}

// Run blocks, polling until ctx is cancelled. Call from its own goroutine.
func (idx *Indexer) Run(ctx context.Context) {
	if _, ok := idx.provider.(NoopProvider); ok {
		slog.Info("embedding indexer disabled")
		return
	}

	ticker := time.NewTicker(idx.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := idx.tick(ctx); err != nil {
				slog.Error("embedding indexer tick failed", "error", err)
			}
		}
	}
}

func (idx *Indexer) tick(ctx context.Context) error {
	for _, table := range sourceTables {
		if err := idx.indexTable(ctx, table); err != nil {
			slog.Error("embedding indexer: table failed", "table", table, "error", err)
		}
	}
	return nil
}

func (idx *Indexer) indexTable(ctx context.Context, table string) error {
	pending, err := idx.store.PendingEmbeddings(table, idx.model, idx.batch)
	if err != nil {
		return fmt.Errorf("listing pending embeddings for %s: %w", table, err)
	}
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.Content
	}

	vectors, err := idx.provider.Embed(ctx, texts)
	if err != nil {
		if errors.Is(err, ErrLocalModelUnavailable) {
			slog.Warn("embedding indexer: local model unavailable, skipping batch", "table", table)
			return nil
		}
		return fmt.Errorf("embedding %d rows from %s: %w", len(texts), table, err)
	}
	if len(vectors) != len(pending) {
		return fmt.Errorf("provider %s returned %d vectors for %d inputs", idx.provider.Name(), len(vectors), len(pending))
	}

	for i, p := range pending {
		if err := idx.store.UpsertEmbedding(table, p.ID, idx.model, vectors[i]); err != nil {
			return fmt.Errorf("storing embedding for %s/%d: %w", table, p.ID, err)
		}
	}
	slog.Debug("embedding indexer: batch stored", "table", table, "count", len(pending))
	return nil
}
