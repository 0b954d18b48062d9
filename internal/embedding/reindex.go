package embedding

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aspy-proxy/aspy/internal/memstore"
)

// modelState is persisted next to the database so a model or dimension
// change can be detected across restarts without a dedicated schema table.
type modelState struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// CheckModel compares the configured provider/model against the last
// persisted state at statePath. If they differ, it reports that a reindex
// is required instead of silently writing mixed-dimension vectors into the
// same (source_table, model) bucket.
func CheckModel(statePath, model string, dims int) (reindexRequired bool, err error) {
	data, err := os.ReadFile(statePath)
	if os.IsNotExist(err) {
		return false, writeModelState(statePath, model, dims)
	}
	if err != nil {
		return false, fmt.Errorf("reading embedding model state: %w", err)
	}

	var prev modelState
	if err := json.Unmarshal(data, &prev); err != nil {
		return false, fmt.Errorf("parsing embedding model state: %w", err)
	}

	if prev.Model != model || prev.Dimensions != dims {
		return true, nil
	}
	return false, nil
}

// CommitModel persists the currently active model/dimensions, called after
// a reindex completes (or on first run).
func CommitModel(statePath, model string, dims int) error {
	return writeModelState(statePath, model, dims)
}

func writeModelState(path, model string, dims int) error {
	data, err := json.Marshal(modelState{Model: model, Dimensions: dims})
	if err != nil {
		return fmt.Errorf("marshaling embedding model state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing embedding model state: %w", err)
	}
	return nil
}

// Reindex truncates all stored embeddings and commits the new model state,
// letting the poll loop rebuild vectors from scratch under the newly
// configured model.
func Reindex(store *memstore.Store, statePath, model string, dims int) error {
	if err := store.TruncateEmbeddings(); err != nil {
		return fmt.Errorf("truncating embeddings: %w", err)
	}
	return CommitModel(statePath, model, dims)
}
