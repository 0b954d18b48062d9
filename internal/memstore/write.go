package memstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Batch accumulates row-insert closures to run inside one transaction. The
// memwriter package builds one Batch per flush interval and calls Commit
// once, so many events become a single fsync instead of one per row.
type Batch struct {
	store *Store
	ops   []func(*sql.Tx) error
}

func (s *Store) NewBatch() *Batch { return &Batch{store: s} }

// Commit runs every queued operation inside a single transaction. A
// failure partway through rolls back the whole batch — the caller is
// expected to retry or drop the batch, not assume partial application.
func (b *Batch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}
	tx, err := b.store.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	for _, op := range b.ops {
		if err := op(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("batch operation failed: %w", err)
		}
	}
	return tx.Commit()
}

func (b *Batch) UpsertSession(sessionKey, fingerprint, clientID string) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		now := nowRFC3339()
		_, err := tx.Exec(`
			INSERT INTO sessions (session_key, fingerprint, client_id, started_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
			sessionKey, fingerprint, clientID, now, now)
		return err
	})
}

// UpsertSessionAggregates writes the session row's running totals as
// reported by the in-memory session registry at the time of this event —
// every write for a session refreshes these columns, so they are never
// more than one flush interval stale, including at the moment the session
// is finally marked ended.
func (b *Batch) UpsertSessionAggregates(sessionKey, fingerprint, clientID, source string, totalTokens int64, totalCost float64, toolCalls, thinkingBlocks int64) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		now := nowRFC3339()
		_, err := tx.Exec(`
			INSERT INTO sessions (session_key, fingerprint, client_id, source, started_at, last_seen_at, total_tokens, total_cost, tool_calls, thinking_blocks)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_key) DO UPDATE SET
				last_seen_at    = excluded.last_seen_at,
				source          = excluded.source,
				total_tokens    = excluded.total_tokens,
				total_cost      = excluded.total_cost,
				tool_calls      = excluded.tool_calls,
				thinking_blocks = excluded.thinking_blocks`,
			sessionKey, fingerprint, clientID, source, now, now, totalTokens, totalCost, toolCalls, thinkingBlocks)
		return err
	})
}

func (b *Batch) EndSession(sessionKey string) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE sessions SET ended_at = ? WHERE session_key = ?`, nowRFC3339(), sessionKey)
		return err
	})
}

func (b *Batch) InsertRequest(requestID, sessionKey, method, path, model string, status int, ttfbUs, durationUs int64) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO requests (request_id, session_key, method, path, model, status, ttfb_us, duration_us, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			requestID, sessionKey, method, path, model, status, ttfbUs, durationUs, nowRFC3339())
		return err
	})
}

func (b *Batch) InsertAPIUsage(requestID, sessionKey, model string, input, output, cacheRead, cacheCreation int, costUSD float64, costKnown bool) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO api_usage (request_id, session_key, model, input_tokens, output_tokens, cache_read, cache_creation, cost_usd, cost_known, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			requestID, sessionKey, model, input, output, cacheRead, cacheCreation, costUSD, boolToInt(costKnown), nowRFC3339())
		return err
	})
}

func (b *Batch) InsertToolCall(sessionKey, requestID, toolID, toolName string, input map[string]any, turnIndex int, parseError string) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		inputJSON, _ := json.Marshal(input)
		_, err := tx.Exec(`
			INSERT INTO tool_calls (session_key, request_id, tool_id, tool_name, input_json, turn_index, parse_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionKey, requestID, toolID, toolName, string(inputJSON), turnIndex, parseError, nowRFC3339())
		return err
	})
}

func (b *Batch) InsertToolResult(sessionKey, toolID, outputRaw string, durationUs int64, success, rejected, correlated bool) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tool_results (session_key, tool_id, output_raw, success, rejected, correlated, duration_us, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionKey, toolID, outputRaw, boolToInt(success), boolToInt(rejected), boolToInt(correlated), durationUs, nowRFC3339())
		return err
	})
}

func (b *Batch) InsertThinking(sessionKey, blockID, content string, tokenEstimate int) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO thinking_blocks (session_key, block_id, content, token_estimate, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			sessionKey, blockID, content, tokenEstimate, nowRFC3339())
		return err
	})
}

func (b *Batch) InsertUserPrompt(sessionKey, content string) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO user_prompts (session_key, content, created_at)
			VALUES (?, ?, ?)`,
			sessionKey, content, nowRFC3339())
		return err
	})
}

func (b *Batch) InsertAssistantResponse(sessionKey, content string) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO assistant_responses (session_key, content, created_at)
			VALUES (?, ?, ?)`,
			sessionKey, content, nowRFC3339())
		return err
	})
}

// InsertTodoSnapshot records one observed todo-write tool call: the full
// item list as JSON plus precomputed status counts.
func (b *Batch) InsertTodoSnapshot(sessionKey string, items []TodoItem) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		listJSON, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshaling todo snapshot: %w", err)
		}
		var pending, inProgress, completed int
		for _, it := range items {
			switch it.Status {
			case "pending":
				pending++
			case "in_progress":
				inProgress++
			case "completed":
				completed++
			}
		}
		_, err = tx.Exec(`
			INSERT INTO todo_snapshots (session_key, list_json, pending, in_progress, completed, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionKey, string(listJSON), pending, inProgress, completed, nowRFC3339())
		return err
	})
}

// TodoItem mirrors event.TodoItem without importing internal/event into
// memstore — the memwriter package, which already imports both, is the
// only caller expected to build one.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form"`
}

func (b *Batch) InsertContextEvent(sessionKey, kind string, previousTokens, newTokens int, reductionPct float64) {
	b.ops = append(b.ops, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO context_events (session_key, kind, previous_tokens, new_tokens, reduction_pct, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionKey, kind, previousTokens, newTokens, reductionPct, nowRFC3339())
		return err
	})
}

// UpsertEmbedding records or replaces the vector for one source row. Called
// by the embedding indexer, not the hot-path memwriter.
func (s *Store) UpsertEmbedding(sourceTable string, sourceID int64, model string, vector []float64) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshaling embedding vector: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO embeddings (source_table, source_id, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_table, source_id, model) DO UPDATE SET vector = excluded.vector, dims = excluded.dims`,
		sourceTable, sourceID, model, len(vector), string(data), nowRFC3339())
	return err
}

// TruncateEmbeddings deletes every stored vector, used by the embedding
// indexer's reindex operation when the configured model or its
// dimensionality changes.
func (s *Store) TruncateEmbeddings() error {
	_, err := s.db.Exec(`DELETE FROM embeddings`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
