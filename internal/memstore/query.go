package memstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SessionSummary is one row of `aspy sessions` / the control API's
// /api/sessions endpoint, read from the persisted sessions table rather
// than the in-memory registry — so it survives a restart.
type SessionSummary struct {
	SessionKey     string
	ClientID       string
	Source         string
	StartedAt      string
	LastSeenAt     string
	EndedAt        sql.NullString
	TotalTokens    int64
	TotalCost      float64
	ToolCalls      int64
	ThinkingBlocks int64
}

func (s *Store) ListSessions(limit int) ([]SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT session_key, client_id, source, started_at, last_seen_at, ended_at,
			total_tokens, total_cost, tool_calls, thinking_blocks
		FROM sessions ORDER BY last_seen_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.SessionKey, &s.ClientID, &s.Source, &s.StartedAt, &s.LastSeenAt, &s.EndedAt,
			&s.TotalTokens, &s.TotalCost, &s.ToolCalls, &s.ThinkingBlocks); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TextHit is one lexical search result, scored by SQLite's bm25().
type TextHit struct {
	SourceTable string
	SourceID    int64
	SessionKey  string
	Content     string
	Score       float64
}

// QueryMode selects how the FTS5 MATCH expression is built from a raw query
// string, resolving the spec's lexical query modes.
type QueryMode int

const (
	ModeNatural QueryMode = iota // bare terms, implicit AND
	ModePhrase                   // wrapped in quotes for an exact phrase match
	ModeRaw                      // passed through verbatim as an FTS5 query
)

func buildMatch(query string, mode QueryMode) string {
	switch mode {
	case ModePhrase:
		return `"` + query + `"`
	case ModeRaw:
		return query
	default:
		return query
	}
}

// SearchUserPrompts runs a lexical search over user_prompts.content via the
// FTS5 external-content index.
func (s *Store) SearchUserPrompts(query string, mode QueryMode, limit int) ([]TextHit, error) {
	return s.searchFTS("user_prompts_fts", "user_prompts", query, mode, limit)
}

// SearchAssistantResponses runs a lexical search over
// assistant_responses.content via the FTS5 external-content index.
func (s *Store) SearchAssistantResponses(query string, mode QueryMode, limit int) ([]TextHit, error) {
	return s.searchFTS("assistant_responses_fts", "assistant_responses", query, mode, limit)
}

func (s *Store) SearchThinking(query string, mode QueryMode, limit int) ([]TextHit, error) {
	return s.searchFTS("thinking_fts", "thinking_blocks", query, mode, limit)
}

func (s *Store) SearchToolIO(query string, mode QueryMode, limit int) ([]TextHit, error) {
	return s.searchFTS("tool_io_fts", "tool_results", query, mode, limit)
}

func (s *Store) searchFTS(ftsTable, baseTable, query string, mode QueryMode, limit int) ([]TextHit, error) {
	match := buildMatch(query, mode)
	q := fmt.Sprintf(`
		SELECT b.id, b.session_key, %s.content, bm25(%s) AS score
		FROM %s
		JOIN %s AS b ON b.id = %s.rowid
		WHERE %s MATCH ?
		ORDER BY score LIMIT ?`,
		ftsTable, ftsTable, ftsTable, baseTable, ftsTable, ftsTable)

	rows, err := s.db.Query(q, match, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", ftsTable, err)
	}
	defer rows.Close()

	var out []TextHit
	for rows.Next() {
		var h TextHit
		h.SourceTable = baseTable
		if err := rows.Scan(&h.SourceID, &h.SessionKey, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", ftsTable, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// PendingEmbeddings returns rows of the given source table that have no
// embedding yet for model, for the embedding indexer's poll loop.
func (s *Store) PendingEmbeddings(sourceTable, model string, limit int) ([]struct {
	ID      int64
	Content string
}, error) {
	contentCol := "content"
	if sourceTable == "tool_results" {
		contentCol = "output_raw"
	}

	q := fmt.Sprintf(`
		SELECT b.id, b.%s FROM %s AS b
		WHERE NOT EXISTS (
			SELECT 1 FROM embeddings e
			WHERE e.source_table = ? AND e.source_id = b.id AND e.model = ?
		)
		ORDER BY b.id LIMIT ?`, contentCol, sourceTable)

	rows, err := s.db.Query(q, sourceTable, model, limit)
	if err != nil {
		return nil, fmt.Errorf("finding unembedded rows in %s: %w", sourceTable, err)
	}
	defer rows.Close()

	var out []struct {
		ID      int64
		Content string
	}
	for rows.Next() {
		var row struct {
			ID      int64
			Content string
		}
		if err := rows.Scan(&row.ID, &row.Content); err != nil {
			return nil, fmt.Errorf("scanning unembedded row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// VectorHit is one candidate in a cosine-similarity scan.
type VectorHit struct {
	SourceTable string
	SourceID    int64
	Vector      []float64
}

// AllVectors loads every stored embedding for a given source table/model —
// the "bounded candidate set" the in-process cosine scan operates over
// (see DESIGN.md's vector-search rejection notes for why this doesn't need
// a dedicated vector index).
func (s *Store) AllVectors(sourceTable, model string) ([]VectorHit, error) {
	rows, err := s.db.Query(`
		SELECT source_id, vector FROM embeddings WHERE source_table = ? AND model = ?`,
		sourceTable, model)
	if err != nil {
		return nil, fmt.Errorf("loading vectors for %s: %w", sourceTable, err)
	}
	defer rows.Close()

	var out []VectorHit
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("parsing vector for %s/%d: %w", sourceTable, id, err)
		}
		out = append(out, VectorHit{SourceTable: sourceTable, SourceID: id, Vector: vec})
	}
	return out, rows.Err()
}

// CostSummary aggregates api_usage for one session, for the control API's
// lifetime-stats endpoint.
type CostSummary struct {
	SessionKey    string
	InputTokens   int64
	OutputTokens  int64
	CacheRead     int64
	CacheCreation int64
	CostUSD       float64
	AnyCostUnknown bool
}

func (s *Store) SessionCostSummary(sessionKey string) (CostSummary, error) {
	c := CostSummary{SessionKey: sessionKey}
	var unknownCount int
	err := s.db.QueryRow(`
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read), 0),
			COALESCE(SUM(cache_creation), 0),
			COALESCE(SUM(cost_usd), 0),
			SUM(CASE WHEN cost_known = 0 THEN 1 ELSE 0 END)
		FROM api_usage WHERE session_key = ?`, sessionKey).
		Scan(&c.InputTokens, &c.OutputTokens, &c.CacheRead, &c.CacheCreation, &c.CostUSD, &unknownCount)
	if err != nil {
		return c, fmt.Errorf("summarizing cost for %s: %w", sessionKey, err)
	}
	c.AnyCostUnknown = unknownCount > 0
	return c, nil
}
