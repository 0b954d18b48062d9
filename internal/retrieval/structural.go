package retrieval

import (
	"database/sql"
	"fmt"
)

// SessionSummary is one row of the sessions listing / control API, read
// from the persisted sessions table so it reflects a session's last
// flushed aggregates even across a restart.
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

func (e *Engine) ListSessions(limit int) ([]SessionSummary, error) {
	rows, err := e.pool.Query(`
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

// LifetimeStats aggregates token/cost usage and tool success rates for one
// session, joining api_usage (source of truth for tokens/cost) against
// tool_calls/tool_results for tool outcomes.
type LifetimeStats struct {
	SessionKey       string
	InputTokens      int64
	OutputTokens     int64
	CacheRead        int64
	CacheCreation    int64
	CostUSD          float64
	AnyCostUnknown   bool
	ToolCallCount    int64
	ToolSuccessCount int64
	ToolErrorCount   int64
	ToolPendingCount int64
}

func (e *Engine) SessionLifetimeStats(sessionKey string) (LifetimeStats, error) {
	st := LifetimeStats{SessionKey: sessionKey}
	var unknownCount int
	err := e.pool.QueryRow(`
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_read), 0),
			COALESCE(SUM(cache_creation), 0),
			COALESCE(SUM(cost_usd), 0),
			SUM(CASE WHEN cost_known = 0 THEN 1 ELSE 0 END)
		FROM api_usage WHERE session_key = ?`, sessionKey).
		Scan(&st.InputTokens, &st.OutputTokens, &st.CacheRead, &st.CacheCreation, &st.CostUSD, &unknownCount)
	if err != nil {
		return st, fmt.Errorf("aggregating usage for %s: %w", sessionKey, err)
	}
	st.AnyCostUnknown = unknownCount > 0

	// Rejection vs error is inferred from output_raw sentinel text; absence
	// of a tool_results row (LEFT JOIN NULL) means the call is still
	// pending upstream.
	err = e.pool.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN tr.id IS NOT NULL AND tr.success = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN tr.id IS NOT NULL AND tr.success = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN tr.id IS NULL THEN 1 ELSE 0 END)
		FROM tool_calls tc
		LEFT JOIN tool_results tr ON tr.tool_id = tc.tool_id AND tr.session_key = tc.session_key
		WHERE tc.session_key = ?`, sessionKey).
		Scan(&st.ToolCallCount, &st.ToolSuccessCount, &st.ToolErrorCount, &st.ToolPendingCount)
	if err != nil {
		return st, fmt.Errorf("aggregating tool outcomes for %s: %w", sessionKey, err)
	}
	return st, nil
}

// PendingEmbeddings mirrors memstore.Store.PendingEmbeddings for read-only
// callers (the control API's reindex-status endpoint) that should not need
// a writer-capable handle.
func (e *Engine) PendingEmbeddings(sourceTable, model string, limit int) ([]struct {
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

	rows, err := e.pool.Query(q, sourceTable, model, limit)
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
