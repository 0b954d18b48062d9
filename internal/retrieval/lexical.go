package retrieval

import (
	"fmt"
	"regexp"
	"strings"
)

// QueryMode mirrors memstore.QueryMode — kept as its own type here so
// retrieval's public API doesn't force every caller to import memstore
// just to name a search mode.
type QueryMode int

const (
	ModePhrase  QueryMode = iota // escape everything, wrap in quotes — safe default
	ModeNatural                  // preserve boolean AND/OR/NOT and trailing `*` wildcards
	ModeRaw                      // caller-owned FTS5 syntax, passed through verbatim
)

// Hit is one lexical search result.
type Hit struct {
	SourceTable string
	SourceID    int64
	SessionKey  string
	Content     string
	Score       float64
}

var naturalTokenRe = regexp.MustCompile(`[()]`)

// buildFTSQuery turns a raw user query into an FTS5 MATCH expression
// according to mode.
func buildFTSQuery(query string, mode QueryMode) string {
	switch mode {
	case ModeRaw:
		return query
	case ModeNatural:
		// Strip parentheses and bare column-name prefixes ("col:term"); keep
		// AND/OR/NOT keywords and trailing "*" prefix wildcards intact.
		q := naturalTokenRe.ReplaceAllString(query, "")
		fields := strings.Fields(q)
		for i, f := range fields {
			if idx := strings.Index(f, ":"); idx >= 0 && idx < len(f)-1 {
				fields[i] = f[idx+1:]
			}
		}
		return strings.Join(fields, " ")
	default: // ModePhrase
		escaped := strings.ReplaceAll(query, `"`, `""`)
		return `"` + escaped + `"`
	}
}

func (e *Engine) search(ftsTable, baseTable, query string, mode QueryMode, limit int) ([]Hit, error) {
	match := buildFTSQuery(query, mode)
	q := fmt.Sprintf(`
		SELECT b.id, b.session_key, %s.content, bm25(%s) AS score
		FROM %s
		JOIN %s AS b ON b.id = %s.rowid
		WHERE %s MATCH ?
		ORDER BY score LIMIT ?`,
		ftsTable, ftsTable, ftsTable, baseTable, ftsTable, ftsTable)

	rows, err := e.pool.Query(q, match, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search over %s: %w", ftsTable, err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		h := Hit{SourceTable: baseTable}
		if err := rows.Scan(&h.SourceID, &h.SessionKey, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", ftsTable, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchUserPrompts runs a lexical search over captured user prompts.
func (e *Engine) SearchUserPrompts(query string, mode QueryMode, limit int) ([]Hit, error) {
	return e.search("user_prompts_fts", "user_prompts", query, mode, limit)
}

// SearchAssistantResponses runs a lexical search over captured assistant
// responses.
func (e *Engine) SearchAssistantResponses(query string, mode QueryMode, limit int) ([]Hit, error) {
	return e.search("assistant_responses_fts", "assistant_responses", query, mode, limit)
}

// SearchThinking runs a lexical search over captured thinking blocks.
func (e *Engine) SearchThinking(query string, mode QueryMode, limit int) ([]Hit, error) {
	return e.search("thinking_fts", "thinking_blocks", query, mode, limit)
}

// SearchToolIO runs a lexical search over tool result output.
func (e *Engine) SearchToolIO(query string, mode QueryMode, limit int) ([]Hit, error) {
	return e.search("tool_io_fts", "tool_results", query, mode, limit)
}
