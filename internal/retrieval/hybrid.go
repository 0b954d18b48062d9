package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// SearchType reports which strategy actually produced a hybrid result —
// callers (the control API) surface this verbatim so an operator can tell
// a degraded fallback from a true hybrid match.
type SearchType string

const (
	SearchTypeHybrid  SearchType = "hybrid"
	SearchTypeFTSOnly SearchType = "fts_only"
)

const rrfK = 60

// HybridResult is one fused row plus its combined rank score.
type HybridResult struct {
	SourceTable string
	SourceID    int64
	SessionKey  string
	Content     string
	RRFScore    float64
}

// HybridSearchResponse carries the fused hits alongside which strategy
// produced them.
type HybridSearchResponse struct {
	Type SearchType
	Hits []HybridResult
}

// HybridSearch runs lexical search (top n) and, if queryVector is non-nil,
// vector similarity over the embedding candidate set (top m) for the same
// table pair, then fuses the two ranked lists with Reciprocal Rank Fusion:
// score(doc) = Σ 1/(k + rank_in_list), k=60, deduplicated on row identity.
// When queryVector is nil (embeddings disabled, or no vectors yet exist for
// the configured model) it falls back to lexical-only and reports
// fts_only.
func (e *Engine) HybridSearch(ftsTable, baseTable, model, query string, mode QueryMode, queryVector []float64, n, m, limit int) (HybridSearchResponse, error) {
	lexHits, err := e.search(ftsTable, baseTable, query, mode, n)
	if err != nil {
		return HybridSearchResponse{}, err
	}

	if queryVector == nil {
		return HybridSearchResponse{Type: SearchTypeFTSOnly, Hits: toHybridResults(lexHits)}, nil
	}

	candidates, err := e.vectorCandidates(baseTable, model, m)
	if err != nil {
		return HybridSearchResponse{}, err
	}
	if len(candidates) == 0 {
		return HybridSearchResponse{Type: SearchTypeFTSOnly, Hits: toHybridResults(lexHits)}, nil
	}

	for i := range candidates {
		candidates[i].score = cosineSimilarity(queryVector, candidates[i].vector)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	fused := map[int64]float64{}
	content := map[int64]string{}
	session := map[int64]string{}

	for rank, h := range lexHits {
		fused[h.SourceID] += 1.0 / float64(rrfK+rank+1)
		content[h.SourceID] = h.Content
		session[h.SourceID] = h.SessionKey
	}
	for rank, c := range candidates {
		fused[c.id] += 1.0 / float64(rrfK+rank+1)
	}

	var missing []int64
	for id := range fused {
		if _, ok := content[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if err := e.fillMissingContent(baseTable, missing, content, session); err != nil {
			return HybridSearchResponse{}, err
		}
	}

	out := make([]HybridResult, 0, len(fused))
	for id, score := range fused {
		out = append(out, HybridResult{
			SourceTable: baseTable,
			SourceID:    id,
			SessionKey:  session[id],
			Content:     content[id],
			RRFScore:    score,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RRFScore > out[j].RRFScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return HybridSearchResponse{Type: SearchTypeHybrid, Hits: out}, nil
}

type vectorCandidate struct {
	id     int64
	vector []float64
	score  float64
}

func (e *Engine) vectorCandidates(baseTable, model string, limit int) ([]vectorCandidate, error) {
	rows, err := e.pool.Query(`
		SELECT source_id, vector FROM embeddings
		WHERE source_table = ? AND model = ? LIMIT ?`, baseTable, model, limit)
	if err != nil {
		return nil, fmt.Errorf("loading vector candidates for %s: %w", baseTable, err)
	}
	defer rows.Close()

	var out []vectorCandidate
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning vector candidate: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("parsing vector for %s/%d: %w", baseTable, id, err)
		}
		out = append(out, vectorCandidate{id: id, vector: vec})
	}
	return out, rows.Err()
}

func (e *Engine) fillMissingContent(baseTable string, ids []int64, content, session map[int64]string) error {
	contentCol := "content"
	if baseTable == "tool_results" {
		contentCol = "output_raw"
	}
	for _, id := range ids {
		var c, s string
		q := fmt.Sprintf(`SELECT %s, session_key FROM %s WHERE id = ?`, contentCol, baseTable)
		if err := e.pool.QueryRow(q, id).Scan(&c, &s); err != nil {
			return fmt.Errorf("looking up %s/%d: %w", baseTable, id, err)
		}
		content[id] = c
		session[id] = s
	}
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toHybridResults(hits []Hit) []HybridResult {
	out := make([]HybridResult, len(hits))
	for i, h := range hits {
		out[i] = HybridResult{SourceTable: h.SourceTable, SourceID: h.SourceID, SessionKey: h.SessionKey, Content: h.Content}
	}
	return out
}
