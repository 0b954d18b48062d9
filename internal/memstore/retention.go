package memstore

import "fmt"

// retentionFTSBackedTables age out on the same cutoff as every other table,
// but each has a companion FTS5 external-content index kept in sync by the
// AFTER INSERT/DELETE triggers in schema.go — deleting the base row inside
// the sweep's own transaction fires the matching trigger synchronously, so
// the FTS entry is gone in the same transaction as the row it indexed and
// can never outlive it.
var retentionFTSBackedTables = []string{"user_prompts", "assistant_responses", "thinking_blocks", "tool_results"}

// retentionPlainTables age out on the same cutoff but carry no full-text
// index.
var retentionPlainTables = []string{"requests", "api_usage", "tool_calls", "context_events", "todo_snapshots"}

// Retain deletes every row older than cutoff (an RFC3339 timestamp string,
// comparable lexicographically against the created_at columns): the
// FTS-backed tables first (so their triggers retire the matching index
// entries before anything else runs), then the plain tables, then any
// session whose child rows have all aged out. Each table commits in its
// own transaction, so a failure partway through the sweep only loses the
// rest of that table's pass rather than the whole sweep.
func (s *Store) Retain(cutoff string) error {
	for _, table := range retentionFTSBackedTables {
		if err := s.retainBaseTable(table, cutoff); err != nil {
			return err
		}
	}
	for _, table := range retentionPlainTables {
		if err := s.retainBaseTable(table, cutoff); err != nil {
			return err
		}
	}
	return s.retainOrphanSessions(cutoff)
}

func (s *Store) retainBaseTable(table, cutoff string) error {
	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, table), cutoff); err != nil {
		return fmt.Errorf("deleting expired %s rows: %w", table, err)
	}
	return nil
}

// retainOrphanSessions removes sessions with no surviving row in any child
// table whose own last_seen_at has also passed the cutoff. A session that
// is itself still within the retention window is kept even once every
// child row it had has aged out — the session record is younger than its
// now-deleted children, which can happen for a session that saw a burst of
// early activity and then went quiet.
func (s *Store) retainOrphanSessions(cutoff string) error {
	_, err := s.db.Exec(`
		DELETE FROM sessions
		WHERE last_seen_at < ?
		AND NOT EXISTS (SELECT 1 FROM requests r WHERE r.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM api_usage u WHERE u.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM tool_calls tc WHERE tc.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM tool_results tr WHERE tr.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM thinking_blocks tb WHERE tb.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM user_prompts up WHERE up.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM assistant_responses ar WHERE ar.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM context_events ce WHERE ce.session_key = sessions.session_key)
		AND NOT EXISTS (SELECT 1 FROM todo_snapshots ts WHERE ts.session_key = sessions.session_key)`,
		cutoff)
	if err != nil {
		return fmt.Errorf("deleting orphaned sessions: %w", err)
	}
	return nil
}
