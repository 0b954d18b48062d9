package memstore

// migrations is applied in order, tracked by the schema_version key in the
// metadata table. Each migration is idempotent (CREATE TABLE IF NOT EXISTS
// / CREATE INDEX IF NOT EXISTS) so a partially-applied database from a
// crashed prior run can simply re-run from the start rather than needing a
// rollback story.
var migrations = []string{
	// 1: sessions. total_tokens/total_cost/tool_calls/thinking_blocks are
	// running totals, refreshed from the in-memory session.Registry on
	// every write for that session and so always current as of the last
	// seen event — not just a best-effort snapshot taken at close.
	`CREATE TABLE IF NOT EXISTS sessions (
		session_key      TEXT PRIMARY KEY,
		fingerprint      TEXT NOT NULL DEFAULT '',
		client_id        TEXT NOT NULL DEFAULT '',
		source           TEXT NOT NULL DEFAULT '',
		started_at       TEXT NOT NULL,
		last_seen_at     TEXT NOT NULL,
		ended_at         TEXT,
		total_tokens     INTEGER NOT NULL DEFAULT 0,
		total_cost       REAL NOT NULL DEFAULT 0,
		tool_calls       INTEGER NOT NULL DEFAULT 0,
		thinking_blocks  INTEGER NOT NULL DEFAULT 0
	);`,

	// 2: requests
	`CREATE TABLE IF NOT EXISTS requests (
		request_id    TEXT PRIMARY KEY,
		session_key   TEXT NOT NULL,
		method        TEXT NOT NULL DEFAULT '',
		path          TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		status        INTEGER NOT NULL DEFAULT 0,
		ttfb_us       INTEGER NOT NULL DEFAULT 0,
		duration_us   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_session ON requests(session_key);`,

	// 3: api_usage
	`CREATE TABLE IF NOT EXISTS api_usage (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id      TEXT NOT NULL DEFAULT '',
		session_key     TEXT NOT NULL,
		model           TEXT NOT NULL DEFAULT '',
		input_tokens    INTEGER NOT NULL DEFAULT 0,
		output_tokens   INTEGER NOT NULL DEFAULT 0,
		cache_read      INTEGER NOT NULL DEFAULT 0,
		cache_creation  INTEGER NOT NULL DEFAULT 0,
		cost_usd        REAL NOT NULL DEFAULT 0,
		cost_known      INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON api_usage(session_key);`,

	// 4: tool_calls
	`CREATE TABLE IF NOT EXISTS tool_calls (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		request_id    TEXT NOT NULL DEFAULT '',
		tool_id       TEXT NOT NULL DEFAULT '',
		tool_name     TEXT NOT NULL DEFAULT '',
		input_json    TEXT NOT NULL DEFAULT '',
		turn_index    INTEGER NOT NULL DEFAULT 0,
		parse_error   TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_key);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool_id ON tool_calls(tool_id);`,

	// 5: tool_results
	`CREATE TABLE IF NOT EXISTS tool_results (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		tool_id       TEXT NOT NULL DEFAULT '',
		output_raw    TEXT NOT NULL DEFAULT '',
		success       INTEGER NOT NULL DEFAULT 0,
		rejected      INTEGER NOT NULL DEFAULT 0,
		correlated    INTEGER NOT NULL DEFAULT 0,
		duration_us   INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_results_session ON tool_results(session_key);`,

	// 6: thinking_blocks
	`CREATE TABLE IF NOT EXISTS thinking_blocks (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key     TEXT NOT NULL,
		block_id        TEXT NOT NULL DEFAULT '',
		content         TEXT NOT NULL DEFAULT '',
		token_estimate  INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thinking_session ON thinking_blocks(session_key);`,

	// 7: user_prompts and assistant_responses, kept as separate tables (each
	// with its own FTS index in migration 10) rather than one role-tagged
	// messages table, since a search is almost always scoped to one side of
	// the conversation.
	`CREATE TABLE IF NOT EXISTS user_prompts (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_prompts_session ON user_prompts(session_key);

	CREATE TABLE IF NOT EXISTS assistant_responses (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assistant_responses_session ON assistant_responses(session_key);`,

	// 8: context_events (compaction / recovery)
	`CREATE TABLE IF NOT EXISTS context_events (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key      TEXT NOT NULL,
		kind             TEXT NOT NULL,
		previous_tokens  INTEGER NOT NULL DEFAULT 0,
		new_tokens       INTEGER NOT NULL DEFAULT 0,
		reduction_pct    REAL NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_context_events_session ON context_events(session_key);`,

	// 9: embeddings — one row per embedded source row (a prompt, response,
	// or thinking block), storing the raw vector as a JSON array of
	// float64. See internal/retrieval for why this uses in-process cosine
	// similarity over a dedicated vector index. source_table/source_id
	// name the same "which row" pair the spec calls row_kind/row_id.
	`CREATE TABLE IF NOT EXISTS embeddings (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		source_table  TEXT NOT NULL,
		source_id     INTEGER NOT NULL,
		model         TEXT NOT NULL,
		dims          INTEGER NOT NULL,
		vector        TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		UNIQUE(source_table, source_id, model)
	);`,

	// 10: todo_snapshots — one row per observed todo-write tool call,
	// carrying the full list plus precomputed status counts so the control
	// API's todo panel never has to parse list_json to render a summary.
	`CREATE TABLE IF NOT EXISTS todo_snapshots (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key   TEXT NOT NULL,
		list_json     TEXT NOT NULL DEFAULT '[]',
		pending       INTEGER NOT NULL DEFAULT 0,
		in_progress   INTEGER NOT NULL DEFAULT 0,
		completed     INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_todo_snapshots_session ON todo_snapshots(session_key);`,

	// 11: FTS5 external-content indexes. External content keeps the indexed
	// text in its owning table as the single source of truth; triggers keep
	// the index in sync on write. Retention deletes rows from these first
	// (see memwriter's retention sweep) so no FTS rowid ever outlives its
	// base row.
	`CREATE VIRTUAL TABLE IF NOT EXISTS user_prompts_fts USING fts5(
		content, content='user_prompts', content_rowid='id', tokenize='porter unicode61'
	);
	CREATE TRIGGER IF NOT EXISTS user_prompts_ai AFTER INSERT ON user_prompts BEGIN
		INSERT INTO user_prompts_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS user_prompts_ad AFTER DELETE ON user_prompts BEGIN
		INSERT INTO user_prompts_fts(user_prompts_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;

	CREATE VIRTUAL TABLE IF NOT EXISTS assistant_responses_fts USING fts5(
		content, content='assistant_responses', content_rowid='id', tokenize='porter unicode61'
	);
	CREATE TRIGGER IF NOT EXISTS assistant_responses_ai AFTER INSERT ON assistant_responses BEGIN
		INSERT INTO assistant_responses_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS assistant_responses_ad AFTER DELETE ON assistant_responses BEGIN
		INSERT INTO assistant_responses_fts(assistant_responses_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;

	CREATE VIRTUAL TABLE IF NOT EXISTS thinking_fts USING fts5(
		content, content='thinking_blocks', content_rowid='id', tokenize='porter unicode61'
	);
	CREATE TRIGGER IF NOT EXISTS thinking_ai AFTER INSERT ON thinking_blocks BEGIN
		INSERT INTO thinking_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS thinking_ad AFTER DELETE ON thinking_blocks BEGIN
		INSERT INTO thinking_fts(thinking_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;

	CREATE VIRTUAL TABLE IF NOT EXISTS tool_io_fts USING fts5(
		content, content='tool_results', content_rowid='id', tokenize='porter unicode61'
	);
	CREATE TRIGGER IF NOT EXISTS tool_io_ai AFTER INSERT ON tool_results BEGIN
		INSERT INTO tool_io_fts(rowid, content) VALUES (new.id, new.output_raw);
	END;
	CREATE TRIGGER IF NOT EXISTS tool_io_ad AFTER DELETE ON tool_results BEGIN
		INSERT INTO tool_io_fts(tool_io_fts, rowid, content) VALUES ('delete', old.id, old.output_raw);
	END;`,
}
