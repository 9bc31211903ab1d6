package store

// SQL schema constants.

const schemaAnswers = `
CREATE TABLE IF NOT EXISTS answers (
    key TEXT PRIMARY KEY,
    query_text TEXT NOT NULL,
    normalized TEXT NOT NULL,
    category TEXT NOT NULL,
    content TEXT NOT NULL,
    citations TEXT NOT NULL DEFAULT '[]',
    tier TEXT NOT NULL DEFAULT '',
    tokens_in INTEGER NOT NULL DEFAULT 0,
    tokens_out INTEGER NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0.0,
    quality_score REAL NOT NULL DEFAULT 0.0,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    hit_count INTEGER NOT NULL DEFAULT 0,
    last_access TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answers_expires ON answers(expires_at);
CREATE INDEX IF NOT EXISTS idx_answers_category ON answers(category);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of DDL statements that form the initial
// (version-1) database layout.
var allSchemas = []string{
	schemaAnswers,
	schemaMigrations,
}
