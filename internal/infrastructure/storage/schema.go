package storage

import (
	"context"
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	published_on TEXT,
	source_url TEXT UNIQUE NOT NULL,
	source_kind TEXT NOT NULL,
	document_kind TEXT DEFAULT '',
	source_label TEXT DEFAULT '',
	raw_blob_ref TEXT DEFAULT '',
	blob_released INTEGER NOT NULL DEFAULT 0,
	raw_text TEXT DEFAULT '',
	summary TEXT DEFAULT '',
	is_relevant INTEGER,
	matched_terms TEXT DEFAULT '[]',
	is_processed INTEGER NOT NULL DEFAULT 0,
	collected_at TEXT NOT NULL,
	metadata TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_documents_pending
	ON documents(is_processed, collected_at);

CREATE TABLE IF NOT EXISTS norms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	number TEXT NOT NULL,
	year INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	source_of_truth TEXT DEFAULT '',
	verified_at TEXT,
	details TEXT DEFAULT '{}',
	first_seen_at TEXT NOT NULL,
	summary_text TEXT DEFAULT '',
	UNIQUE(kind, number, year)
);

CREATE INDEX IF NOT EXISTS idx_norms_verified_at ON norms(verified_at);

CREATE TABLE IF NOT EXISTS document_norms (
	document_id INTEGER NOT NULL,
	norm_id INTEGER NOT NULL,
	UNIQUE(document_id, norm_id),
	FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE,
	FOREIGN KEY(norm_id) REFERENCES norms(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS monitored_terms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	term TEXT UNIQUE NOT NULL,
	match_kind TEXT NOT NULL,
	variants TEXT DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 3,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS execution_logs (
	id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	counters TEXT DEFAULT '{}',
	error_text TEXT DEFAULT '',
	trace TEXT DEFAULT '',
	detail TEXT DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tax_snapshots (
	endpoint TEXT NOT NULL,
	reference_date TEXT NOT NULL,
	region_code TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	collected_at TEXT NOT NULL,
	PRIMARY KEY(endpoint, reference_date, region_code)
);
`

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
