package store

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	message TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	tags TEXT NOT NULL DEFAULT '[]',
	trace_id TEXT NOT NULL DEFAULT '',
	created_at REAL NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_source_level ON logs(source, level);
CREATE INDEX IF NOT EXISTS idx_logs_trace_id ON logs(trace_id);
CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_logs_level_time ON logs(level, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_logs_source_time ON logs(source, created_at DESC);

CREATE TABLE IF NOT EXISTS logs_archive (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	compressed_data BLOB NOT NULL,
	created_at REAL NOT NULL,
	original_size INTEGER NOT NULL,
	compressed_size INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_archive_created_at ON logs_archive(created_at DESC);

CREATE TABLE IF NOT EXISTS archive_batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	archived_at DATETIME NOT NULL,
	row_count INTEGER NOT NULL,
	oldest_entry DATETIME NOT NULL,
	newest_entry DATETIME NOT NULL
);

-- Standalone (non-content-linked) FTS5 index: the hot table's id is a
-- TEXT primary key, not an integer rowid, so content_rowid can't bind
-- the two tables together. Rows are kept in sync from application code
-- (store.PutBatch / maintenance's archive-then-delete) rather than via
-- AFTER INSERT/DELETE triggers.
CREATE VIRTUAL TABLE IF NOT EXISTS logs_fts USING fts5(
	id UNINDEXED,
	source,
	message,
	metadata
);

CREATE TABLE IF NOT EXISTS log_stats (
	date TEXT NOT NULL,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	total_size INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, source, level)
);

CREATE TRIGGER IF NOT EXISTS log_stats_insert AFTER INSERT ON logs BEGIN
	INSERT OR REPLACE INTO log_stats (date, source, level, count, total_size)
	VALUES (
		date(new.timestamp),
		new.source,
		new.level,
		COALESCE((SELECT count FROM log_stats WHERE date = date(new.timestamp) AND source = new.source AND level = new.level), 0) + 1,
		COALESCE((SELECT total_size FROM log_stats WHERE date = date(new.timestamp) AND source = new.source AND level = new.level), 0) + new.size_bytes
	);
END;
`
