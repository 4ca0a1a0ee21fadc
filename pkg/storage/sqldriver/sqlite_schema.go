package sqldriver

// SQLiteSchema is the schema for SQLite and libSQL, which share a dialect.
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS wal_entries (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		worker_id TEXT,
		checkpoint_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		available_at INTEGER NOT NULL,
		processed_at INTEGER,
		UNIQUE (tenant, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS wal_entries_claim_idx
		ON wal_entries (tenant, status, available_at, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS wal_checkpoints (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		worker_id TEXT NOT NULL,
		batch_size INTEGER NOT NULL,
		watermark TEXT NOT NULL,
		processed INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wal_checkpoints_latest_idx
		ON wal_checkpoints (tenant, worker_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS memory_records (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		record_key TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		salience_score REAL NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		utility REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		archive_ref TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (tenant, record_key)
	)`,
	`CREATE INDEX IF NOT EXISTS memory_records_archive_idx
		ON memory_records (tenant, is_archived, salience_score)`,
	`CREATE TABLE IF NOT EXISTS memory_observations (
		tenant TEXT NOT NULL,
		record_key TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (tenant, record_key, entry_id)
	)`,
	`CREATE TABLE IF NOT EXISTS memory_links (
		tenant TEXT NOT NULL,
		from_key TEXT NOT NULL,
		to_key TEXT NOT NULL,
		rel TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (tenant, from_key, to_key, rel)
	)`,
}

// SQLiteDialect is used by both the sqlite and libsql drivers. SQLite has no
// row locks; claims are serialized by the write lock every transaction takes
// at BEGIN IMMEDIATE.
var SQLiteDialect = Dialect{
	Name:   "sqlite",
	Schema: SQLiteSchema,
}
