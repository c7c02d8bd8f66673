package storage

// schema holds the per-user database's table and index definitions. Column
// names are canonical per the external interfaces design and must not
// change without a coordinated migration.
const schema = `
CREATE TABLE IF NOT EXISTS automation_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	trigger_config TEXT NOT NULL DEFAULT '{}',
	conditions TEXT NOT NULL DEFAULT '{}',
	legacy_conditions TEXT,
	action_config TEXT NOT NULL DEFAULT '{}',
	metadata TEXT NOT NULL DEFAULT '{}',
	last_executed_at TEXT,
	last_evaluated_at TEXT,
	execution_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS torrent_shadow (
	torrent_id TEXT PRIMARY KEY,
	last_total_downloaded INTEGER NOT NULL DEFAULT 0,
	last_total_uploaded INTEGER NOT NULL DEFAULT 0,
	last_state TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS torrent_telemetry (
	torrent_id TEXT PRIMARY KEY,
	stalled_since TEXT,
	upload_stalled_since TEXT,
	last_download_activity_at TEXT,
	last_upload_activity_at TEXT
);

CREATE TABLE IF NOT EXISTS speed_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	torrent_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	total_downloaded INTEGER NOT NULL,
	total_uploaded INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_speed_history_torrent_ts ON speed_history (torrent_id, timestamp);

CREATE TABLE IF NOT EXISTS archived_downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	torrent_id TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL DEFAULT '',
	tracker TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	archived_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE COLLATE NOCASE
);

CREATE TABLE IF NOT EXISTS download_tags (
	tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	download_id TEXT NOT NULL,
	PRIMARY KEY (tag_id, download_id)
);

CREATE TABLE IF NOT EXISTS rule_execution_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id INTEGER NOT NULL,
	rule_name TEXT NOT NULL,
	execution_type TEXT NOT NULL,
	items_processed INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rule_execution_log_executed_at ON rule_execution_log (executed_at);
`
