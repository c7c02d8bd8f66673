package registry

// schema holds the shared registry database's table definitions. Column
// names are canonical per the external interfaces design and must not
// change without a coordinated migration.
const schema = `
CREATE TABLE IF NOT EXISTS user_registry (
	auth_id TEXT PRIMARY KEY,
	db_path TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'active',
	has_active_rules INTEGER NOT NULL DEFAULT 0,
	non_terminal_torrent_count INTEGER NOT NULL DEFAULT 0,
	next_poll_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_registry_next_poll_at ON user_registry (next_poll_at);

CREATE TABLE IF NOT EXISTS api_keys (
	auth_id TEXT PRIMARY KEY REFERENCES user_registry(auth_id) ON DELETE CASCADE,
	encrypted_key TEXT NOT NULL,
	key_name TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1
);
`
