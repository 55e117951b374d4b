package botevents

// Schema creates the event and heartbeat tables.
const Schema = `
CREATE TABLE IF NOT EXISTS bot_events (
	event_id   TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	platform   TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_events_user ON bot_events(username, created_at);

CREATE TABLE IF NOT EXISTS bot_heartbeats (
	username    TEXT PRIMARY KEY,
	hostname    TEXT NOT NULL,
	pid         INTEGER NOT NULL,
	platform    TEXT NOT NULL DEFAULT '',
	goroutines  INTEGER NOT NULL DEFAULT 0,
	alloc_mb    REAL NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);
`
