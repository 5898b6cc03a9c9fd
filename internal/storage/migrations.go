package storage

type migration struct {
	version int
	sql     string
}

// migrations must be ordered with sequential versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS maintenance_windows (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	start_date  INTEGER NOT NULL,
	end_date    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_windows_end_date ON maintenance_windows(end_date);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notifications (
	id                  TEXT PRIMARY KEY,
	recipient_id        TEXT NOT NULL,
	recipient_type      TEXT NOT NULL,
	title               TEXT NOT NULL,
	message             TEXT NOT NULL,
	related_entity_type TEXT,
	related_entity_id   TEXT,
	is_read             INTEGER NOT NULL DEFAULT 0,
	read_at             INTEGER,
	created_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC);
`,
	},
}
