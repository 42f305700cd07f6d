package journal

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered, versions start at 1
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id     TEXT NOT NULL,
	trace_id     TEXT NOT NULL DEFAULT '',
	uid          INTEGER NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	board_id     INTEGER,
	list_id      INTEGER,
	card_id      INTEGER,
	disposition  TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatches_batch_id ON dispatches(batch_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_processed_at ON dispatches(processed_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
