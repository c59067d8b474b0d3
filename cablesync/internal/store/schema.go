package store

// Schema is the cablesync database schema. Timestamps are unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	group_key    TEXT NOT NULL,
	ship         TEXT NOT NULL,
	contract     TEXT NOT NULL,
	lot          TEXT NOT NULL DEFAULT '',
	project_code TEXT NOT NULL DEFAULT '',
	container_id TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	parent_id    TEXT REFERENCES snapshots(id),
	record_count INTEGER NOT NULL DEFAULT 0,
	source_name  TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_group ON snapshots(group_key);
CREATE INDEX IF NOT EXISTS idx_snapshots_scope ON snapshots(ship, contract, lot);
CREATE INDEX IF NOT EXISTS idx_snapshots_parent ON snapshots(parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_one_head ON snapshots(group_key) WHERE parent_id IS NULL;

CREATE TABLE IF NOT EXISTS snapshot_records (
	snapshot_id              TEXT NOT NULL REFERENCES snapshots(id),
	business_key             TEXT NOT NULL,
	secondary_id             TEXT NOT NULL DEFAULT '',
	section                  TEXT NOT NULL DEFAULT '',
	description              TEXT NOT NULL DEFAULT '',
	cable_type               TEXT NOT NULL DEFAULT '',
	formation                TEXT NOT NULL DEFAULT '',
	zone_from                TEXT NOT NULL DEFAULT '',
	zone_to                  TEXT NOT NULL DEFAULT '',
	apparatus_from           TEXT NOT NULL DEFAULT '',
	apparatus_to             TEXT NOT NULL DEFAULT '',
	design_length            REAL,
	installed_length         REAL,
	status                   TEXT NOT NULL DEFAULT 'unknown',
	status_origin            INTEGER NOT NULL DEFAULT 0,
	status_raw               TEXT NOT NULL DEFAULT '',
	progress                 INTEGER,
	last_seen_at             INTEGER,
	missing_in_latest_import INTEGER NOT NULL DEFAULT 0,
	changed_in_source        INTEGER NOT NULL DEFAULT 0,
	last_import_run_id       TEXT NOT NULL DEFAULT '',
	revision                 INTEGER NOT NULL DEFAULT 0,
	updated_at               INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, business_key),
	CHECK (progress IS NULL OR status = 'placed')
);
CREATE INDEX IF NOT EXISTS idx_records_status ON snapshot_records(snapshot_id, status);

CREATE TRIGGER IF NOT EXISTS archive_records_immutable
BEFORE UPDATE ON snapshot_records
WHEN EXISTS (SELECT 1 FROM snapshots WHERE id = OLD.snapshot_id AND parent_id IS NOT NULL)
BEGIN
	SELECT RAISE(ABORT, 'archive snapshots are immutable');
END;

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	head_id      TEXT NOT NULL REFERENCES snapshots(id),
	archive_id   TEXT NOT NULL DEFAULT '',
	group_key    TEXT NOT NULL,
	ship         TEXT NOT NULL,
	contract     TEXT NOT NULL,
	lot          TEXT NOT NULL DEFAULT '',
	project_code TEXT NOT NULL DEFAULT '',
	mode         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	file_sha256  TEXT NOT NULL DEFAULT '',
	source_name  TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '{}',
	diff         TEXT NOT NULL DEFAULT '{}',
	note         TEXT NOT NULL DEFAULT '',
	created_by   TEXT NOT NULL DEFAULT '',
	request_id   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_head ON import_runs(head_id, created_at);

CREATE TRIGGER IF NOT EXISTS import_runs_no_update
BEFORE UPDATE ON import_runs
BEGIN
	SELECT RAISE(ABORT, 'import runs are append-only');
END;

CREATE TRIGGER IF NOT EXISTS import_runs_no_delete
BEFORE DELETE ON import_runs
BEGIN
	SELECT RAISE(ABORT, 'import runs are append-only');
END;

CREATE TABLE IF NOT EXISTS import_run_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL REFERENCES import_runs(id),
	stage      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON import_run_events(run_id, id);
`
