package observability

import "database/sql"

// Schema contains the DDL for the observability tables. It lives in a
// database separate from the record store so audit writes never contend
// with chunked import writes.
const Schema = `
-- one row per sync attempt: applied, skipped or failed
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id       TEXT PRIMARY KEY,
    timestamp      INTEGER NOT NULL,
    component_name TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    head_id        TEXT NOT NULL DEFAULT '',
    run_id         TEXT NOT NULL DEFAULT '',
    mode           TEXT NOT NULL DEFAULT '',
    stage          TEXT NOT NULL DEFAULT '',
    user_id        TEXT NOT NULL DEFAULT '',
    request_id     TEXT NOT NULL DEFAULT '',
    parameters     TEXT NOT NULL DEFAULT '{}',
    result         TEXT NOT NULL DEFAULT '',
    error_code     TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_head ON audit_log(head_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status);

CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id     TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    service_name TEXT NOT NULL,
    entity_type  TEXT,
    entity_id    TEXT,
    user_id      TEXT,
    action       TEXT NOT NULL,
    details      TEXT,
    success      INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_event_logs_type ON business_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_logs_entity ON business_event_logs(entity_type, entity_id);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
