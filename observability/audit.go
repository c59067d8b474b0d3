package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/cablesync/dbopen"
	"github.com/hazyhaar/cablesync/idgen"
)

// Audit statuses.
const (
	StatusApplied = "applied"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

const (
	flushEvery = 5 * time.Second
	flushBatch = 100
)

// AuditEntry is one sync attempt in the audit trail.
type AuditEntry struct {
	EntryID       string    `json:"entryId"`
	Timestamp     time.Time `json:"timestamp"`
	ComponentName string    `json:"componentName"`
	OperationType string    `json:"operationType"`

	HeadID string `json:"headId,omitempty"`
	RunID  string `json:"runId,omitempty"`
	Mode   string `json:"mode,omitempty"`
	Stage  string `json:"stage,omitempty"` // stage of the failure, empty on success

	UserID    string `json:"userId,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	Parameters   string `json:"parameters"`       // JSON
	Result       string `json:"result,omitempty"` // JSON
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DurationMs   int64  `json:"durationMs"`

	Status string `json:"status"`
}

// AuditFilter selects audit entries. A zero Limit means 100.
type AuditFilter struct {
	ComponentName string
	HeadID        string
	Status        string
	Since         time.Time
	Limit         uint64
}

// AuditLogger persists audit entries, synchronously or through a buffered
// flush loop that writes each batch in one transaction.
type AuditLogger struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
	ch    chan *AuditEntry
	stop  chan struct{}
	done  chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the generator for entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithAuditClock sets the clock used for entry timestamps.
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = now }
}

// NewAuditLogger starts an audit logger whose queue holds bufferSize
// entries. Close must be called once to drain it.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		now:   time.Now,
		ch:    make(chan *AuditEntry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// NewAuditEntry builds an entry for one operation. params and result are
// marshalled to JSON; a non-nil err marks the entry failed.
func (a *AuditLogger) NewAuditEntry(component, operation string, params, result any, err error, duration time.Duration) *AuditEntry {
	entry := &AuditEntry{
		EntryID:       a.newID(),
		Timestamp:     a.now(),
		ComponentName: component,
		OperationType: operation,
		DurationMs:    duration.Milliseconds(),
	}
	if params != nil {
		if b, e := json.Marshal(params); e == nil {
			entry.Parameters = string(b)
		}
	}
	if result != nil && err == nil {
		if b, e := json.Marshal(result); e == nil {
			entry.Result = string(b)
		}
	}
	if err != nil {
		entry.Status = StatusError
		entry.ErrorMessage = err.Error()
	}
	return entry
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return insertEntry(ctx, a.db, entry)
}

// LogAsync queues an entry. When the queue is full the entry is written
// synchronously instead of being dropped.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		slog.Warn("audit queue full, writing synchronously", "entry_id", entry.EntryID)
		if err := insertEntry(context.Background(), a.db, entry); err != nil {
			slog.Error("audit: synchronous write", "entry_id", entry.EntryID, "error", err)
		}
	}
}

var auditColumns = []string{
	"entry_id", "timestamp", "component_name", "operation_type",
	"head_id", "run_id", "mode", "stage",
	"user_id", "request_id", "parameters", "result",
	"error_code", "error_message", "duration_ms", "status",
}

// Query returns entries matching f, newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}
	b := sq.Select(auditColumns...).From("audit_log").
		OrderBy("timestamp DESC", "entry_id DESC").
		Limit(limit)
	if f.ComponentName != "" {
		b = b.Where(sq.Eq{"component_name": f.ComponentName})
	}
	if f.HeadID != "" {
		b = b.Where(sq.Eq{"head_id": f.HeadID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"timestamp": f.Since.UnixMilli()})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("audit: build query: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(
			&e.EntryID, &ts, &e.ComponentName, &e.OperationType,
			&e.HeadID, &e.RunID, &e.Mode, &e.Stage,
			&e.UserID, &e.RequestID, &e.Parameters, &e.Result,
			&e.ErrorCode, &e.ErrorMessage, &e.DurationMs, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close drains the queue and stops the flush loop.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}
	if e.Status == "" {
		e.Status = StatusApplied
		if e.ErrorMessage != "" {
			e.Status = StatusError
		}
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := dbopen.RunTx(ctx, a.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if err := insertEntry(ctx, tx, e); err != nil {
					return fmt.Errorf("entry %s: %w", e.EntryID, err)
				}
			}
			return nil
		})
		if err != nil {
			slog.Error("audit: flush", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, db execer, e *AuditEntry) error {
	query, args, err := sq.Insert("audit_log").Columns(auditColumns...).Values(
		e.EntryID, e.Timestamp.UnixMilli(), e.ComponentName, e.OperationType,
		e.HeadID, e.RunID, e.Mode, e.Stage,
		e.UserID, e.RequestID, e.Parameters, e.Result,
		e.ErrorCode, e.ErrorMessage, e.DurationMs, e.Status,
	).ToSql()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, query, args...)
	return err
}
