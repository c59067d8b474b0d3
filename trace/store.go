package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Schema creates the sql_traces table.
const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL DEFAULT '',
	op          TEXT NOT NULL,
	query       TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	timestamp   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_tid ON sql_traces(trace_id) WHERE trace_id != '';
CREATE INDEX IF NOT EXISTS idx_sql_traces_duration ON sql_traces(duration_us);
`

const (
	bufferSize = 1024
	batchSize  = 64
)

// Store is a Recorder writing to the sql_traces table in batches. Entries
// arriving while the buffer is full are dropped.
type Store struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

// NewStore starts the flush loop. db must not use the tracing driver.
func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, bufferSize),
		done: make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the sql_traces table if needed.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

func (s *Store) RecordAsync(e *Entry) {
	select {
	case s.ch <- e:
	default:
	}
}

// Close flushes pending entries and stops the flush loop.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

// Slowest returns the slowest recorded statements of a trace, or of every
// trace when traceID is empty.
func (s *Store) Slowest(ctx context.Context, traceID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT trace_id, op, query, duration_us, error, timestamp FROM sql_traces`
	var args []any
	if traceID != "" {
		q += ` WHERE trace_id = ?`
		args = append(args, traceID)
	}
	q += ` ORDER BY duration_us DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("trace: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.Op, &e.Query, &e.DurationUs, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("trace: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Entry, 0, batchSize)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			s.flush(batch)
			batch = batch[:0]
		}
	}
}

func (s *Store) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace store: begin", "error", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO sql_traces (trace_id, op, query, duration_us, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		slog.Error("trace store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.TraceID, e.Op, e.Query, e.DurationUs, e.Error, e.Timestamp); err != nil {
			slog.Error("trace store: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace store: commit", "error", err, "entries", len(batch))
	}
}
