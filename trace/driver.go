package trace

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/cablesync/kit"
)

// TracingDriver wraps a driver and traces every prepared statement of the
// connections it opens.
type TracingDriver struct {
	driver.Driver
	Tracer *Tracer
}

func (d *TracingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	return &tracingConn{Conn: conn, t: d.Tracer}, nil
}

type tracingConn struct {
	driver.Conn
	t *Tracer
}

func (c *tracingConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.Conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, t: c.t}, nil
}

func (c *tracingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	pc, ok := c.Conn.(driver.ConnPrepareContext)
	if !ok {
		return c.Prepare(query)
	}
	stmt, err := pc.PrepareContext(ctx, query)
	if err != nil {
		c.t.record(ctx, "Prepare", query, 0, err)
		return nil, err
	}
	return &tracingStmt{Stmt: stmt, query: query, t: c.t}, nil
}

func (c *tracingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}

type tracingStmt struct {
	driver.Stmt
	query string
	t     *Tracer
}

func (s *tracingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var res driver.Result
	var err error
	if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = ec.ExecContext(ctx, args)
	} else {
		res, err = s.Stmt.Exec(values(args))
	}
	s.t.record(ctx, "Exec", s.query, time.Since(start), err)
	return res, err
}

func (s *tracingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var rows driver.Rows
	var err error
	if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = qc.QueryContext(ctx, args)
	} else {
		rows, err = s.Stmt.Query(values(args))
	}
	s.t.record(ctx, "Query", s.query, time.Since(start), err)
	return rows, err
}

func (t *Tracer) record(ctx context.Context, op, query string, d time.Duration, err error) {
	slow := t.threshold()
	// Pragmas are connection setup, only worth a trace when they misbehave.
	if err == nil && d < slow && strings.HasPrefix(strings.TrimSpace(query), "PRAGMA") {
		return
	}

	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case d >= slow:
		level = slog.LevelWarn
	}
	traceID := kit.GetTraceID(ctx)
	attrs := []slog.Attr{
		slog.String("component", "sql"),
		slog.String("op", op),
		slog.String("query", compact(query)),
		slog.Duration("duration", d),
	}
	if traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.LogAttrs(ctx, level, "sql", attrs...)

	if t.Recorder == nil {
		return
	}
	e := &Entry{
		TraceID:    traceID,
		Op:         op,
		Query:      query,
		DurationUs: d.Microseconds(),
		Timestamp:  time.Now().UnixMicro(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	t.Recorder.RecordAsync(e)
}

// compact folds the multi-line statements of the store onto one line.
func compact(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func values(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}
