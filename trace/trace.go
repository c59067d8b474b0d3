// Package trace wraps modernc.org/sqlite connections so every statement they
// run is reported.
//
// Each statement is logged through slog (Debug, Warn when slower than the
// tracer's threshold, Error on failure) with the request trace id taken from
// kit.GetTraceID, and handed to the tracer's Recorder, if any:
//
//	obs, _ := dbopen.Open("cablesync_obs.db")
//	rec := trace.NewStore(obs)
//	rec.Init()
//	t := &trace.Tracer{Recorder: rec, Slow: 250 * time.Millisecond}
//
//	db, _ := dbopen.Open("cablesync.db", dbopen.WithConnector(t.Connector))
//
// The Recorder's own database must not be opened through a tracer, or its
// inserts would be traced in turn.
package trace

import (
	"context"
	"database/sql/driver"
	"time"

	sqlite "modernc.org/sqlite"
)

// DefaultSlowThreshold is the duration past which a statement is logged at
// Warn level and always recorded.
const DefaultSlowThreshold = 100 * time.Millisecond

// Entry is one traced statement.
type Entry struct {
	TraceID    string `json:"traceId,omitempty"`
	Op         string `json:"op"` // "Exec", "Query" or "Prepare"
	Query      string `json:"query"`
	DurationUs int64  `json:"durationUs"`
	Error      string `json:"error,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix microseconds
}

// Recorder persists entries. RecordAsync must not block the caller.
type Recorder interface {
	RecordAsync(e *Entry)
	Close() error
}

// Tracer reports the statements of the connections it opens. A nil
// Recorder leaves slog as the only sink; a zero Slow means
// DefaultSlowThreshold.
type Tracer struct {
	Recorder Recorder
	Slow     time.Duration
}

// Connector returns a connector that opens dsn with the modernc driver and
// traces every connection. Its signature fits dbopen.WithConnector.
func (t *Tracer) Connector(dsn string) driver.Connector {
	return &connector{dsn: dsn, drv: &TracingDriver{Driver: &sqlite.Driver{}, Tracer: t}}
}

func (t *Tracer) threshold() time.Duration {
	if t.Slow <= 0 {
		return DefaultSlowThreshold
	}
	return t.Slow
}

type connector struct {
	dsn string
	drv *TracingDriver
}

func (c *connector) Connect(context.Context) (driver.Conn, error) { return c.drv.Open(c.dsn) }

func (c *connector) Driver() driver.Driver { return c.drv }
