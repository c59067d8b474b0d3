package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/cablesync/idgen"
)

// BusinessEvent is a domain-level event (import completed, skipped, failed).
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	UserID      string
	Action      string
	Details     any // marshalled to JSON
	Success     bool
}

// EventLogger writes business events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a business event. Errors are logged via slog and never
// propagate: a failing observability store must not fail an import.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	var details string
	if event.Details != nil {
		if b, err := json.Marshal(event.Details); err == nil {
			details = string(b)
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			user_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.UserID, event.Action, details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// CountEvents returns how many events of eventType exist for an entity.
func (l *EventLogger) CountEvents(ctx context.Context, eventType, entityID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM business_event_logs WHERE event_type = ? AND entity_id = ?`,
		eventType, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Cleanup deletes events older than retentionDays. Zero keeps everything.
func (l *EventLogger) Cleanup(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	if _, err := l.db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup business_event_logs: %w", err)
	}
	return nil
}
