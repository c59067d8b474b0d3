package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/cablesync/dbopen"
	"github.com/hazyhaar/cablesync/idgen"
)

func TestInit_CreatesTables(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	for _, table := range []string{"audit_log", "business_event_logs"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestAuditLogger_LogAndQuery(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := t0
	a := NewAuditLogger(db, 10,
		WithAuditIDGenerator(idgen.Sequence("aud_")),
		WithAuditClock(func() time.Time { now = now.Add(time.Minute); return now }))
	defer a.Close()
	ctx := context.Background()

	ok := a.NewAuditEntry("cablesync", "sync", map[string]string{"ship": "S1"}, map[string]int{"total": 3}, nil, 40*time.Millisecond)
	ok.HeadID, ok.RunID, ok.Mode = "head_1", "run_1", "initial"
	if err := a.Log(ctx, ok); err != nil {
		t.Fatal(err)
	}
	failed := a.NewAuditEntry("cablesync", "sync", nil, map[string]int{"total": 0}, errors.New("header not found"), time.Millisecond)
	failed.Stage, failed.ErrorCode = "parse", "HEADER_NOT_FOUND"
	if err := a.Log(ctx, failed); err != nil {
		t.Fatal(err)
	}

	all, err := a.Query(ctx, AuditFilter{ComponentName: "cablesync"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].EntryID != "aud_2" {
		t.Fatalf("entries = %+v", all)
	}
	if got := all[1]; got.Status != StatusApplied || got.Mode != "initial" || got.Result != `{"total":3}` || !got.Timestamp.Equal(t0.Add(time.Minute)) {
		t.Errorf("applied entry = %+v", got)
	}
	if got := all[0]; got.Status != StatusError || got.Result != "" || got.Stage != "parse" || got.ErrorCode != "HEADER_NOT_FOUND" {
		t.Errorf("failed entry = %+v", got)
	}

	byHead, err := a.Query(ctx, AuditFilter{HeadID: "head_1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byHead) != 1 || byHead[0].RunID != "run_1" {
		t.Errorf("head entries = %+v", byHead)
	}

	recent, err := a.Query(ctx, AuditFilter{Since: t0.Add(90 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].EntryID != "aud_2" {
		t.Errorf("recent entries = %+v", recent)
	}

	limited, err := a.Query(ctx, AuditFilter{Status: StatusError, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ErrorMessage != "header not found" {
		t.Errorf("error entries = %+v", limited)
	}
}

func TestAuditLogger_AsyncFlushOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	a := NewAuditLogger(db, 1)
	for range 3 {
		a.LogAsync(&AuditEntry{ComponentName: "cablesync", OperationType: "sync", Status: StatusSkipped})
	}
	a.Close()

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE status = 'skipped'`).Scan(&n)
	if n != 3 {
		t.Fatalf("flushed entries = %d, want 3", n)
	}
}

func TestEventLogger(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := NewEventLogger(db)
	ctx := context.Background()

	l.LogEvent(ctx, BusinessEvent{
		EventType:   "import.completed",
		ServiceName: "cablesync",
		EntityType:  "head",
		EntityID:    "head_1",
		Action:      "sync",
		Details:     map[string]int{"added": 2},
		Success:     true,
	})
	n, err := l.CountEvents(ctx, "import.completed", "head_1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
	if err := l.Cleanup(ctx, 30); err != nil {
		t.Fatal(err)
	}
}
