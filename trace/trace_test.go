package trace

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/cablesync/dbopen"
	"github.com/hazyhaar/cablesync/kit"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memRecorder) RecordAsync(e *Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, *e)
	m.mu.Unlock()
}

func (m *memRecorder) Close() error { return nil }

func (m *memRecorder) find(substr string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if strings.Contains(e.Query, substr) {
			out = append(out, e)
		}
	}
	return out
}

func tracedDB(t *testing.T, tr *Tracer, opts ...dbopen.Option) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, append([]dbopen.Option{dbopen.WithConnector(tr.Connector)}, opts...)...)
}

func TestTracer_RecordsStatements(t *testing.T) {
	rec := &memRecorder{}
	db := tracedDB(t, &Tracer{Recorder: rec})

	ctx := kit.WithTraceID(context.Background(), "req_1")
	if _, err := db.ExecContext(ctx, `CREATE TABLE cables (key TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO cables VALUES (?)`, "C1"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cables`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO cables VALUES (?)`, "C1"); err == nil {
		t.Fatal("duplicate insert accepted")
	}

	inserts := rec.find("INSERT INTO cables")
	if len(inserts) != 2 {
		t.Fatalf("inserts = %+v", inserts)
	}
	if inserts[0].TraceID != "req_1" || inserts[0].Op != "Exec" || inserts[0].Error != "" {
		t.Errorf("first insert = %+v", inserts[0])
	}
	if inserts[1].Error == "" {
		t.Error("failed insert has no error")
	}
	if q := rec.find("SELECT COUNT(*) FROM cables"); len(q) != 1 || q[0].Op != "Query" {
		t.Errorf("queries = %+v", q)
	}
	if p := rec.find("PRAGMA"); len(p) != 0 {
		t.Errorf("pragmas traced: %+v", p)
	}
}

func TestTracer_Transactions(t *testing.T) {
	rec := &memRecorder{}
	db := tracedDB(t, &Tracer{Recorder: rec}, dbopen.WithSchema(`CREATE TABLE t (x INTEGER)`))

	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t VALUES (1)`)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.find("INSERT INTO t")) != 1 {
		t.Errorf("transaction statement not traced")
	}
}

func TestTracer_SlowThreshold(t *testing.T) {
	rec := &memRecorder{}
	db := tracedDB(t, &Tracer{Recorder: rec, Slow: time.Nanosecond})

	if _, err := db.Exec(`PRAGMA user_version = 3`); err != nil {
		t.Fatal(err)
	}
	if len(rec.find("PRAGMA user_version")) != 1 {
		t.Error("slow pragma not traced")
	}

	if d := (&Tracer{}).threshold(); d != DefaultSlowThreshold {
		t.Errorf("threshold = %v", d)
	}
}

func TestTracer_SeparateRecorders(t *testing.T) {
	a, b := &memRecorder{}, &memRecorder{}
	dbA := tracedDB(t, &Tracer{Recorder: a})
	tracedDB(t, &Tracer{Recorder: b})

	if _, err := dbA.Exec(`CREATE TABLE only_a (x INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if len(a.find("only_a")) != 1 || len(b.find("only_a")) != 0 {
		t.Errorf("a = %+v, b = %+v", a.entries, b.entries)
	}
}

func TestStore_FlushAndSlowest(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s := NewStore(db)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	for i := range 100 {
		s.RecordAsync(&Entry{TraceID: "req_1", Op: "Exec", Query: "INSERT", DurationUs: int64(i), Timestamp: time.Now().UnixMicro()})
	}
	s.RecordAsync(&Entry{TraceID: "req_2", Op: "Query", Query: "SELECT", DurationUs: 5000, Error: "boom"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Close()

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM sql_traces`).Scan(&n)
	if n != 101 {
		t.Fatalf("%d traces stored", n)
	}

	top, err := s.Slowest(context.Background(), "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0].TraceID != "req_2" || top[0].Error != "boom" || top[1].DurationUs != 99 {
		t.Errorf("slowest = %+v", top)
	}
	one, _ := s.Slowest(context.Background(), "req_1", 1)
	if len(one) != 1 || one[0].DurationUs != 99 {
		t.Errorf("slowest of req_1 = %+v", one)
	}
}
