package cablesync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/cablesync/dbopen"
)

func TestOpenEngine_WiresStores(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "data", "cablesync.db")
	cfg.ObservabilityDBPath = filepath.Join(dir, "data", "obs.db")
	cfg.BlobDir = filepath.Join(dir, "blobs")
	cfg.TraceSQL = true
	cfg.BusyTimeoutMS = 2500
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	e, err := OpenEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if e.Audit == nil || e.Events == nil || e.Blobs == nil || e.Traces == nil || e.Store.ChunkSize != cfg.ChunkSize {
		t.Fatalf("engine = %+v", e)
	}
	ctx := context.Background()
	var busy int
	if err := e.Store.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 2500 {
		t.Errorf("busy_timeout = %d", busy)
	}
	if err := e.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := e.Sync(ctx, Request{Scope: scope, ContainerID: "cnt_1", FileName: "cavi.csv", Data: initialFile})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	obs, err := dbopen.Open(cfg.ObservabilityDBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer obs.Close()
	var audits, events, traces int
	obs.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE component_name = 'cablesync'`).Scan(&audits)
	obs.QueryRow(`SELECT COUNT(*) FROM business_event_logs WHERE entity_id = ?`, res.HeadID).Scan(&events)
	obs.QueryRow(`SELECT COUNT(*) FROM sql_traces WHERE query LIKE '%snapshot_records%'`).Scan(&traces)
	if audits != 1 || events != 1 {
		t.Errorf("audits = %d, events = %d", audits, events)
	}
	if traces == 0 {
		t.Error("store statements were not traced")
	}
}

func TestOpenEngine_WithoutObservability(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "cablesync.db")
	cfg.ObservabilityDBPath = ""
	e, err := OpenEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Audit != nil || e.Events != nil || e.Blobs != nil || e.Traces != nil {
		t.Errorf("engine = %+v", e)
	}
	if _, err := e.Sync(context.Background(), Request{Scope: scope, ContainerID: "cnt_1", FileName: "cavi.csv", Data: initialFile}); err != nil {
		t.Fatal(err)
	}
}
