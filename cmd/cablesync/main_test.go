package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/cablesync/auth"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := strings.Join(extra, "\n") + "\n" +
		"db_path: " + filepath.Join(dir, "cablesync.db") + "\n" +
		"observability_db_path: " + filepath.Join(dir, "obs.db") + "\n" +
		"blob_dir: " + filepath.Join(dir, "blobs") + "\n" +
		"jwt_secret: " + secret + "\n" +
		"log_level: error\n"
	path := filepath.Join(dir, "cablesync.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "token", "--user", "u1", "--role", "planner")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.ValidateToken([]byte(secret), strings.TrimSpace(out))
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "u1" || claims.Role != "planner" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestImportAndRunsCommands(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "cavi.csv")
	data := "Codice cavo;Situazione cavo\nC1;P\nC2;T\n"
	if err := os.WriteFile(file, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	scope := []string{"--ship", "C.6123", "--contract", "ELE-04"}
	args := append([]string{"--config", cfg, "import", file, "--container", "cnt_1", "--actor", "tester"}, scope...)
	out, err := execute(t, args...)
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Mode        string `json:"mode"`
		ImportRunID string `json:"importRunId"`
		Total       int    `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("%v: %s", err, out)
	}
	if res.Mode != "initial" || res.Total != 2 || res.ImportRunID == "" {
		t.Errorf("res = %+v", res)
	}

	out, err = execute(t, append([]string{"--config", cfg, "runs"}, scope...)...)
	if err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Runs []struct {
			ID        string `json:"id"`
			CreatedBy string `json:"createdBy"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("%v: %s", err, out)
	}
	if len(listing.Runs) != 1 || listing.Runs[0].ID != res.ImportRunID || listing.Runs[0].CreatedBy != "tester" {
		t.Errorf("runs = %+v", listing.Runs)
	}
}

func TestTracesCommand(t *testing.T) {
	cfg := writeConfig(t, "trace_sql: true")
	file := filepath.Join(t.TempDir(), "cavi.csv")
	if err := os.WriteFile(file, []byte("Codice cavo;Situazione cavo\nC1;P\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", cfg, "import", file, "--container", "cnt_1", "--ship", "C.6123", "--contract", "ELE-04"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfg, "traces", "--slowest", "3")
	if err != nil {
		t.Fatal(err)
	}
	var listing struct {
		Traces []struct {
			Op         string `json:"op"`
			Query      string `json:"query"`
			DurationUs int64  `json:"durationUs"`
		} `json:"traces"`
	}
	if err := json.Unmarshal([]byte(out), &listing); err != nil {
		t.Fatalf("%v: %s", err, out)
	}
	if len(listing.Traces) != 3 {
		t.Fatalf("traces = %+v", listing.Traces)
	}
	for i := 1; i < len(listing.Traces); i++ {
		if listing.Traces[i].DurationUs > listing.Traces[i-1].DurationUs {
			t.Errorf("not sorted by duration: %+v", listing.Traces)
		}
	}

	out, err = execute(t, "--config", cfg, "traces", "--trace", "no-such-trace")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"traces": []`) {
		t.Errorf("out = %s", out)
	}
}

func TestImportCommand_RequiresScope(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "cavi.csv")
	os.WriteFile(file, []byte("Codice cavo\nC1\n"), 0o600)
	if _, err := execute(t, "--config", cfg, "import", file, "--ship", "C.6123"); err == nil {
		t.Error("expected missing scope error")
	}
}
