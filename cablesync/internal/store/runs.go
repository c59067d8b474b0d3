package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/cablesync/dbopen"
)

// Mode says how an import run relates to the head it targets.
type Mode string

const (
	ModeInitial Mode = "initial"
	ModeUpdate  Mode = "update"
	ModeForced  Mode = "forced"
)

// Stage names an outcome appended to a run after its ledger entry.
type Stage string

const (
	StageFileFailed      Stage = "file_failed"
	StageArchiveWritten  Stage = "archive_written"
	StageArchiveFailed   Stage = "archive_failed"
	StageHeadMerged      Stage = "head_merged"
	StageHeadFailed      Stage = "head_failed"
	StagePresenceStamped Stage = "presence_stamped"
	StagePresenceFailed  Stage = "presence_failed"
	StageCompleted       Stage = "completed"
)

// ImportRun is the immutable ledger entry of one import attempt that got past
// the duplicate check.
type ImportRun struct {
	ID          string          `json:"id"`
	HeadID      string          `json:"headId"`
	ArchiveID   string          `json:"archiveId"`
	GroupKey    string          `json:"groupKey"`
	Scope       Scope           `json:"scope"`
	Mode        Mode            `json:"mode"`
	ContentHash string          `json:"contentHash"`
	FileSHA256  string          `json:"fileSha256,omitempty"`
	SourceName  string          `json:"sourceName,omitempty"`
	Summary     json.RawMessage `json:"summary"`
	Diff        json.RawMessage `json:"diff,omitempty"`
	Note        string          `json:"note,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Events      []RunEvent      `json:"events,omitempty"`
}

// RunEvent is one appended outcome of a run.
type RunEvent struct {
	ID     int64     `json:"id"`
	RunID  string    `json:"runId"`
	Stage  Stage     `json:"stage"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Ledger carries the head changes committed together with a run.
type Ledger struct {
	// NewHead is inserted when the run creates its group.
	NewHead *Snapshot
	// AdoptContainerID is set on an existing head that has none.
	AdoptContainerID string
}

// CreateRun inserts a ledger entry, together with the head changes in l, in
// a single transaction. A concurrent first import of the same group is
// reported as ErrConflict.
func (s *Store) CreateRun(ctx context.Context, run *ImportRun, l Ledger) error {
	summary, diff := run.Summary, run.Diff
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}
	if len(diff) == 0 {
		diff = json.RawMessage("{}")
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if l.NewHead != nil {
			if err := insertSnapshot(ctx, tx, l.NewHead); err != nil {
				if dbopen.IsConstraint(err) {
					return fmt.Errorf("create head for %s: %w", l.NewHead.GroupKey, ErrConflict)
				}
				return fmt.Errorf("create head: %w", err)
			}
		}
		if l.AdoptContainerID != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE snapshots SET container_id = ?, updated_at = ?
				WHERE id = ? AND container_id = ''`,
				l.AdoptContainerID, millis(run.CreatedAt), run.HeadID); err != nil {
				return fmt.Errorf("adopt container: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO import_runs (id, head_id, archive_id, group_key, ship, contract, lot, project_code,
				mode, content_hash, file_sha256, source_name, summary, diff, note, created_by, request_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.HeadID, run.ArchiveID, run.GroupKey, run.Scope.Ship, run.Scope.Contract, run.Scope.Lot,
			run.Scope.ProjectCode, string(run.Mode), run.ContentHash, run.FileSHA256, run.SourceName,
			string(summary), string(diff), run.Note, run.CreatedBy, run.RequestID, millis(run.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// AppendRunEvent records an outcome of a run.
func (s *Store) AppendRunEvent(ctx context.Context, runID string, stage Stage, detail string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO import_run_events (run_id, stage, detail, created_at) VALUES (?, ?, ?, ?)`,
		runID, string(stage), detail, millis(s.now()))
	if err != nil {
		return fmt.Errorf("store: append run event: %w", err)
	}
	return nil
}

var runColumns = []string{
	"id", "head_id", "archive_id", "group_key", "ship", "contract", "lot", "project_code", "mode",
	"content_hash", "file_sha256", "source_name", "summary", "diff", "note", "created_by", "request_id",
	"created_at",
}

func scanRun(rs rowScanner) (*ImportRun, error) {
	var (
		r             ImportRun
		mode          string
		summary, diff string
		created       int64
	)
	err := rs.Scan(&r.ID, &r.HeadID, &r.ArchiveID, &r.GroupKey, &r.Scope.Ship, &r.Scope.Contract,
		&r.Scope.Lot, &r.Scope.ProjectCode, &mode, &r.ContentHash, &r.FileSHA256, &r.SourceName,
		&summary, &diff, &r.Note, &r.CreatedBy, &r.RequestID, &created)
	if err != nil {
		return nil, err
	}
	r.Mode = Mode(mode)
	r.Summary = json.RawMessage(summary)
	r.Diff = json.RawMessage(diff)
	r.CreatedAt = fromMillis(created)
	return &r, nil
}

// GetRun returns a run with its events.
func (s *Store) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+joinColumns(runColumns)+` FROM import_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	if run.Events, err = s.RunEvents(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// RunEvents returns the events of a run in append order.
func (s *Store) RunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, stage, detail, created_at FROM import_run_events
		WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query run events: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var (
			e     RunEvent
			stage string
			at    int64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &stage, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("store: scan run event: %w", err)
		}
		e.Stage = Stage(stage)
		e.At = fromMillis(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	HeadID   string
	GroupKey string
	Mode     Mode
	Limit    uint64
}

// ListRuns returns runs matching f, newest first. The diff is omitted from
// the listing.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]ImportRun, error) {
	b := sq.Select(runColumns...).From("import_runs").OrderBy("created_at DESC", "id DESC")
	if f.HeadID != "" {
		b = b.Where(sq.Eq{"head_id": f.HeadID})
	}
	if f.GroupKey != "" {
		b = b.Where(sq.Eq{"group_key": f.GroupKey})
	}
	if f.Mode != "" {
		b = b.Where(sq.Eq{"mode": string(f.Mode)})
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build query: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	out := []ImportRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		run.Diff = nil
		out = append(out, *run)
	}
	return out, rows.Err()
}
