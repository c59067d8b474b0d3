package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/cablesync/dbopen"
)

var snapshotColumns = []string{
	"id", "group_key", "ship", "contract", "lot", "project_code", "container_id",
	"content_hash", "parent_id", "record_count", "source_name", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (*Snapshot, error) {
	var (
		s                Snapshot
		parent           sql.NullString
		created, updated int64
	)
	err := r.Scan(&s.ID, &s.GroupKey, &s.Ship, &s.Contract, &s.Lot, &s.ProjectCode, &s.ContainerID,
		&s.ContentHash, &parent, &s.RecordCount, &s.SourceName, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.ParentID = parent.String
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func (s *Store) querySnapshots(ctx context.Context, b sq.SelectBuilder) ([]Snapshot, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build query: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// MatchingSnapshots returns every snapshot, head or archive, whose group key
// equals the scope's or whose raw ship, contract and lot equal the scope's.
// Results are ordered by creation time, then id.
func (s *Store) MatchingSnapshots(ctx context.Context, scope Scope) ([]Snapshot, error) {
	b := sq.Select(snapshotColumns...).From("snapshots").
		Where(sq.Or{
			sq.Eq{"group_key": scope.GroupKey()},
			sq.Eq{"ship": scope.Ship, "contract": scope.Contract, "lot": scope.Lot},
		}).
		OrderBy("created_at ASC", "id ASC")
	return s.querySnapshots(ctx, b)
}

// GetSnapshot returns a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+joinColumns(snapshotColumns)+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	return snap, nil
}

// ListArchives returns the archives of a head, newest first.
func (s *Store) ListArchives(ctx context.Context, headID string) ([]Snapshot, error) {
	b := sq.Select(snapshotColumns...).From("snapshots").
		Where(sq.Eq{"parent_id": headID}).
		OrderBy("created_at DESC", "id DESC")
	return s.querySnapshots(ctx, b)
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (`+joinColumns(snapshotColumns)+`)
		VALUES (`+placeholders(len(snapshotColumns))+`)`,
		snap.ID, snap.GroupKey, snap.Ship, snap.Contract, snap.Lot, snap.ProjectCode, snap.ContainerID,
		snap.ContentHash, nullString(snap.ParentID), snap.RecordCount, snap.SourceName,
		millis(snap.CreatedAt), millis(snap.UpdatedAt))
	return err
}

// FinalizeHead records the content hash of the batch that was fully applied
// to the head, and refreshes its record count. It is the last write of a run.
func (s *Store) FinalizeHead(ctx context.Context, headID, contentHash, sourceName string) error {
	res, err := dbopen.Exec(ctx, s.DB, `
		UPDATE snapshots SET
			content_hash = ?,
			source_name  = ?,
			record_count = (SELECT COUNT(*) FROM snapshot_records WHERE snapshot_id = ?),
			updated_at   = ?
		WHERE id = ? AND parent_id IS NULL`,
		contentHash, sourceName, headID, millis(s.now()), headID)
	if err != nil {
		return fmt.Errorf("store: finalize head: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("head %s: %w", headID, ErrNotFound)
	}
	return nil
}

// DeleteSnapshot removes an archive and its records. Heads cannot be deleted.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var parent sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM snapshots WHERE id = ?`, id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !parent.Valid {
			return fmt.Errorf("store: refusing to delete head %s", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_records WHERE snapshot_id = ?`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
		return err
	})
}
