package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/hazyhaar/cablesync/cablesync/internal/record"
	"github.com/hazyhaar/cablesync/dbopen"
)

var recordColumns = []string{
	"business_key", "secondary_id", "section", "description", "cable_type", "formation",
	"zone_from", "zone_to", "apparatus_from", "apparatus_to", "design_length", "installed_length",
	"status", "status_origin", "status_raw", "progress", "last_seen_at", "missing_in_latest_import",
	"changed_in_source", "last_import_run_id", "revision",
}

func joinColumns(cols []string) string { return strings.Join(cols, ", ") }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func recordValues(r *record.Record) []any {
	var design, installed, progress, seen any
	if v, ok := r.DesignLength.Get(); ok {
		design = v
	}
	if v, ok := r.InstalledLength.Get(); ok {
		installed = v
	}
	if r.Progress != record.ProgressNone {
		progress = int(r.Progress)
	}
	if !r.LastSeenAt.IsZero() {
		seen = millis(r.LastSeenAt)
	}
	return []any{
		r.Key, r.SecondaryID, r.Section, r.Description, r.CableType, r.Formation,
		r.ZoneFrom, r.ZoneTo, r.ApparatusFrom, r.ApparatusTo, design, installed,
		r.Status.String(), int(r.StatusOrigin), r.StatusRaw, progress, seen, r.MissingInLatestImport,
		r.ChangedInSource, r.LastImportRunID, r.Revision,
	}
}

func scanRecord(rs rowScanner) (record.Record, error) {
	var (
		r                 record.Record
		design, installed sql.NullFloat64
		progress, seen    sql.NullInt64
		status            string
		origin            int
	)
	err := rs.Scan(&r.Key, &r.SecondaryID, &r.Section, &r.Description, &r.CableType, &r.Formation,
		&r.ZoneFrom, &r.ZoneTo, &r.ApparatusFrom, &r.ApparatusTo, &design, &installed,
		&status, &origin, &r.StatusRaw, &progress, &seen, &r.MissingInLatestImport,
		&r.ChangedInSource, &r.LastImportRunID, &r.Revision)
	if err != nil {
		return r, err
	}
	if design.Valid {
		r.DesignLength = record.Some(design.Float64)
	}
	if installed.Valid {
		r.InstalledLength = record.Some(installed.Float64)
	}
	if r.Status, err = record.ParseStatus(status); err != nil {
		return r, err
	}
	r.StatusOrigin = record.Origin(origin)
	if progress.Valid {
		r.Progress = record.Progress(progress.Int64)
	}
	if seen.Valid {
		r.LastSeenAt = fromMillis(seen.Int64)
	}
	return r, nil
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Status  *record.Status
	Missing *bool
	Limit   uint64
	Offset  uint64
}

// LoadRecords returns every record of a snapshot ordered by key.
func (s *Store) LoadRecords(ctx context.Context, snapshotID string) ([]record.Record, error) {
	return s.ListRecords(ctx, snapshotID, RecordFilter{})
}

// ListRecords returns the records of a snapshot matching f, ordered by key.
func (s *Store) ListRecords(ctx context.Context, snapshotID string, f RecordFilter) ([]record.Record, error) {
	b := sq.Select(recordColumns...).From("snapshot_records").
		Where(sq.Eq{"snapshot_id": snapshotID}).
		OrderBy("business_key ASC")
	if f.Status != nil {
		b = b.Where(sq.Eq{"status": f.Status.String()})
	}
	if f.Missing != nil {
		b = b.Where(sq.Eq{"missing_in_latest_import": *f.Missing})
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit).Offset(f.Offset)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build query: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query records: %w", err)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of head records per status, excluding
// records missing from the latest import.
func (s *Store) CountByStatus(ctx context.Context, snapshotID string) (map[record.Status]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM snapshot_records
		WHERE snapshot_id = ? AND missing_in_latest_import = 0
		GROUP BY status`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("store: count records: %w", err)
	}
	defer rows.Close()

	out := map[record.Status]int{}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		st, err := record.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

var insertRecordSQL = `INSERT INTO snapshot_records (snapshot_id, ` + joinColumns(recordColumns) + `, updated_at)
	VALUES (?, ` + placeholders(len(recordColumns)) + `, ?)`

// WriteArchive stores an immutable copy of a batch under a new snapshot whose
// parent is the head. Rows are written in sequential chunks of ChunkSize,
// each in its own transaction. If any chunk fails the partial archive is
// removed and the chunk error is returned.
func (s *Store) WriteArchive(ctx context.Context, archive *Snapshot, recs []record.Record) error {
	if archive.ParentID == "" {
		return fmt.Errorf("store: archive %s has no parent", archive.ID)
	}
	archive.RecordCount = len(recs)
	if err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return insertSnapshot(ctx, tx, archive)
	}); err != nil {
		return fmt.Errorf("store: create archive: %w", err)
	}

	now := millis(s.now())
	err := dbopen.Chunks(len(recs), s.ChunkSize, func(lo, hi int) error {
		return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i := lo; i < hi; i++ {
				r := recs[i]
				r.Revision = 0
				args := append([]any{archive.ID}, recordValues(&r)...)
				if _, err := stmt.ExecContext(ctx, append(args, now)...); err != nil {
					return fmt.Errorf("record %s: %w", r.Key, err)
				}
			}
			return nil
		})
	})
	if err == nil {
		return nil
	}
	if derr := s.DeleteSnapshot(context.WithoutCancel(ctx), archive.ID); derr != nil {
		return errors.Join(fmt.Errorf("store: write archive: %w", err), fmt.Errorf("store: remove partial archive: %w", derr))
	}
	return fmt.Errorf("store: write archive: %w", err)
}

// WriteHead upserts merged records into the head in chunks. Records with a
// zero Revision are inserted; the others are updated only if the stored
// revision still matches. Either collision is reported as ErrConflict.
// Every written row has its revision incremented.
func (s *Store) WriteHead(ctx context.Context, headID string, recs []record.Record) error {
	setCols := make([]string, 0, len(recordColumns))
	for _, c := range recordColumns[1:] {
		if c == "revision" {
			continue
		}
		setCols = append(setCols, c+" = ?")
	}
	updateSQL := `UPDATE snapshot_records SET ` + strings.Join(setCols, ", ") + `,
		revision = revision + 1, updated_at = ?
		WHERE snapshot_id = ? AND business_key = ? AND revision = ?`

	now := millis(s.now())
	err := dbopen.Chunks(len(recs), s.ChunkSize, func(lo, hi int) error {
		return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			for i := lo; i < hi; i++ {
				r := recs[i]
				if r.Revision == 0 {
					r.Revision = 1
					args := append([]any{headID}, recordValues(&r)...)
					if _, err := tx.ExecContext(ctx, insertRecordSQL, append(args, now)...); err != nil {
						if dbopen.IsConstraint(err) {
							return fmt.Errorf("insert %s: %w", r.Key, ErrConflict)
						}
						return fmt.Errorf("insert %s: %w", r.Key, err)
					}
					continue
				}
				vals := recordValues(&r)
				args := append(vals[1:len(vals)-1:len(vals)-1], now, headID, r.Key, r.Revision)
				res, err := tx.ExecContext(ctx, updateSQL, args...)
				if err != nil {
					return fmt.Errorf("update %s: %w", r.Key, err)
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return fmt.Errorf("update %s at revision %d: %w", r.Key, r.Revision, ErrConflict)
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("store: write head: %w", err)
	}
	return nil
}

// StampMissing flags head records whose keys are in keys as missing from
// the latest import and clears their changed flag. Records already flagged
// are left untouched. It returns the number of rows newly flagged.
func (s *Store) StampMissing(ctx context.Context, headID string, keys []string) (int, error) {
	now := millis(s.now())
	total := 0
	err := dbopen.Chunks(len(keys), s.ChunkSize, func(lo, hi int) error {
		return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
			q, args, err := sq.Update("snapshot_records").
				Set("missing_in_latest_import", true).
				Set("changed_in_source", false).
				Set("revision", sq.Expr("revision + 1")).
				Set("updated_at", now).
				Where(sq.Eq{"snapshot_id": headID, "business_key": keys[lo:hi], "missing_in_latest_import": false}).
				ToSql()
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += int(n)
			return nil
		})
	})
	if err != nil {
		return total, fmt.Errorf("store: stamp missing: %w", err)
	}
	return total, nil
}
