package cablesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/cablesync/cablesync/internal/blob"
	"github.com/hazyhaar/cablesync/cablesync/internal/record"
	"github.com/hazyhaar/cablesync/cablesync/internal/sheet"
	"github.com/hazyhaar/cablesync/cablesync/internal/store"
	"github.com/hazyhaar/cablesync/kit"
	"github.com/hazyhaar/cablesync/observability"
)

// Stage is a step of the import state machine.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageParse     Stage = "parse"
	StageNormalize Stage = "normalize"
	StageDedup     Stage = "dedup"
	StageHash      Stage = "hash"
	StageResolve   Stage = "resolve"
	StageDiff      Stage = "diff"
	StageLedger    Stage = "ledger_write"
	StageArchive   Stage = "archive_write"
	StageHeadMerge Stage = "head_merge_write"
	StagePresence  Stage = "presence_stamp"
	StageDone      Stage = "done"
)

// ReasonDuplicateContent is the skip reason when the batch equals the head.
const ReasonDuplicateContent = "DUPLICATE_CONTENT_HASH"

// Request is one spreadsheet upload.
type Request struct {
	Scope       Scope
	ContainerID string
	Note        string
	Force       bool // apply even when the content hash equals the head's
	FileName    string
	Data        []byte
	// Actor and RequestID default to the kit values of the context.
	Actor     string
	RequestID string
}

// Counts summarizes the records of a batch.
type Counts struct {
	RowsRead int            `json:"rowsRead"`
	Records  int            `json:"records"`
	ByStatus map[string]int `json:"byStatus"`
}

// Debug carries parsing diagnostics returned with a successful import.
type Debug struct {
	Duplicates              record.DuplicateStats `json:"duplicates"`
	NonStandardStatusValues []sheet.ValueCount    `json:"nonStandardStatusValues"`
	UnparseableNumbers      map[string]int        `json:"unparseableNumbers"`
	HeaderRowIndex          int                   `json:"headerRowIndex"`
	Sheet                   string                `json:"sheet"`
}

// Result is the outcome of a successful or skipped import.
type Result struct {
	Skipped        bool               `json:"skipped,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	HeadID         string             `json:"headId"`
	ArchiveID      string             `json:"archiveId,omitempty"`
	ImportRunID    string             `json:"importRunId,omitempty"`
	Mode           store.Mode         `json:"mode,omitempty"`
	Total          int                `json:"total,omitempty"`
	Counts         Counts             `json:"counts"`
	ProgressCounts map[string]int     `json:"progressCounts,omitempty"`
	Diff           *record.DiffCounts `json:"diff,omitempty"`
	ContentHash    string             `json:"contentHash"`
	Debug          *Debug             `json:"debug,omitempty"`
}

// Summary is the parsing summary stored on the import run.
type Summary struct {
	FileName                string                `json:"fileName"`
	Sheet                   string                `json:"sheet"`
	HeaderRowIndex          int                   `json:"headerRowIndex"`
	RowsRead                int                   `json:"rowsRead"`
	BlankRows               int                   `json:"blankRows"`
	RowsWithoutKey          int                   `json:"rowsWithoutKey"`
	Records                 int                   `json:"records"`
	Duplicates              record.DuplicateStats `json:"duplicates"`
	NonStandardStatusValues []sheet.ValueCount    `json:"nonStandardStatusValues"`
	UnparseableNumbers      map[string]int        `json:"unparseableNumbers"`
	ContainerID             string                `json:"containerId,omitempty"`
}

// run holds the state of one Sync call as it moves through the stages.
type run struct {
	req    *Request
	scope  Scope
	log    *slog.Logger
	stage  Stage
	counts *Counts
	runID  string
	headID string
}

func (r *run) fail(err error) error {
	return &SyncError{Kind: classify(err), Stage: r.stage, Scope: r.scope, RunID: r.runID, Counts: r.counts, Err: err}
}

// Sync imports one spreadsheet: PARSE, NORMALIZE, DEDUP, HASH, then either
// SKIP when the head already holds the same content, or DIFF, LEDGER_WRITE,
// ARCHIVE_WRITE, HEAD_MERGE_WRITE, PRESENCE_STAMP and DONE. Nothing is
// written before LEDGER_WRITE. Errors are *SyncError.
func (e *Engine) Sync(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.Actor == "" {
		req.Actor = kit.Actor(ctx)
	}
	if req.RequestID == "" {
		req.RequestID = kit.GetRequestID(ctx)
	}
	r := &run{req: &req, scope: req.Scope.Trimmed()}
	r.log = e.logger(ctx).With("group_key", r.scope.GroupKey(), "source", req.FileName)

	res, err := e.sync(ctx, r)
	e.observe(ctx, r, res, err, time.Since(start))
	return res, err
}

func (e *Engine) sync(ctx context.Context, r *run) (*Result, error) {
	req := r.req

	r.stage = StageValidate
	if r.scope.Ship == "" || r.scope.Contract == "" {
		return nil, r.fail(ErrMissingScopeIdentifiers)
	}
	if e.MaxFileBytes > 0 && int64(len(req.Data)) > e.MaxFileBytes {
		return nil, r.fail(fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, e.MaxFileBytes))
	}

	r.stage = StageParse
	tbl, err := sheet.ReadTable(req.FileName, req.Data, e.HeaderScanRows)
	if err != nil {
		return nil, r.fail(err)
	}
	r.log.Debug("header located", "sheet", tbl.Sheet, "row", tbl.Header.Row, "score", tbl.Header.Score)

	r.stage = StageNormalize
	rows, nstats := sheet.Normalize(tbl.Rows, tbl.Header)
	r.counts = &Counts{RowsRead: nstats.RowsRead}
	if len(rows) == 0 {
		return nil, r.fail(ErrNoRecordsParsed)
	}

	r.stage = StageDedup
	batch, dups := record.Dedup(rows)
	counts := countRecords(batch)
	counts.RowsRead = nstats.RowsRead
	r.counts = &counts

	r.stage = StageHash
	hash := record.ContentHash(batch)

	r.stage = StageResolve
	res, err := e.resolveHead(ctx, r.scope, strings.TrimSpace(req.ContainerID))
	if err != nil {
		return nil, r.fail(err)
	}
	head := res.head
	r.headID = head.ID
	r.log = r.log.With("head_id", head.ID)

	duplicate := !res.isNew && head.ContentHash == hash
	if duplicate && !req.Force {
		r.log.Info("import skipped", "reason", ReasonDuplicateContent, "content_hash", hash)
		return &Result{
			Skipped:     true,
			Reason:      ReasonDuplicateContent,
			HeadID:      head.ID,
			Counts:      counts,
			ContentHash: hash,
		}, nil
	}

	r.stage = StageDiff
	var current []record.Record
	if !res.isNew {
		if current, err = e.Store.LoadRecords(ctx, head.ID); err != nil {
			return nil, r.fail(err)
		}
	}
	diff := record.Diff(presentRecords(current), batch)

	mode := store.ModeUpdate
	switch {
	case res.isNew:
		mode = store.ModeInitial
	case duplicate:
		mode = store.ModeForced
	}

	r.stage = StageLedger
	now := e.Now()
	fileSHA := ""
	if e.Blobs != nil {
		fileSHA = blob.Sum(req.Data)
	}
	summary, err := json.Marshal(Summary{
		FileName:                req.FileName,
		Sheet:                   tbl.Sheet,
		HeaderRowIndex:          tbl.Header.Row,
		RowsRead:                nstats.RowsRead,
		BlankRows:               nstats.BlankRows,
		RowsWithoutKey:          nstats.RowsWithoutKey,
		Records:                 len(batch),
		Duplicates:              dups,
		NonStandardStatusValues: nstats.NonStandardStatus,
		UnparseableNumbers:      nstats.UnparseableNumbers,
		ContainerID:             res.containerID,
	})
	if err != nil {
		return nil, r.fail(err)
	}
	diffJSON, err := json.Marshal(diff)
	if err != nil {
		return nil, r.fail(err)
	}
	ir := &store.ImportRun{
		ID:          e.NewRunID(),
		HeadID:      head.ID,
		ArchiveID:   e.NewArchiveID(),
		GroupKey:    r.scope.GroupKey(),
		Scope:       r.scope,
		Mode:        mode,
		ContentHash: hash,
		FileSHA256:  fileSHA,
		SourceName:  req.FileName,
		Summary:     summary,
		Diff:        diffJSON,
		Note:        req.Note,
		CreatedBy:   req.Actor,
		RequestID:   req.RequestID,
		CreatedAt:   now,
	}
	ledger := store.Ledger{AdoptContainerID: res.adopt}
	if res.isNew {
		ledger.NewHead = head
	}
	if err := e.Store.CreateRun(ctx, ir, ledger); err != nil {
		return nil, r.fail(err)
	}
	r.runID = ir.ID
	r.log = r.log.With("run_id", ir.ID)
	r.log.Info("import run recorded", "mode", mode, "records", len(batch),
		"added", len(diff.Added), "removed", len(diff.Removed), "changed", len(diff.Changed))

	if e.Blobs != nil {
		if _, err := e.Blobs.Put(req.FileName, req.Data); err != nil {
			r.log.Warn("raw file not retained", "error", err)
			e.event(ctx, r, store.StageFileFailed, err.Error())
		}
	}

	r.stage = StageArchive
	archive := &store.Snapshot{
		ID:          ir.ArchiveID,
		GroupKey:    head.GroupKey,
		Scope:       head.Scope,
		ContainerID: res.containerID,
		ContentHash: hash,
		ParentID:    head.ID,
		SourceName:  req.FileName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Store.WriteArchive(ctx, archive, batch); err != nil {
		e.event(ctx, r, store.StageArchiveFailed, err.Error())
		return nil, r.fail(err)
	}
	e.event(ctx, r, store.StageArchiveWritten, fmt.Sprintf("%d records", len(batch)))

	r.stage = StageHeadMerge
	merged := record.MergeBatch(current, batch)
	changed := diff.ChangedKeys()
	for i := range merged {
		m := &merged[i]
		m.LastSeenAt = now
		m.MissingInLatestImport = false
		m.ChangedInSource = changed[m.Key]
		m.LastImportRunID = ir.ID
	}
	if err := e.Store.WriteHead(ctx, head.ID, merged); err != nil {
		e.event(ctx, r, store.StageHeadFailed, err.Error())
		return nil, r.fail(err)
	}
	e.event(ctx, r, store.StageHeadMerged, fmt.Sprintf("%d records", len(merged)))

	r.stage = StagePresence
	inBatch := make(map[string]bool, len(batch))
	for i := range batch {
		inBatch[batch[i].Key] = true
	}
	var absent []string
	for i := range current {
		if !inBatch[current[i].Key] {
			absent = append(absent, current[i].Key)
		}
	}
	stamped, err := e.Store.StampMissing(ctx, head.ID, absent)
	if err != nil {
		e.event(ctx, r, store.StagePresenceFailed, err.Error())
		return nil, r.fail(err)
	}
	e.event(ctx, r, store.StagePresenceStamped, fmt.Sprintf("%d newly missing", stamped))

	r.stage = StageDone
	if err := e.Store.FinalizeHead(ctx, head.ID, hash, req.FileName); err != nil {
		return nil, r.fail(err)
	}
	e.event(ctx, r, store.StageCompleted, "")

	dc := diff.Counts()
	r.log.Info("import completed", "missing", stamped)
	return &Result{
		HeadID:         head.ID,
		ArchiveID:      archive.ID,
		ImportRunID:    ir.ID,
		Mode:           mode,
		Total:          len(batch),
		Counts:         counts,
		ProgressCounts: countProgress(batch),
		Diff:           &dc,
		ContentHash:    hash,
		Debug: &Debug{
			Duplicates:              dups,
			NonStandardStatusValues: nstats.NonStandardStatus,
			UnparseableNumbers:      nstats.UnparseableNumbers,
			HeaderRowIndex:          tbl.Header.Row,
			Sheet:                   tbl.Sheet,
		},
	}, nil
}

// presentRecords drops head records already missing from the previous
// import, so a key that stays absent is not reported as removed again.
func presentRecords(recs []record.Record) []record.Record {
	out := make([]record.Record, 0, len(recs))
	for _, r := range recs {
		if !r.MissingInLatestImport {
			out = append(out, r)
		}
	}
	return out
}

func countRecords(batch []record.Record) Counts {
	c := Counts{Records: len(batch), ByStatus: map[string]int{}}
	for i := range batch {
		c.ByStatus[batch[i].Status.String()]++
	}
	return c
}

func countProgress(batch []record.Record) map[string]int {
	out := map[string]int{}
	for i := range batch {
		if p := batch[i].Progress; p != record.ProgressNone {
			out[p.String()]++
		}
	}
	return out
}

// event appends a run outcome. A failure here only logs: the outcome it
// describes has already happened.
func (e *Engine) event(ctx context.Context, r *run, stage store.Stage, detail string) {
	if err := e.Store.AppendRunEvent(context.WithoutCancel(ctx), r.runID, stage, detail); err != nil {
		r.log.Error("append run event", "stage", stage, "error", err)
	}
}

// observe records the attempt in the audit log and the business event log.
func (e *Engine) observe(ctx context.Context, r *run, res *Result, err error, d time.Duration) {
	eventType, action := "import.completed", "sync"
	entityID := r.headID
	if entityID == "" {
		entityID = r.scope.GroupKey()
	}
	details := map[string]any{"scope": r.scope, "file": r.req.FileName, "force": r.req.Force}
	switch {
	case err != nil:
		eventType, action = "import.failed", string(r.stage)
		details["error"] = err.Error()
		if r.runID != "" {
			details["run_id"] = r.runID
		}
		r.log.Error("import failed", "stage", r.stage, "error", err)
	case res.Skipped:
		eventType, action = "import.skipped", "skip"
		details["reason"] = res.Reason
	default:
		details["run_id"] = res.ImportRunID
		details["diff"] = res.Diff
	}

	if e.Audit != nil {
		entry := e.Audit.NewAuditEntry("cablesync", "sync", details, res, err, d)
		entry.HeadID = r.headID
		entry.RunID = r.runID
		entry.UserID = r.req.Actor
		entry.RequestID = r.req.RequestID
		switch {
		case err != nil:
			entry.Stage = string(r.stage)
			entry.ErrorCode = errorCode(err)
		case res.Skipped:
			entry.Status = observability.StatusSkipped
		default:
			entry.Mode = string(res.Mode)
		}
		e.Audit.LogAsync(entry)
	}
	if e.Events != nil {
		e.Events.LogEvent(context.WithoutCancel(ctx), observability.BusinessEvent{
			EventType:   eventType,
			ServiceName: "cablesync",
			EntityType:  "head",
			EntityID:    entityID,
			UserID:      r.req.Actor,
			Action:      action,
			Details:     details,
			Success:     err == nil,
		})
	}
}
