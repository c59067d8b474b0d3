// Package cablesync synchronizes periodically re-uploaded cable status
// spreadsheets into a versioned record store: one mutable head per scope,
// an immutable archive per applied upload, and an append-only import ledger.
package cablesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/cablesync/cablesync/internal/blob"
	"github.com/hazyhaar/cablesync/cablesync/internal/store"
	"github.com/hazyhaar/cablesync/dbopen"
	"github.com/hazyhaar/cablesync/idgen"
	"github.com/hazyhaar/cablesync/observability"
	"github.com/hazyhaar/cablesync/shield"
	"github.com/hazyhaar/cablesync/trace"
)

// Scope identifies the dataset an upload describes.
type Scope = store.Scope

// RunFilter selects import runs for Store.ListRuns.
type RunFilter = store.RunFilter

// Engine runs imports against a store. It is safe for concurrent use;
// concurrent imports of the same scope are serialized by the store's
// revision checks.
type Engine struct {
	Store  *store.Store
	Blobs  *blob.FSStore
	Audit  *observability.AuditLogger
	Events *observability.EventLogger
	Traces *trace.Store
	Logger *slog.Logger

	HeaderScanRows int
	MaxFileBytes   int64

	NewHeadID    idgen.Generator
	NewArchiveID idgen.Generator
	NewRunID     idgen.Generator
	Now          func() time.Time

	closers []func() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithBlobs keeps the raw uploaded files in b.
func WithBlobs(b *blob.FSStore) Option {
	return func(e *Engine) { e.Blobs = b }
}

// WithAudit sets the audit logger.
func WithAudit(a *observability.AuditLogger) Option {
	return func(e *Engine) { e.Audit = a }
}

// WithEvents sets the event logger.
func WithEvents(l *observability.EventLogger) Option {
	return func(e *Engine) { e.Events = l }
}

// WithTraces sets the store SQL traces are read from.
func WithTraces(t *trace.Store) Option {
	return func(e *Engine) { e.Traces = t }
}

// WithLogger sets the logger used outside of HTTP requests.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

// WithIDGenerators overrides the head, archive and run id generators.
func WithIDGenerators(head, archive, run idgen.Generator) Option {
	return func(e *Engine) { e.NewHeadID, e.NewArchiveID, e.NewRunID = head, archive, run }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

// WithLimits sets the header scan depth and the maximum accepted file size.
func WithLimits(headerScanRows int, maxFileBytes int64) Option {
	return func(e *Engine) { e.HeaderScanRows, e.MaxFileBytes = headerScanRows, maxFileBytes }
}

// NewEngine creates an engine over an opened store.
func NewEngine(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		Store:        st,
		Logger:       slog.Default(),
		NewHeadID:    idgen.Prefixed("head_", idgen.Default),
		NewArchiveID: idgen.Prefixed("arc_", idgen.Default),
		NewRunID:     idgen.Prefixed("run_", idgen.Default),
		Now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OpenEngine opens every database and store named by cfg and returns a
// fully wired engine. Close releases them.
func OpenEngine(cfg *Config, opts ...Option) (*Engine, error) {
	base := []Option{WithLimits(cfg.HeaderScanRows, cfg.MaxFileBytes())}
	var dbOpts []dbopen.Option
	if cfg.BusyTimeoutMS > 0 {
		dbOpts = append(dbOpts, dbopen.WithBusyTimeout(cfg.BusyTimeoutMS))
	}
	var closers []func() error
	fail := func(err error) (*Engine, error) {
		for _, c := range closers {
			c()
		}
		return nil, err
	}

	var tracer *trace.Tracer
	if cfg.TraceSQL {
		tracer = &trace.Tracer{Slow: cfg.SlowQuery()}
	}

	// The observability database is never traced so the tracer does not
	// record its own writes.
	if cfg.ObservabilityDBPath != "" {
		obsOpts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema)}, dbOpts...)
		obsDB, err := dbopen.Open(cfg.ObservabilityDBPath, obsOpts...)
		if err != nil {
			return fail(fmt.Errorf("open observability db: %w", err))
		}
		closers = append(closers, obsDB.Close)
		traces := trace.NewStore(obsDB)
		if err := traces.Init(); err != nil {
			traces.Close()
			return fail(fmt.Errorf("init sql traces: %w", err))
		}
		closers = append([]func() error{traces.Close}, closers...)
		base = append(base, WithTraces(traces))
		if tracer != nil {
			tracer.Recorder = traces
		}
		audit := observability.NewAuditLogger(obsDB, 256,
			observability.WithAuditIDGenerator(idgen.Prefixed("aud_", idgen.Default)))
		events := observability.NewEventLogger(obsDB,
			observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)))
		base = append(base, WithAudit(audit), WithEvents(events))
		closers = append([]func() error{audit.Close}, closers...)
	}

	storeOpts := dbOpts
	if tracer != nil {
		storeOpts = append(storeOpts, dbopen.WithConnector(tracer.Connector))
	}
	st, err := store.Open(cfg.DBPath, storeOpts...)
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}
	st.ChunkSize = cfg.ChunkSize
	closers = append([]func() error{st.Close}, closers...)

	if cfg.BlobDir != "" {
		b, err := blob.NewFSStore(cfg.BlobDir)
		if err != nil {
			return fail(err)
		}
		base = append(base, WithBlobs(b))
	}

	e := NewEngine(st, append(base, opts...)...)
	e.closers = closers
	return e, nil
}

// Close releases resources opened by OpenEngine.
func (e *Engine) Close() error {
	var first error
	for _, c := range e.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Ping checks that the store answers.
func (e *Engine) Ping(ctx context.Context) error {
	return e.Store.DB.PingContext(ctx)
}

func (e *Engine) logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(shield.LoggerKey).(*slog.Logger); ok {
		return l
	}
	return e.Logger
}

// Head returns the head snapshot of a scope, resolved the same way imports
// resolve it.
func (e *Engine) Head(ctx context.Context, scope Scope) (*store.Snapshot, error) {
	scope = scope.Trimmed()
	if scope.Ship == "" || scope.Contract == "" {
		return nil, ErrMissingScopeIdentifiers
	}
	snaps, err := e.Store.MatchingSnapshots(ctx, scope)
	if err != nil {
		return nil, err
	}
	if head, _ := pickHead(snaps); head != nil {
		return head, nil
	}
	return nil, fmt.Errorf("head for %s: %w", scope.GroupKey(), ErrNotFound)
}

// resolution is the outcome of head resolution for one import.
type resolution struct {
	head        *store.Snapshot
	isNew       bool
	containerID string
	adopt       string
}

// pickHead returns the earliest created head among snaps, which are ordered
// by creation time then id, and the most recent container id seen on any of
// them.
func pickHead(snaps []store.Snapshot) (head *store.Snapshot, latestContainer string) {
	for i := range snaps {
		s := &snaps[i]
		if s.IsHead() && head == nil {
			head = s
		}
		if s.ContainerID != "" {
			latestContainer = s.ContainerID
		}
	}
	return head, latestContainer
}

// resolveHead finds the head of scope or plans a new one. A planned head is
// only persisted together with the ledger entry.
func (e *Engine) resolveHead(ctx context.Context, scope Scope, containerID string) (*resolution, error) {
	snaps, err := e.Store.MatchingSnapshots(ctx, scope)
	if err != nil {
		return nil, err
	}
	head, latest := pickHead(snaps)
	if containerID == "" {
		containerID = latest
	}

	if head != nil {
		res := &resolution{head: head, containerID: head.ContainerID}
		if head.ContainerID == "" && containerID != "" {
			res.containerID, res.adopt = containerID, containerID
		}
		return res, nil
	}

	if containerID == "" {
		return nil, ErrMissingContainerReference
	}
	now := e.Now()
	return &resolution{
		head: &store.Snapshot{
			ID:          e.NewHeadID(),
			GroupKey:    scope.GroupKey(),
			Scope:       scope,
			ContainerID: containerID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		isNew:       true,
		containerID: containerID,
	}, nil
}

