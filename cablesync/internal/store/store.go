// Package store provides the SQLite persistence layer for cablesync: head and
// archive snapshots, their records, and the append-only import ledger.
package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/cablesync/dbopen"
)

// DefaultChunkSize is the number of rows written per transaction.
const DefaultChunkSize = 1000

var (
	// ErrNotFound is returned when a snapshot or run does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a concurrent writer changed the head
	// between read and write. The operation can be retried.
	ErrConflict = errors.New("store: concurrent modification")
)

// Store is the cablesync database handle.
type Store struct {
	DB        *sql.DB
	ChunkSize int

	now func() time.Time
}

// Open opens (or creates) the cablesync SQLite database at path, applies the
// HOROS pragmas and the cablesync schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already opened database carrying Schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db, ChunkSize: DefaultChunkSize, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Scope identifies the dataset a spreadsheet describes.
type Scope struct {
	Ship        string `json:"ship"`
	Contract    string `json:"contract"`
	Lot         string `json:"lot,omitempty"`
	ProjectCode string `json:"projectCode,omitempty"`
}

// GroupKey is the normalized identity of a scope: each identifier trimmed,
// whitespace-collapsed and lower-cased, joined with "|". Empty optional
// segments are kept so the position of each identifier is stable.
func (s Scope) GroupKey() string {
	parts := []string{s.Ship, s.Contract, s.Lot, s.ProjectCode}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(parts, "|")
}

// Trimmed returns the scope with surrounding whitespace removed.
func (s Scope) Trimmed() Scope {
	return Scope{
		Ship:        strings.TrimSpace(s.Ship),
		Contract:    strings.TrimSpace(s.Contract),
		Lot:         strings.TrimSpace(s.Lot),
		ProjectCode: strings.TrimSpace(s.ProjectCode),
	}
}

// Snapshot is a head (no parent, mutated in place) or an immutable archive.
type Snapshot struct {
	ID       string `json:"id"`
	GroupKey string `json:"groupKey"`
	Scope
	ContainerID string    `json:"containerId"`
	ContentHash string    `json:"contentHash"`
	ParentID    string    `json:"parentId,omitempty"`
	RecordCount int       `json:"recordCount"`
	SourceName  string    `json:"sourceName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsHead reports whether the snapshot is the mutable head of its group.
func (s *Snapshot) IsHead() bool { return s.ParentID == "" }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
