package cablesync

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/cablesync/cablesync/internal/sheet"
	"github.com/hazyhaar/cablesync/cablesync/internal/store"
	"github.com/hazyhaar/cablesync/horosafe"
)

var (
	ErrHeaderNotFound            = sheet.ErrHeaderNotFound
	ErrUnsupportedFormat         = sheet.ErrUnsupportedFormat
	ErrUnreadableFile            = sheet.ErrUnreadable
	ErrFileTooLarge              = horosafe.ErrTooLarge
	ErrConflict                  = store.ErrConflict
	ErrNotFound                  = store.ErrNotFound
	ErrNoRecordsParsed           = errors.New("cablesync: no records parsed")
	ErrMissingScopeIdentifiers   = errors.New("cablesync: ship and contract are required")
	ErrMissingContainerReference = errors.New("cablesync: container reference required for a new dataset")
)

// Kind classifies a SyncError for callers and HTTP status mapping.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindStorage      Kind = "storage"
	KindConflict     Kind = "conflict"
)

// SyncError is returned by Engine.Sync. It carries the stage that failed,
// the scope of the run and the counts gathered before the failure.
type SyncError struct {
	Kind   Kind
	Stage  Stage
	Scope  Scope
	RunID  string
	Counts *Counts
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("cablesync: %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed if sent again.
func (e *SyncError) Retryable() bool { return e.Kind == KindConflict }

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrHeaderNotFound),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrUnreadableFile),
		errors.Is(err, ErrFileTooLarge),
		errors.Is(err, ErrNoRecordsParsed),
		errors.Is(err, ErrMissingScopeIdentifiers),
		errors.Is(err, ErrMissingContainerReference):
		return KindInvalidInput
	}
	return KindStorage
}

// errorCodes maps sentinel errors to the stable codes reported to clients
// and written to the audit log.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrHeaderNotFound, "HEADER_NOT_FOUND"},
	{ErrNoRecordsParsed, "NO_RECORDS_PARSED"},
	{ErrMissingScopeIdentifiers, "MISSING_SCOPE_IDENTIFIERS"},
	{ErrMissingContainerReference, "MISSING_CONTAINER_REFERENCE"},
	{ErrUnsupportedFormat, "UNSUPPORTED_FORMAT"},
	{ErrUnreadableFile, "UNREADABLE_FILE"},
	{ErrFileTooLarge, "FILE_TOO_LARGE"},
	{ErrConflict, "CONFLICT"},
	{ErrNotFound, "NOT_FOUND"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "STORAGE_ERROR"
}
