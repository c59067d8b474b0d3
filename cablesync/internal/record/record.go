// Package record defines the canonical cable record and the pure operations
// applied to batches of them: deduplication, content hashing, diffing and
// non-destructive merging.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Opt is an optional value. The zero Opt is None.
type Opt[T any] struct {
	V  T
	Ok bool
}

// Some wraps v as a present value.
func Some[T any](v T) Opt[T] { return Opt[T]{V: v, Ok: true} }

// None returns an absent value.
func None[T any]() Opt[T] { return Opt[T]{} }

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) { return o.V, o.Ok }

// MarshalJSON encodes None as null.
func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.Ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.V)
}

// UnmarshalJSON decodes null as None.
func (o *Opt[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Status is the installation status of a cable.
type Status uint8

const (
	// StatusUnknown means the source carried no usable status.
	StatusUnknown Status = iota
	StatusPlaced
	StatusCut
	StatusRedo
	StatusBlocked
	StatusRemoved
)

var statusNames = [...]string{
	StatusUnknown: "unknown",
	StatusPlaced:  "placed",
	StatusCut:     "cut",
	StatusRedo:    "redo",
	StatusBlocked: "blocked",
	StatusRemoved: "removed",
}

var statusCodes = [...]string{
	StatusUnknown: "L",
	StatusPlaced:  "P",
	StatusCut:     "T",
	StatusRedo:    "R",
	StatusBlocked: "B",
	StatusRemoved: "E",
}

// Statuses lists every status in declaration order.
var Statuses = []Status{StatusUnknown, StatusPlaced, StatusCut, StatusRedo, StatusBlocked, StatusRemoved}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Code returns the single-letter site code of the status.
func (s Status) Code() string {
	if int(s) < len(statusCodes) {
		return statusCodes[s]
	}
	return ""
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("record: unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Origin tells what the source status cell contained.
type Origin uint8

const (
	// OriginNone is an empty cell.
	OriginNone Origin = iota
	// OriginCode is a recognized code, including the explicit no-data marker.
	OriginCode
	// OriginUnrecognized is non-empty text that matched no code.
	OriginUnrecognized
)

// Progress is the placement progress of a placed cable.
type Progress uint8

const (
	ProgressNone Progress = 0
	Progress50   Progress = 50
	Progress70   Progress = 70
	Progress100  Progress = 100
)

// Valid reports whether p is one of the closed set of progress values.
func (p Progress) Valid() bool {
	switch p {
	case ProgressNone, Progress50, Progress70, Progress100:
		return true
	}
	return false
}

func (p Progress) String() string {
	if p == ProgressNone {
		return ""
	}
	return strconv.Itoa(int(p))
}

// MarshalJSON encodes ProgressNone as null.
func (p Progress) MarshalJSON() ([]byte, error) {
	if p == ProgressNone {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(p))), nil
}

func (p *Progress) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = ProgressNone
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil || !Progress(n).Valid() {
		return fmt.Errorf("record: invalid progress %s", b)
	}
	*p = Progress(n)
	return nil
}

// Record is one cable, identified by its business key.
type Record struct {
	Key         string `json:"key"`
	SecondaryID string `json:"secondaryId"`

	Section       string `json:"section"`
	Description   string `json:"description"`
	CableType     string `json:"cableType"`
	Formation     string `json:"formation"`
	ZoneFrom      string `json:"zoneFrom"`
	ZoneTo        string `json:"zoneTo"`
	ApparatusFrom string `json:"apparatusFrom"`
	ApparatusTo   string `json:"apparatusTo"`

	DesignLength    Opt[float64] `json:"designLength"`
	InstalledLength Opt[float64] `json:"installedLength"`

	Status       Status   `json:"status"`
	StatusOrigin Origin   `json:"-"`
	StatusRaw    string   `json:"statusRaw,omitempty"`
	Progress     Progress `json:"progress"`

	LastSeenAt            time.Time `json:"lastSeenAt,omitzero"`
	MissingInLatestImport bool      `json:"missingInLatestImport"`
	ChangedInSource       bool      `json:"changedInSource"`
	LastImportRunID       string    `json:"lastImportRunId,omitempty"`
	Revision              int64     `json:"revision,omitempty"`
}

// HasStatus reports whether the record carries a known status.
func (r *Record) HasStatus() bool { return r.Status != StatusUnknown }
