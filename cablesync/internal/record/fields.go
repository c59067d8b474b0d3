package record

import "strconv"

// TextField addresses one free-text field of a Record.
type TextField struct {
	Name string
	Ptr  func(*Record) *string
}

// NumberField addresses one numeric field of a Record.
type NumberField struct {
	Name string
	Ptr  func(*Record) *Opt[float64]
}

// TextFields lists the text fields, secondary id first.
var TextFields = []TextField{
	{"secondaryId", func(r *Record) *string { return &r.SecondaryID }},
	{"section", func(r *Record) *string { return &r.Section }},
	{"description", func(r *Record) *string { return &r.Description }},
	{"cableType", func(r *Record) *string { return &r.CableType }},
	{"formation", func(r *Record) *string { return &r.Formation }},
	{"zoneFrom", func(r *Record) *string { return &r.ZoneFrom }},
	{"zoneTo", func(r *Record) *string { return &r.ZoneTo }},
	{"apparatusFrom", func(r *Record) *string { return &r.ApparatusFrom }},
	{"apparatusTo", func(r *Record) *string { return &r.ApparatusTo }},
}

// NumberFields lists the numeric measurement fields.
var NumberFields = []NumberField{
	{"designLength", func(r *Record) *Opt[float64] { return &r.DesignLength }},
	{"installedLength", func(r *Record) *Opt[float64] { return &r.InstalledLength }},
}

// Comparable is a field taking part in hashing and diffing, rendered canonically.
// Hash, when set, replaces Value in the content hash.
type Comparable struct {
	Name  string
	Value func(*Record) string
	Hash  func(*Record) string
}

func (c Comparable) hashValue(r *Record) string {
	if c.Hash != nil {
		return c.Hash(r)
	}
	return c.Value(r)
}

// ComparableFields is the fixed field order used by ContentHash (after the
// key) and by Diff.
var ComparableFields = []Comparable{
	{Name: "secondaryId", Value: func(r *Record) string { return r.SecondaryID }},
	{Name: "designLength", Value: func(r *Record) string { return FormatNumber(r.DesignLength) }},
	{Name: "installedLength", Value: func(r *Record) string { return FormatNumber(r.InstalledLength) }},
	{Name: "status", Value: statusValue, Hash: statusHashValue},
	{Name: "progress", Value: func(r *Record) string { return r.Progress.String() }},
	{Name: "section", Value: func(r *Record) string { return r.Section }},
	{Name: "description", Value: func(r *Record) string { return r.Description }},
	{Name: "cableType", Value: func(r *Record) string { return r.CableType }},
	{Name: "formation", Value: func(r *Record) string { return r.Formation }},
	{Name: "zoneFrom", Value: func(r *Record) string { return r.ZoneFrom }},
	{Name: "zoneTo", Value: func(r *Record) string { return r.ZoneTo }},
	{Name: "apparatusFrom", Value: func(r *Record) string { return r.ApparatusFrom }},
	{Name: "apparatusTo", Value: func(r *Record) string { return r.ApparatusTo }},
}

// statusValue renders Unknown as empty so an empty cell and the explicit
// no-data marker compare equal in a diff.
func statusValue(r *Record) string {
	if r.Status == StatusUnknown {
		return ""
	}
	return r.Status.Code()
}

// statusHashValue keeps the explicit no-data marker apart from an empty
// cell in the hash; only the marker resets the head status on merge.
func statusHashValue(r *Record) string {
	if r.Status == StatusUnknown && r.StatusOrigin == OriginCode {
		return r.Status.Code()
	}
	return statusValue(r)
}

// FormatNumber renders a number in its shortest exact decimal form, None as "".
func FormatNumber(o Opt[float64]) string {
	if !o.Ok {
		return ""
	}
	return strconv.FormatFloat(o.V, 'f', -1, 64)
}
