package sheet

import (
	"sort"

	"github.com/hazyhaar/cablesync/cablesync/internal/record"
)

// ValueCount is a raw cell value and how many rows carried it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Stats counts what Normalize skipped or could not parse.
type Stats struct {
	RowsRead           int            `json:"rowsRead"`
	BlankRows          int            `json:"blankRows"`
	RowsWithoutKey     int            `json:"rowsWithoutKey"`
	NonStandardStatus  []ValueCount   `json:"nonStandardStatusValues"`
	UnparseableNumbers map[string]int `json:"unparseableNumbers"`
}

// Normalize converts every row below the header into a record. Blank rows and
// rows without a business key are skipped and counted. Duplicate keys are
// kept; see record.Dedup.
func Normalize(rows [][]string, h Header) ([]record.Record, Stats) {
	cols := h.columns()
	statusCols := cols[ColSiteStatus]
	if len(statusCols) == 0 {
		statusCols = cols[ColStatus]
	}

	stats := Stats{UnparseableNumbers: map[string]int{}}
	nonStd := map[string]int{}
	var out []record.Record

	for i := h.Row + 1; i < len(rows); i++ {
		row := rows[i]
		stats.RowsRead++
		if blank(row) {
			stats.BlankRows++
			continue
		}
		key := BusinessKey(first(row, cols[ColKey]))
		if key == "" {
			stats.RowsWithoutKey++
			continue
		}

		r := record.Record{Key: key}
		for _, f := range textTargets {
			*f.ptr(&r) = collapse(first(row, cols[f.col]))
		}
		for _, f := range numberTargets {
			raw := first(row, cols[f.col])
			v, ok, empty := ParseNumber(raw)
			switch {
			case ok:
				*f.ptr(&r) = record.Some(v)
			case !empty:
				stats.UnparseableNumbers[string(f.col)]++
			}
		}

		raw := first(row, statusCols)
		r.Status, r.Progress, r.StatusOrigin = DeriveStatus(raw)
		if r.StatusOrigin != record.OriginNone {
			r.StatusRaw = collapse(raw)
		}
		if r.StatusOrigin == record.OriginUnrecognized {
			nonStd[r.StatusRaw]++
		}
		out = append(out, r)
	}

	stats.NonStandardStatus = make([]ValueCount, 0, len(nonStd))
	for v, n := range nonStd {
		stats.NonStandardStatus = append(stats.NonStandardStatus, ValueCount{Value: v, Count: n})
	}
	sort.Slice(stats.NonStandardStatus, func(a, b int) bool {
		return stats.NonStandardStatus[a].Value < stats.NonStandardStatus[b].Value
	})
	return out, stats
}

var textTargets = []struct {
	col Column
	ptr func(*record.Record) *string
}{
	{ColSecondaryID, func(r *record.Record) *string { return &r.SecondaryID }},
	{ColSection, func(r *record.Record) *string { return &r.Section }},
	{ColDescription, func(r *record.Record) *string { return &r.Description }},
	{ColCableType, func(r *record.Record) *string { return &r.CableType }},
	{ColFormation, func(r *record.Record) *string { return &r.Formation }},
	{ColZoneFrom, func(r *record.Record) *string { return &r.ZoneFrom }},
	{ColZoneTo, func(r *record.Record) *string { return &r.ZoneTo }},
	{ColApparatusFrom, func(r *record.Record) *string { return &r.ApparatusFrom }},
	{ColApparatusTo, func(r *record.Record) *string { return &r.ApparatusTo }},
}

var numberTargets = []struct {
	col Column
	ptr func(*record.Record) *record.Opt[float64]
}{
	{ColDesignLength, func(r *record.Record) *record.Opt[float64] { return &r.DesignLength }},
	{ColInstalledLength, func(r *record.Record) *record.Opt[float64] { return &r.InstalledLength }},
}

// first returns the first non-empty cell among idx.
func first(row []string, idx []int) string {
	for _, j := range idx {
		if j < len(row) && collapse(row[j]) != "" {
			return row[j]
		}
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if collapse(c) != "" {
			return false
		}
	}
	return true
}
