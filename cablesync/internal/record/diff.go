package record

import "sort"

// FieldChange is one field whose value differs between two states.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Change lists the differing fields of one key.
type Change struct {
	Key    string        `json:"key"`
	Fields []FieldChange `json:"fields"`
}

// DiffResult compares a previous state with a new batch.
type DiffResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []Change `json:"changed"`
}

// DiffCounts summarizes a DiffResult.
type DiffCounts struct {
	AddedCount   int `json:"addedCount"`
	RemovedCount int `json:"removedCount"`
	ChangedCount int `json:"changedCount"`
}

// Counts returns the sizes of the three diff sets.
func (d DiffResult) Counts() DiffCounts {
	return DiffCounts{AddedCount: len(d.Added), RemovedCount: len(d.Removed), ChangedCount: len(d.Changed)}
}

// ChangedKeys returns the set of keys with at least one differing field.
func (d DiffResult) ChangedKeys() map[string]bool {
	m := make(map[string]bool, len(d.Changed))
	for _, c := range d.Changed {
		m[c.Key] = true
	}
	return m
}

// Diff computes added, removed and changed keys from before to after. Every
// list is sorted by key.
func Diff(before, after []Record) DiffResult {
	prev := make(map[string]*Record, len(before))
	for i := range before {
		prev[before[i].Key] = &before[i]
	}
	next := make(map[string]bool, len(after))

	res := DiffResult{Added: []string{}, Removed: []string{}, Changed: []Change{}}
	for i := range after {
		cur := &after[i]
		next[cur.Key] = true
		old, ok := prev[cur.Key]
		if !ok {
			res.Added = append(res.Added, cur.Key)
			continue
		}
		if fields := CompareFields(old, cur); len(fields) > 0 {
			res.Changed = append(res.Changed, Change{Key: cur.Key, Fields: fields})
		}
	}
	for k := range prev {
		if !next[k] {
			res.Removed = append(res.Removed, k)
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Slice(res.Changed, func(a, b int) bool { return res.Changed[a].Key < res.Changed[b].Key })
	return res
}

// CompareFields returns the comparable fields that differ between a and b.
func CompareFields(a, b *Record) []FieldChange {
	var out []FieldChange
	for _, f := range ComparableFields {
		av, bv := f.Value(a), f.Value(b)
		if av != bv {
			out = append(out, FieldChange{Field: f.Name, Before: av, After: bv})
		}
	}
	return out
}
