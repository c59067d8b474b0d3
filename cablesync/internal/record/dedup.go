package record

import (
	"sort"
)

// maxDuplicateSample bounds DuplicateStats.Sample.
const maxDuplicateSample = 20

// DuplicateStats describes keys that appeared on more than one row.
type DuplicateStats struct {
	Keys      int      `json:"keys"`
	ExtraRows int      `json:"extraRows"`
	Sample    []string `json:"sample"`
}

// Completeness scores how much information a record carries.
func Completeness(r *Record) int {
	n := 0
	for _, f := range TextFields {
		if *f.Ptr(r) != "" {
			n++
		}
	}
	for _, f := range NumberFields {
		if f.Ptr(r).Ok {
			n++
		}
	}
	if r.HasStatus() {
		n++
	}
	if r.Progress != ProgressNone {
		n++
	}
	return n
}

// Dedup collapses records sharing a key into one, in first-appearance order.
// The most complete candidate is the base; empty fields are filled from the
// others. Any Placed candidate makes the result Placed and progress is the
// maximum seen. The input is not modified.
func Dedup(recs []Record) ([]Record, DuplicateStats) {
	var order []string
	groups := make(map[string][]int, len(recs))
	for i := range recs {
		k := recs[i].Key
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := make([]Record, 0, len(order))
	stats := DuplicateStats{Sample: []string{}}
	var dupKeys []string
	for _, k := range order {
		idx := groups[k]
		if len(idx) == 1 {
			out = append(out, recs[idx[0]])
			continue
		}
		stats.Keys++
		stats.ExtraRows += len(idx) - 1
		dupKeys = append(dupKeys, k)

		cands := make([]*Record, len(idx))
		for i, j := range idx {
			cands[i] = &recs[j]
		}
		sort.SliceStable(cands, func(a, b int) bool {
			return Completeness(cands[a]) > Completeness(cands[b])
		})
		base := *cands[0]
		for _, other := range cands[1:] {
			absorb(&base, other)
		}
		out = append(out, base)
	}

	sort.Strings(dupKeys)
	if len(dupKeys) > maxDuplicateSample {
		dupKeys = dupKeys[:maxDuplicateSample]
	}
	stats.Sample = append(stats.Sample, dupKeys...)
	return out, stats
}

// absorb fills the gaps of base from other.
func absorb(base, other *Record) {
	for _, f := range TextFields {
		if p := f.Ptr(base); *p == "" {
			*p = *f.Ptr(other)
		}
	}
	for _, f := range NumberFields {
		if p := f.Ptr(base); !p.Ok {
			*p = *f.Ptr(other)
		}
	}

	switch {
	case base.Status == StatusPlaced:
	case other.Status == StatusPlaced:
		base.Status, base.StatusOrigin, base.StatusRaw = other.Status, other.StatusOrigin, other.StatusRaw
	case base.StatusOrigin == OriginNone && other.StatusOrigin != OriginNone:
		base.Status, base.StatusOrigin, base.StatusRaw = other.Status, other.StatusOrigin, other.StatusRaw
	}

	if other.Progress > base.Progress {
		base.Progress = other.Progress
	}
}
