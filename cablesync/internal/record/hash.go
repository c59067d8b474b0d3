package record

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HashDomain versions the content hash format. Changing the line layout
// requires a new domain tag.
const HashDomain = "cablesync/batch/v2"

var lineEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\n", `\n`, "\r", `\r`)

// ContentHash returns the hex SHA-256 of the canonical serialization of a
// deduplicated batch. Row order and bookkeeping fields do not affect it.
func ContentHash(recs []Record) string {
	sorted := make([]*Record, len(recs))
	for i := range recs {
		sorted[i] = &recs[i]
	}
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Key < sorted[b].Key })

	h := sha256.New()
	h.Write([]byte(HashDomain))
	h.Write([]byte{0})
	for i, r := range sorted {
		if i > 0 {
			h.Write([]byte{'\n'})
		}
		h.Write([]byte(CanonicalLine(r)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalLine is the pipe-delimited rendering of one record.
func CanonicalLine(r *Record) string {
	var b strings.Builder
	b.WriteString(lineEscaper.Replace(r.Key))
	for _, f := range ComparableFields {
		b.WriteByte('|')
		b.WriteString(lineEscaper.Replace(f.hashValue(r)))
	}
	return b.String()
}
