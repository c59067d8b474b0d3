// Package sheet turns raw spreadsheet rows into canonical cable records:
// table reading, header detection, column aliasing and cell parsing.
package sheet

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalKey folds a header label to an ASCII identifier: diacritics are
// stripped, letters upper-cased, and every run of other characters becomes a
// single underscore. "Lunghezza di disegno" and "LUNGHEZZA_DI_DISEGNO" both
// yield LUNGHEZZA_DI_DISEGNO. CanonicalKey(CanonicalKey(s)) == CanonicalKey(s).
func CanonicalKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToUpper(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// BusinessKey normalizes a cable code cell: trimmed, inner whitespace
// collapsed, upper-cased.
func BusinessKey(s string) string {
	return strings.ToUpper(collapse(s))
}

// collapse trims s and reduces every whitespace run to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
