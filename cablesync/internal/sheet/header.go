package sheet

import "errors"

// DefaultHeaderScanRows bounds the header search when no limit is given.
const DefaultHeaderScanRows = 80

// ErrHeaderNotFound is returned when no scanned row names a business key column.
var ErrHeaderNotFound = errors.New("sheet: header row not found")

// Header is the detected header row of a table.
type Header struct {
	Row   int      // zero-based row index
	Keys  []string // canonical key per column
	Score int
}

// LocateHeader scans the first maxRows rows and returns the best-scoring row
// that contains a business key alias. Ties keep the topmost row.
func LocateHeader(rows [][]string, maxRows int) (Header, error) {
	if maxRows <= 0 {
		maxRows = DefaultHeaderScanRows
	}
	best := Header{Row: -1}
	for i := 0; i < len(rows) && i < maxRows; i++ {
		score, eligible := scoreRow(rows[i])
		if !eligible || score <= best.Score {
			continue
		}
		best = Header{Row: i, Score: score}
	}
	if best.Row < 0 {
		return Header{}, ErrHeaderNotFound
	}
	best.Keys = make([]string, len(rows[best.Row]))
	for j, cell := range rows[best.Row] {
		best.Keys[j] = CanonicalKey(cell)
	}
	return best, nil
}

func scoreRow(row []string) (score int, eligible bool) {
	for _, cell := range row {
		k := CanonicalKey(cell)
		if k == "" {
			continue
		}
		score += Weight(k)
		if IsKeyAlias(k) {
			eligible = true
		}
	}
	return score, eligible
}

// columns maps every target column to its candidate cell indexes, in alias
// priority order.
func (h Header) columns() map[Column][]int {
	m := make(map[Column][]int, len(aliases))
	for _, a := range aliases {
		for _, k := range a.keys {
			for j, hk := range h.Keys {
				if hk == k {
					m[a.col] = append(m[a.col], j)
				}
			}
		}
	}
	return m
}
