package sheet

import (
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/cablesync/cablesync/internal/record"
)

// ParseNumber reads a length cell. Both "1.234,5" (dot thousands, comma
// decimal) and "1234.5" are accepted; "1,234.5" is read as US grouping.
// A separator that appears more than once with no other separator is
// grouping, so "1.234.567" and "1,234,567" are 1234567. A single dot is
// always a decimal point: "1.234" is 1.234.
// An empty cell is (0, false, true); text that is not a number is
// (0, false, false).
func ParseNumber(s string) (v float64, ok bool, empty bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t', '\'':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false, true
	}
	comma, dot := strings.LastIndexByte(s, ','), strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	case dot >= 0 && comma < 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case comma >= 0 && dot < 0 && strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, false
	}
	return f, true, false
}

// DeriveStatus maps a site status cell to a status and progress.
//
//	"5", "5 %", "50%"    -> Placed, 50
//	"7", "7 %", "70%"    -> Placed, 70
//	starts with "P"      -> Placed, 100
//	T, R, B, E           -> Cut, Redo, Blocked, Removed
//	L                    -> Unknown (explicit no data)
//
// The letter codes match only as the whole cell. Any other non-empty text
// is Unknown with OriginUnrecognized.
func DeriveStatus(raw string) (record.Status, record.Progress, record.Origin) {
	v := strings.ToUpper(collapse(raw))
	if v == "" {
		return record.StatusUnknown, record.ProgressNone, record.OriginNone
	}
	switch strings.TrimSpace(strings.TrimSuffix(v, "%")) {
	case "5", "50":
		return record.StatusPlaced, record.Progress50, record.OriginCode
	case "7", "70":
		return record.StatusPlaced, record.Progress70, record.OriginCode
	}
	if v[0] == 'P' {
		return record.StatusPlaced, record.Progress100, record.OriginCode
	}
	switch v {
	case "T":
		return record.StatusCut, record.ProgressNone, record.OriginCode
	case "R":
		return record.StatusRedo, record.ProgressNone, record.OriginCode
	case "B":
		return record.StatusBlocked, record.ProgressNone, record.OriginCode
	case "E":
		return record.StatusRemoved, record.ProgressNone, record.OriginCode
	case "L":
		return record.StatusUnknown, record.ProgressNone, record.OriginCode
	}
	return record.StatusUnknown, record.ProgressNone, record.OriginUnrecognized
}
