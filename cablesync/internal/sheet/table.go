package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no reader handles.
	ErrUnsupportedFormat = errors.New("sheet: unsupported file format")
	// ErrUnreadable is returned when the file does not decode in its format.
	ErrUnreadable = errors.New("sheet: unreadable file")
)

// Table is the sheet selected from a workbook, with its detected header.
type Table struct {
	Sheet  string
	Rows   [][]string
	Header Header
}

// ReadTable reads a workbook or delimited file and selects the sheet whose
// header scores best within the first scanRows rows. The format is chosen
// by the extension of name.
func ReadTable(name string, data []byte, scanRows int) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return readWorkbook(data, scanRows)
	case ".csv", ".txt", ".tsv":
		rows, err := readDelimited(data, scanRows)
		if err != nil {
			return nil, err
		}
		h, err := LocateHeader(rows, scanRows)
		if err != nil {
			return nil, err
		}
		return &Table{Sheet: "csv", Rows: rows, Header: h}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

func readWorkbook(data []byte, scanRows int) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var best *Table
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrUnreadable, name, err)
		}
		h, err := LocateHeader(rows, scanRows)
		if err != nil {
			continue
		}
		if best == nil || h.Score > best.Header.Score {
			best = &Table{Sheet: name, Rows: rows, Header: h}
		}
	}
	if best == nil {
		return nil, ErrHeaderNotFound
	}
	return best, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readDelimited(data []byte, scanRows int) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data, scanRows)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv: %v", ErrUnreadable, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// sniffDelimiter looks at up to maxLines non-empty lines, the same window
// the header is searched in, and picks whichever of ';', ',' and tab leads
// on the most lines, outside quotes. Total occurrences break a tie; comma
// wins when none occur.
func sniffDelimiter(data []byte, maxLines int) rune {
	if maxLines <= 0 {
		maxLines = DefaultHeaderScanRows
	}
	candidates := []rune{',', ';', '\t'}
	leads := map[rune]int{}
	totals := map[rune]int{}
	inQuote := false
	seen := 0
	for line := range bytes.Lines(data) {
		if seen >= maxLines {
			break
		}
		if !inQuote && len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		seen++
		counts := map[rune]int{}
		for _, c := range string(line) {
			switch {
			case c == '"':
				inQuote = !inQuote
			case !inQuote && (c == ';' || c == ',' || c == '\t'):
				counts[c]++
			}
		}
		top := rune(0)
		for _, c := range candidates {
			totals[c] += counts[c]
			if counts[c] > counts[top] {
				top = c
			}
		}
		if top != 0 {
			leads[top]++
		}
	}

	best := ','
	for _, c := range candidates[1:] {
		if leads[c] > leads[best] || (leads[c] == leads[best] && totals[c] > totals[best]) {
			best = c
		}
	}
	return best
}
