package sheet

import (
	"errors"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/hazyhaar/cablesync/cablesync/internal/record"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Codice cavo", "CODICE_CAVO"},
		{"  codice   CAVO ", "CODICE_CAVO"},
		{"Lunghezza di disegno (m)", "LUNGHEZZA_DI_DISEGNO_M"},
		{"Situazione cavo - conit", "SITUAZIONE_CAVO_CONIT"},
		{"Perché", "PERCHE"},
		{"Zona-Da", "ZONA_DA"},
		{"__", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := CanonicalKey(tt.in)
		if got != tt.want {
			t.Errorf("CanonicalKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := CanonicalKey(got); again != got {
			t.Errorf("CanonicalKey not idempotent on %q: %q", got, again)
		}
	}
}

func TestBusinessKey(t *testing.T) {
	if got := BusinessKey("  1a-\t 23 "); got != "1A- 23" {
		t.Errorf("got %q", got)
	}
}

func TestLocateHeader(t *testing.T) {
	rows := [][]string{
		{"Commessa 6123", "", "rev 4"},
		{},
		{"Cavo", "Descrizione"},
		{"Codice cavo", "Marca", "Situazione cavo", "Lunghezza di disegno", "Sezione"},
		{"C001", "M1", "P", "12,5", "3x2.5"},
	}
	h, err := LocateHeader(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h.Row != 3 {
		t.Errorf("Row = %d, want 3", h.Row)
	}
	if h.Score != 10+4+6+3+1 {
		t.Errorf("Score = %d", h.Score)
	}
	if h.Keys[2] != "SITUAZIONE_CAVO" {
		t.Errorf("Keys = %v", h.Keys)
	}
}

func TestLocateHeader_TieKeepsTopmost(t *testing.T) {
	rows := [][]string{
		{"Codice cavo", "Sezione"},
		{"Cable code", "Section"},
	}
	h, err := LocateHeader(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	if h.Row != 0 {
		t.Errorf("Row = %d", h.Row)
	}
}

func TestLocateHeader_RequiresKeyAlias(t *testing.T) {
	rows := [][]string{{"Sezione", "Descrizione", "Stato", "Lunghezza posata"}}
	if _, err := LocateHeader(rows, 0); !errors.Is(err, ErrHeaderNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestLocateHeader_ScanLimit(t *testing.T) {
	rows := make([][]string, 10)
	rows[9] = []string{"Codice cavo"}
	if _, err := LocateHeader(rows, 5); !errors.Is(err, ErrHeaderNotFound) {
		t.Errorf("header beyond scan limit found: %v", err)
	}
	if h, err := LocateHeader(rows, 10); err != nil || h.Row != 9 {
		t.Errorf("got %+v, %v", h, err)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in    string
		want  float64
		ok    bool
		empty bool
	}{
		{"12", 12, true, false},
		{"12.5", 12.5, true, false},
		{"12,5", 12.5, true, false},
		{"1.234,5", 1234.5, true, false},
		{"1,234.5", 1234.5, true, false},
		{" 1 234,75 ", 1234.75, true, false},
		{"1.234.567", 1234567, true, false},
		{"1.234.567,5", 1234567.5, true, false},
		{"1,234,567", 1234567, true, false},
		{"1.234", 1.234, true, false},
		{"", 0, false, true},
		{"  ", 0, false, true},
		{"n/a", 0, false, false},
		{"NaN", 0, false, false},
	}
	for _, tt := range tests {
		v, ok, empty := ParseNumber(tt.in)
		if v != tt.want || ok != tt.ok || empty != tt.empty {
			t.Errorf("ParseNumber(%q) = %v,%v,%v", tt.in, v, ok, empty)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		in       string
		status   record.Status
		progress record.Progress
		origin   record.Origin
	}{
		{"5", record.StatusPlaced, record.Progress50, record.OriginCode},
		{"5 %", record.StatusPlaced, record.Progress50, record.OriginCode},
		{"7%", record.StatusPlaced, record.Progress70, record.OriginCode},
		{"P", record.StatusPlaced, record.Progress100, record.OriginCode},
		{"posato", record.StatusPlaced, record.Progress100, record.OriginCode},
		{"t", record.StatusCut, record.ProgressNone, record.OriginCode},
		{"R", record.StatusRedo, record.ProgressNone, record.OriginCode},
		{"B", record.StatusBlocked, record.ProgressNone, record.OriginCode},
		{"E", record.StatusRemoved, record.ProgressNone, record.OriginCode},
		{"L", record.StatusUnknown, record.ProgressNone, record.OriginCode},
		{"X", record.StatusUnknown, record.ProgressNone, record.OriginUnrecognized},
		{"LIBERO", record.StatusUnknown, record.ProgressNone, record.OriginUnrecognized},
		{"BOH", record.StatusUnknown, record.ProgressNone, record.OriginUnrecognized},
		{"tagliato", record.StatusUnknown, record.ProgressNone, record.OriginUnrecognized},
		{" e ", record.StatusRemoved, record.ProgressNone, record.OriginCode},
		{"  ", record.StatusUnknown, record.ProgressNone, record.OriginNone},
	}
	for _, tt := range tests {
		s, p, o := DeriveStatus(tt.in)
		if s != tt.status || p != tt.progress || o != tt.origin {
			t.Errorf("DeriveStatus(%q) = %v,%v,%v", tt.in, s, p, o)
		}
	}
}

func TestNormalize_StatusScenario(t *testing.T) {
	rows := [][]string{
		{"Codice cavo", "Situazione cavo"},
		{"C1", "5"},
		{"C2", "P"},
		{"C3", "X"},
	}
	h, err := LocateHeader(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	recs, stats := Normalize(rows, h)
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	want := []struct {
		s record.Status
		p record.Progress
	}{
		{record.StatusPlaced, record.Progress50},
		{record.StatusPlaced, record.Progress100},
		{record.StatusUnknown, record.ProgressNone},
	}
	for i, w := range want {
		if recs[i].Status != w.s || recs[i].Progress != w.p {
			t.Errorf("%s = %v/%v", recs[i].Key, recs[i].Status, recs[i].Progress)
		}
	}
	if !reflect.DeepEqual(stats.NonStandardStatus, []ValueCount{{Value: "X", Count: 1}}) {
		t.Errorf("NonStandardStatus = %+v", stats.NonStandardStatus)
	}
}

func TestNormalize_AliasesAndCounters(t *testing.T) {
	rows := [][]string{
		{"Codice cavo", "Cable code", "Descrizione", "Metri teorici", "Lunghezza posata", "Stato"},
		{"", "c-10", "pump  feed", "12,5", "abc", "T"},
		{"", "", "orphan", "", "", ""},
		{"", "", "", "", "", ""},
		{"c-11", "", "", "", "3", ""},
	}
	h, err := LocateHeader(rows, 0)
	if err != nil {
		t.Fatal(err)
	}
	recs, stats := Normalize(rows, h)
	if len(recs) != 2 {
		t.Fatalf("got %d records: %+v", len(recs), recs)
	}
	r := recs[0]
	if r.Key != "C-10" || r.Description != "pump feed" {
		t.Errorf("record = %+v", r)
	}
	if r.DesignLength != record.Some(12.5) || r.InstalledLength.Ok {
		t.Errorf("lengths = %v %v", r.DesignLength, r.InstalledLength)
	}
	if r.Status != record.StatusCut {
		t.Errorf("fallback status column not used: %v", r.Status)
	}
	if recs[1].InstalledLength != record.Some(3.0) {
		t.Errorf("InstalledLength = %v", recs[1].InstalledLength)
	}
	if stats.RowsRead != 4 || stats.BlankRows != 1 || stats.RowsWithoutKey != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.UnparseableNumbers["installedLength"] != 1 {
		t.Errorf("UnparseableNumbers = %v", stats.UnparseableNumbers)
	}
}

func TestReadTable_CSV(t *testing.T) {
	data := []byte("\xEF\xBB\xBFCodice cavo;Descrizione;Lunghezza di disegno\nC1;\"a;b\";1.234,5\n")
	tbl, err := ReadTable("cavi.csv", data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Header.Row != 0 || len(tbl.Rows) != 2 {
		t.Fatalf("table = %+v", tbl)
	}
	if tbl.Rows[1][1] != "a;b" || tbl.Rows[1][2] != "1.234,5" {
		t.Errorf("row = %v", tbl.Rows[1])
	}
}

func TestSniffDelimiter(t *testing.T) {
	tests := map[string]rune{
		"a,b,c\n":                                    ',',
		"\n\na;b;c":                                  ';',
		"a\tb\tc\n":                                  '\t',
		"\"x;y\",b,c\n":                               ',',
		"single\n":                                   ',',
		"ELENCO CAVI\nCodice;Tipo;Lunghezza\nC1;x;2\n": ';',
		"Commessa, lotto 2\nCodice;Tipo\nC1;x\n":      ';',
		"a;b\nC1;\"x,\ny,z\"\nC2;w\n":                 ';',
	}
	for in, want := range tests {
		if got := sniffDelimiter([]byte(in), 0); got != want {
			t.Errorf("sniffDelimiter(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadTable_TitleAboveHeader(t *testing.T) {
	data := []byte("ELENCO CAVI\n\nCodice cavo;Situazione cavo;Lunghezza di disegno\nC1;P;1,5\n")
	tbl, err := ReadTable("cavi.csv", data, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Header.Row != 1 || len(tbl.Rows[2]) != 3 || tbl.Rows[2][2] != "1,5" {
		t.Errorf("table = %+v", tbl)
	}
}

func TestReadTable_Unsupported(t *testing.T) {
	if _, err := ReadTable("cavi.pdf", nil, 0); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v", err)
	}
}

func TestReadTable_WorkbookPicksBestSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", "Note"); err != nil {
		t.Fatal(err)
	}
	writeRows(t, f, "Note", [][]any{{"Cavo"}, {"revision notes"}})
	if _, err := f.NewSheet("Cavi"); err != nil {
		t.Fatal(err)
	}
	writeRows(t, f, "Cavi", [][]any{
		{"Elenco cavi"},
		{"Codice cavo", "Situazione cavo", "Lunghezza di disegno"},
		{"C1", "5", 12.5},
		{"C2", "P", 40},
	})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := ReadTable("cavi.xlsx", buf.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Sheet != "Cavi" || tbl.Header.Row != 1 {
		t.Fatalf("sheet=%q row=%d", tbl.Sheet, tbl.Header.Row)
	}
	recs, _ := Normalize(tbl.Rows, tbl.Header)
	if len(recs) != 2 || recs[0].DesignLength != record.Some(12.5) || recs[1].Progress != record.Progress100 {
		t.Errorf("records = %+v", recs)
	}
}

func writeRows(t *testing.T, f *excelize.File, sheet string, rows [][]any) {
	t.Helper()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
}
