// Package tabular reads spreadsheet-like uploads (CSV, XLSX, legacy XLS)
// into a header plus string rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Format is the container a table was uploaded in.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	XLS  Format = "xls"
)

var (
	// ErrEmptyTable is returned when a source has no header row.
	ErrEmptyTable = errors.New("table has no header row")

	// ErrUnsupportedFormat is returned for formats other than csv, xlsx and xls.
	ErrUnsupportedFormat = errors.New("unsupported table format")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var separatorRun = regexp.MustCompile(`[\s_\-.]+`)

// Table is the first sheet of an upload. Header holds the folded column
// names; Rows excludes the header and any fully blank row.
type Table struct {
	Header []string
	Rows   [][]string
}

// Read parses content according to format.
func Read(format Format, content []byte) (*Table, error) {
	var (
		rows [][]string
		err  error
	)

	switch format {
	case CSV:
		rows, err = readCSV(content)
	case XLSX:
		rows, err = readXLSX(content)
	case XLS:
		rows, err = readXLS(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	table := &Table{}
	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		if table.Header == nil {
			table.Header = make([]string, len(row))
			for i, name := range row {
				table.Header[i] = FoldHeader(name)
			}
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	if table.Header == nil {
		return nil, ErrEmptyTable
	}
	return table, nil
}

// Column returns the index of the named column, or -1. The name is folded
// the same way headers are.
func (t *Table) Column(name string) int {
	want := FoldHeader(name)
	for i, h := range t.Header {
		if h == want {
			return i
		}
	}
	return -1
}

// Cell returns the trimmed value at idx, or "" when the row is short or idx is -1.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// FoldHeader lowercases a column name, strips accents and joins words with
// underscores, so "Importe sin IVA" and "importe_sin_iva" compare equal.
func FoldHeader(name string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}))
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	folded = separatorRun.ReplaceAllString(folded, "_")
	return strings.Trim(folded, "_")
}

func readCSV(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	var src io.Reader = bytes.NewReader(content)
	if !utf8.Valid(content) {
		// Spreadsheet software on Windows still exports Latin-1
		src = transform.NewReader(src, charmap.ISO8859_1.NewDecoder())
	}

	reader := csv.NewReader(src)
	reader.Comma = detectDelimiter(content)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// detectDelimiter looks at the first line only.
func detectDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	if bytes.Count(line, []byte{';'}) > bytes.Count(line, []byte{','}) {
		return ';'
	}
	return ','
}

func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readXLS(content []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if len(workbook.GetSheets()) == 0 {
		return nil, ErrEmptyTable
	}
	sheet, err := workbook.GetSheet(0)
	if err != nil {
		return nil, fmt.Errorf("read xls sheet: %w", err)
	}

	var rows [][]string
	for _, row := range sheet.GetRows() {
		var cells []string
		for _, cell := range row.GetCols() {
			cells = append(cells, cell.GetString())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
