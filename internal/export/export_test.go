package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"modelo130/internal/tax"
)

func sampleSummary(t *testing.T) tax.Summary {
	t.Helper()
	calc, err := tax.NewCalculator(tax.DefaultRate)
	require.NoError(t, err)

	s, err := calc.Calculate(tax.Declaration{
		NIF:          "12345678Z",
		Name:         "Lucía Martín",
		Regime:       tax.RegimeSimplified,
		ActivityCode: "763",
		Year:         2024,
		Quarter:      3,
	}, tax.Totals{
		Income:      decimal.RequireFromString("3000"),
		Expense:     decimal.RequireFromString("1000"),
		Withholding: decimal.RequireFromString("450"),
	}, decimal.Zero)
	require.NoError(t, err)

	s.CreatedAt = time.Date(2024, 10, 2, 9, 30, 0, 0, time.UTC)
	return s
}

func TestRow(t *testing.T) {
	row := Row(sampleSummary(t))

	require.Len(t, row, len(Headers))
	assert.Equal(t, []string{
		"12345678Z", "Lucía Martín", tax.RegimeSimplified, "763", "2024", "3T",
		"3000.00", "1000.00", "2000.00", "20", "400.00",
		"450.00", "0.00", "-50.00", "A compensar", "50.00",
		"2024-10-02 09:30:00",
	}, row)
}

func TestValues(t *testing.T) {
	values := Values(sampleSummary(t))

	require.Len(t, values, len(Headers))
	assert.Equal(t, 2024, values[4])
	assert.Equal(t, 3000.0, values[6])
	assert.Equal(t, 20.0, values[9])
	assert.Equal(t, -50.0, values[13])
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "modelo130_2024_3T.xlsx", Filename(sampleSummary(t), FormatXLSX))
	assert.Equal(t, "modelo130.csv", Filename(tax.Summary{}, FormatCSV))
}

func TestWriteCSV(t *testing.T) {
	s := sampleSummary(t)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, []tax.Summary{s, s}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, Row(s), rows[2])
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, []tax.Summary{sampleSummary(t)}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "12345678Z", rows[1][0])
	assert.Equal(t, "A compensar", rows[1][14])
}

func TestWritePDF(t *testing.T) {
	s := sampleSummary(t)
	s.Warnings = []string{tax.WarningExpensesExceedIncome}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatPDF, []tax.Summary{s}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 1000)
}

func TestWriteRejects(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, FormatPDF, nil))
	assert.Error(t, Write(&buf, Format("ods"), nil))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}
