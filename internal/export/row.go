// Package export renders quarterly summaries as downloadable files and as
// rows appended to a Google Sheet. Every format shares the same flattened
// row so a summary reads the same wherever it ends up.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"modelo130/internal/tax"
)

// Headers of the flattened summary row.
var Headers = []string{
	"nif", "nombre", "regimen", "iae", "ejercicio", "trimestre",
	"ingresos", "gastos", "rendimiento_neto", "tipo", "pago_fraccionado",
	"retenciones", "pagos_previos", "resultado", "situacion", "importe",
	"fecha_calculo",
}

const timestampLayout = "2006-01-02 15:04:05"

// Format is a download format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ContentType returns the media type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Filename builds a download name such as modelo130_2024_2T.csv.
func Filename(s tax.Summary, f Format) string {
	if s.Declaration.Year == 0 {
		return fmt.Sprintf("modelo130.%s", f)
	}
	return fmt.Sprintf("modelo130_%d_%dT.%s", s.Declaration.Year, s.Declaration.Quarter, f)
}

// Write renders summaries in format f. PDF renders the last summary only.
func Write(w io.Writer, f Format, summaries []tax.Summary) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, summaries)
	case FormatXLSX:
		return WriteXLSX(w, summaries)
	case FormatPDF:
		if len(summaries) == 0 {
			return fmt.Errorf("pdf export needs a summary")
		}
		return WritePDF(w, summaries[len(summaries)-1])
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Row flattens a summary with amounts as two-decimal strings.
func Row(s tax.Summary) []string {
	d := s.Declaration
	return []string{
		d.NIF,
		d.Name,
		d.Regime,
		d.ActivityCode,
		yearString(d.Year),
		quarterString(d.Quarter),
		tax.Money(s.IncomeTotal),
		tax.Money(s.ExpenseTotal),
		tax.Money(s.NetYield),
		ratePercent(s.Rate),
		tax.Money(s.Installment),
		tax.Money(s.WithholdingTotal),
		tax.Money(s.PriorPayments),
		tax.Money(s.Result),
		s.Outcome.Label(),
		tax.Money(s.Payable),
		s.CreatedAt.Format(timestampLayout),
	}
}

// Values flattens a summary with amounts as numbers, for spreadsheets.
func Values(s tax.Summary) []interface{} {
	d := s.Declaration
	return []interface{}{
		d.NIF,
		d.Name,
		d.Regime,
		d.ActivityCode,
		d.Year,
		d.Quarter,
		number(s.IncomeTotal),
		number(s.ExpenseTotal),
		number(s.NetYield),
		number(s.Rate.Mul(decimal.NewFromInt(100))),
		number(s.Installment),
		number(s.WithholdingTotal),
		number(s.PriorPayments),
		number(s.Result),
		s.Outcome.Label(),
		number(s.Payable),
		s.CreatedAt.Format(timestampLayout),
	}
}

func number(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func ratePercent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).String()
}

func yearString(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

func quarterString(q int) string {
	if q == 0 {
		return ""
	}
	return strconv.Itoa(q) + "T"
}
