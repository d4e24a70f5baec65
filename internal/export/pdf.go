package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"modelo130/internal/tax"
)

// WritePDF renders one summary as an A4 report.
func WritePDF(w io.Writer, s tax.Summary) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetTitle("Modelo 130", true)
	pdf.AddPage()

	// Core fonts are cp1252; this covers accents and the euro sign
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	contentW := pageW - left - right
	labelW := contentW * 0.6
	valueW := contentW - labelW

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 10, tr("Declaración Modelo 130"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, tr("Pago fraccionado IRPF - cálculo del "+s.CreatedAt.Format("02/01/2006 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	section := func(title string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(contentW, 7, tr(title), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
	}
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(labelW, 6, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(valueW, 6, tr(value), "", 1, "R", false, 0, "")
	}
	euros := func(v string) string { return v + " €" }

	d := s.Declaration
	section("Datos del declarante")
	line("NIF/NIE", d.NIF)
	line("Nombre o razón social", d.Name)
	line("Régimen fiscal", d.Regime)
	line("Actividad (IAE)", d.ActivityCode)
	line("Ejercicio / trimestre", fmt.Sprintf("%s / %s", yearString(d.Year), quarterString(d.Quarter)))
	pdf.Ln(3)

	section("Resultado del trimestre")
	line("Ingresos computables", euros(tax.Money(s.IncomeTotal)))
	line("Gastos deducibles", euros(tax.Money(s.ExpenseTotal)))
	line("Rendimiento neto (ingresos - gastos)", euros(tax.Money(s.NetYield)))
	line(fmt.Sprintf("%s %% del rendimiento (pago fraccionado)", ratePercent(s.Rate)), euros(tax.Money(s.Installment)))
	line("Retenciones soportadas", euros(tax.Money(s.WithholdingTotal)))
	line("Pagos fraccionados anteriores", euros(tax.Money(s.PriorPayments)))
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(labelW, 9, tr("Importe "+strings.ToLower(s.Outcome.Label())), "", 0, "L", true, 0, "")
	pdf.CellFormat(valueW, 9, tr(euros(tax.Money(s.Payable))), "", 1, "R", true, 0, "")
	pdf.Ln(4)

	if len(s.Warnings) > 0 {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(180, 60, 0)
		for _, warning := range s.Warnings {
			pdf.MultiCell(contentW, 5, tr(warning), "", "L", false)
		}
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)
	}

	section("Notas")
	pdf.SetFont("Helvetica", "", 9)
	for _, note := range tax.Notes {
		pdf.MultiCell(contentW, 5, tr("- "+note), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("pdf: write: %w", err)
	}
	return nil
}
