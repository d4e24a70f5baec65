package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"modelo130/internal/export"
	"modelo130/internal/ingest"
	"modelo130/internal/logger"
	"modelo130/internal/tax"
	"modelo130/pkg/models"
)

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Calculate the quarterly installment from local files or typed totals",
	Long: `Run the same import pipeline and calculation as the form over local files.

Each --income, --expense or --unified value is a file or a folder; every file
directly inside a folder is imported. Tabular files need an importe_sin_iva
column (income) or an importe column (expense). Scanned invoices and PDFs
need OCR_BACKEND to be configured.

Manual totals are used for any total that adds up to zero after import, so
they can replace the import altogether.`,
	Example: `  # Income and expense spreadsheets
  modelo130 calculate --nif 12345678Z --name "Lucía Martín" --year 2024 --quarter 2 \
    --income ventas.csv --expense compras.xlsx

  # Typed totals only, JSON output
  modelo130 calculate --nif 12345678Z --name "Lucía Martín" \
    --manual-income 3000 --manual-expense 800 --prior 120 --format json

  # Scanned expense invoices in a folder, PDF report
  modelo130 calculate --nif 12345678Z --name "Lucía Martín" \
    --income ventas.csv --expense ./facturas --format pdf -o resumen.pdf`,
	Args: cobra.NoArgs,
	RunE: runCalculate,
}

func init() {
	rootCmd.AddCommand(calculateCmd)

	now := time.Now()

	calculateCmd.Flags().StringSlice("income", nil, "Income files or folders")
	calculateCmd.Flags().StringSlice("expense", nil, "Expense files or folders")
	calculateCmd.Flags().StringSlice("unified", nil, "Files or folders imported through the single channel (counted as income)")

	calculateCmd.Flags().String("manual-income", "", "Income total typed by hand")
	calculateCmd.Flags().String("manual-expense", "", "Expense total typed by hand")
	calculateCmd.Flags().String("manual-withholding", "", "Withholding total typed by hand")
	calculateCmd.Flags().String("prior", "0", "Installments already paid this year")

	calculateCmd.Flags().String("nif", "", "Taxpayer NIF [REQUIRED]")
	calculateCmd.Flags().String("name", "", "Taxpayer name [REQUIRED]")
	calculateCmd.Flags().String("regime", tax.RegimeSimplified, "Fiscal regime")
	calculateCmd.Flags().String("activity", "", "IAE activity code")
	calculateCmd.Flags().Int("year", now.Year(), "Fiscal year")
	calculateCmd.Flags().Int("quarter", (int(now.Month())-1)/3+1, "Quarter (1-4)")

	calculateCmd.Flags().StringP("format", "f", "text", "Output format: text, json, csv, xlsx or pdf")
	calculateCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout; required for xlsx and pdf)")

	calculateCmd.MarkFlagRequired("nif")
	calculateCmd.MarkFlagRequired("name")
}

// calculationInput is everything the calculate command reads from flags.
type calculationInput struct {
	Income      []string
	Expense     []string
	Unified     []string
	Manual      tax.Manual
	Prior       decimal.Decimal
	Declaration tax.Declaration
}

// calculationReport is what the calculate command prints.
type calculationReport struct {
	Summary     tax.Summary         `json:"summary"`
	Records     []models.Record     `json:"records"`
	Diagnostics []ingest.Diagnostic `json:"diagnostics"`
}

func runCalculate(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("calculate")

	c, err := requireConfig()
	if err != nil {
		return err
	}

	in, err := calculationInputFromFlags(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	outputPath, _ := cmd.Flags().GetString("output")
	switch format {
	case "text", "json", "csv":
	case "xlsx", "pdf":
		if outputPath == "" {
			return fmt.Errorf("--output is required for %s output", format)
		}
	default:
		return fmt.Errorf("unknown format %q (want text, json, csv, xlsx or pdf)", format)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pipeline, extractor, err := newPipeline(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := extractor.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close text extractor")
		}
	}()

	calculator, err := tax.NewCalculator(c.InstallmentRate)
	if err != nil {
		return fmt.Errorf("invalid installment rate: %w", err)
	}

	report, err := calculate(ctx, pipeline, calculator, in)
	if err != nil {
		return err
	}

	log.Info().
		Int("records", len(report.Records)).
		Int("diagnostics", len(report.Diagnostics)).
		Str("result", report.Summary.Result.String()).
		Msg("Calculation finished")

	var out io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := writeReport(out, format, report); err != nil {
		return err
	}
	if outputPath != "" {
		log.Info().Str("output_file", outputPath).Msg("Report written")
	}
	return nil
}

func calculationInputFromFlags(cmd *cobra.Command) (calculationInput, error) {
	var in calculationInput
	flags := cmd.Flags()

	in.Income, _ = flags.GetStringSlice("income")
	in.Expense, _ = flags.GetStringSlice("expense")
	in.Unified, _ = flags.GetStringSlice("unified")
	if len(in.Unified) > 0 && (len(in.Income) > 0 || len(in.Expense) > 0) {
		return in, fmt.Errorf("--unified cannot be combined with --income or --expense")
	}

	manual := []struct {
		flag   string
		target **decimal.Decimal
	}{
		{"manual-income", &in.Manual.Income},
		{"manual-expense", &in.Manual.Expense},
		{"manual-withholding", &in.Manual.Withholding},
	}
	for _, m := range manual {
		if !flags.Changed(m.flag) {
			continue
		}
		raw, _ := flags.GetString(m.flag)
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return in, fmt.Errorf("--%s: %q is not a number", m.flag, raw)
		}
		*m.target = &v
	}

	raw, _ := flags.GetString("prior")
	prior, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return in, fmt.Errorf("--prior: %q is not a number", raw)
	}
	in.Prior = prior

	in.Declaration.NIF, _ = flags.GetString("nif")
	in.Declaration.Name, _ = flags.GetString("name")
	in.Declaration.Regime, _ = flags.GetString("regime")
	in.Declaration.ActivityCode, _ = flags.GetString("activity")
	in.Declaration.Year, _ = flags.GetInt("year")
	in.Declaration.Quarter, _ = flags.GetInt("quarter")

	return in, nil
}

// calculate imports every channel, aggregates and computes the summary.
func calculate(ctx context.Context, pipeline *ingest.Pipeline, calculator *tax.Calculator, in calculationInput) (calculationReport, error) {
	decl := in.Declaration.Normalize()
	if err := decl.Validate(); err != nil {
		fields := tax.FieldErrors(err)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		msgs := make([]string, len(names))
		for i, name := range names {
			msgs[i] = name + " " + fields[name]
		}
		return calculationReport{}, fmt.Errorf("invalid declaration: %s", strings.Join(msgs, "; "))
	}

	channels := []struct {
		intent ingest.Intent
		paths  []string
	}{
		{ingest.IntentIncome, in.Income},
		{ingest.IntentExpense, in.Expense},
		{ingest.IntentUnified, in.Unified},
	}

	report := calculationReport{Records: []models.Record{}, Diagnostics: []ingest.Diagnostic{}}
	for _, ch := range channels {
		if len(ch.paths) == 0 {
			continue
		}
		sources, err := readSources(ch.paths)
		if err != nil {
			return calculationReport{}, err
		}
		result := pipeline.Run(ctx, sources, ch.intent)
		report.Records = append(report.Records, result.Records...)
		report.Diagnostics = append(report.Diagnostics, result.Diagnostics...)
	}

	totals := tax.Resolve(tax.Aggregate(report.Records), in.Manual)
	summary, err := calculator.Calculate(decl, totals, in.Prior)
	if err != nil {
		return calculationReport{}, fmt.Errorf("calculation failed: %w", err)
	}
	report.Summary = summary
	return report, nil
}

// readSources loads files, expanding folders one level deep in name order.
func readSources(paths []string) ([]ingest.Source, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("file not found: %s", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read folder %s: %w", p, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				files = append(files, filepath.Join(p, e.Name()))
			}
		}
	}

	sources := make([]ingest.Source, 0, len(files))
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		sources = append(sources, ingest.Source{Filename: filepath.Base(f), Content: content})
	}
	return sources, nil
}

func writeReport(w io.Writer, format string, report calculationReport) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case "csv", "xlsx", "pdf":
		return export.Write(w, export.Format(format), []tax.Summary{report.Summary})
	default:
		return writeText(w, report)
	}
}

func writeText(w io.Writer, report calculationReport) error {
	s := report.Summary
	d := s.Declaration

	var b strings.Builder
	fmt.Fprintf(&b, "Modelo 130 · Ejercicio %d · %dT\n", d.Year, d.Quarter)
	fmt.Fprintf(&b, "%s (%s) · %s\n", d.Name, d.NIF, d.Regime)
	b.WriteString(strings.Repeat("-", 48) + "\n")

	ratePct := s.Rate.Mul(decimal.NewFromInt(100)).String()
	lines := []struct {
		label string
		value decimal.Decimal
	}{
		{"Ingresos", s.IncomeTotal},
		{"Gastos", s.ExpenseTotal},
		{"Rendimiento neto", s.NetYield},
		{"Pago fraccionado (" + ratePct + " %)", s.Installment},
		{"Retenciones", s.WithholdingTotal},
		{"Pagos previos", s.PriorPayments},
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "%-32s %12s €\n", l.label+":", tax.Money(l.value))
	}
	b.WriteString(strings.Repeat("-", 48) + "\n")
	fmt.Fprintf(&b, "%-32s %12s €\n", s.Outcome.Label()+":", tax.Money(s.Payable))

	if len(s.Warnings) > 0 {
		b.WriteString("\nAvisos:\n")
		for _, warn := range s.Warnings {
			fmt.Fprintf(&b, "  ! %s\n", warn)
		}
	}
	if len(report.Diagnostics) > 0 {
		b.WriteString("\nArchivos no procesados:\n")
		for _, diag := range report.Diagnostics {
			fmt.Fprintf(&b, "  %s: %s\n", diag.Source, diag.Message)
		}
	}
	fmt.Fprintf(&b, "\nFacturas importadas: %d\n\nNotas:\n", len(report.Records))
	for _, note := range tax.Notes {
		fmt.Fprintf(&b, "  - %s\n", note)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
