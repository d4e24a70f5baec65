package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelo130/internal/config"
	"modelo130/internal/ingest"
	"modelo130/internal/invoice"
	"modelo130/internal/logger"
	"modelo130/internal/ocr"
	"modelo130/internal/tax"
	"modelo130/pkg/models"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [file]",
	Short: "Recognize the text of a scanned invoice and show the fields read from it",
	Long: `Run the configured text extractor over an image or PDF and print the
recognized text of every page together with the invoice fields the import
heuristic finds in it (date, NIF, base, VAT and withholding).

Use it to check how a scanned invoice will be read before uploading it.

Required environment variables:
  OCR_BACKEND - vision or documentai
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID - for documentai`,
	Example: `  # Show text and fields of a scanned invoice
  modelo130 ocr factura.jpg

  # Read a PDF as an expense invoice and save JSON
  modelo130 ocr factura.pdf --classification expense --json -o factura.json

  # Process with custom timeout
  modelo130 ocr escaneo.pdf --timeout 600`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	FileName           string      `json:"file_name"`
	FileSize           int64       `json:"file_size"`
	MediaType          string      `json:"media_type"`
	Pages              []OCRPage   `json:"pages"`
	ProcessedAt        time.Time   `json:"processed_at"`
	ProcessingDuration string      `json:"processing_duration"`
	Totals             *tax.Totals `json:"totals,omitempty"`
}

// OCRPage is the text and fields of one page or image.
type OCRPage struct {
	Number int            `json:"number"`
	Text   string         `json:"text"`
	Record *models.Record `json:"record,omitempty"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().String("classification", "income", "Read the invoice as income or expense")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	classification, _ := cmd.Flags().GetString("classification")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	class := models.Classification(strings.ToLower(classification))
	if !class.Valid() {
		return fmt.Errorf("invalid classification %q (must be 'income' or 'expense')", classification)
	}

	c, err := requireConfig()
	if err != nil {
		return err
	}
	if c.OCRBackend == config.OCRBackendNone {
		return fmt.Errorf("no text extractor configured: set OCR_BACKEND to vision or documentai")
	}

	path := args[0]
	log.Info().
		Str("file", path).
		Str("backend", c.OCRBackend).
		Str("classification", string(class)).
		Int("timeout", timeoutSecs).
		Msg("Starting OCR processing")

	fileInfo, err := validateScanFile(path, log)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	detection := ingest.Detect(ingest.Source{Filename: fileInfo.Name(), Content: content})
	if detection.Kind != ingest.KindImage && detection.Kind != ingest.KindDocument {
		return fmt.Errorf("%s is not an image or PDF", path)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	extractor, err := newExtractor(ctx, c)
	if err != nil {
		return handleOCRError(err, log)
	}
	defer func() {
		if closeErr := extractor.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close text extractor")
		}
	}()

	startTime := time.Now()
	pages, err := recognizePages(ctx, extractor, ocr.NewPDFPaginator(), content, detection.MediaType)
	if err != nil {
		return handleOCRError(err, log)
	}

	normalizer := invoice.NewNormalizer()
	var records []models.Record
	for i := range pages {
		if strings.TrimSpace(pages[i].Text) == "" {
			continue
		}
		record := normalizer.FromText(pages[i].Text, class, fileInfo.Name(), pages[i].Number)
		pages[i].Record = &record
		records = append(records, record)
	}

	result := OCROutput{
		FileName:           fileInfo.Name(),
		FileSize:           fileInfo.Size(),
		MediaType:          detection.MediaType,
		Pages:              pages,
		ProcessedAt:        time.Now(),
		ProcessingDuration: time.Since(startTime).String(),
	}
	if len(records) > 0 {
		totals := tax.Aggregate(records)
		result.Totals = &totals
	}

	log.Info().
		Int("page_count", len(pages)).
		Int("records", len(records)).
		Str("duration", result.ProcessingDuration).
		Msg("OCR processing completed successfully")

	return outputResults(result, outputPath, jsonOutput, log)
}

// recognizePages extracts every page of a PDF, or the single image.
func recognizePages(ctx context.Context, extractor ocr.TextExtractor, paginator ocr.Paginator, content []byte, mediaType string) ([]OCRPage, error) {
	if mediaType != ocr.MediaTypePDF {
		text, err := extractor.ExtractText(ctx, ocr.Page{Content: content, MediaType: mediaType})
		if err != nil {
			return nil, err
		}
		return []OCRPage{{Number: 0, Text: text}}, nil
	}

	count, err := paginator.PageCount(ctx, content)
	if err != nil {
		return nil, err
	}
	pages := make([]OCRPage, 0, count)
	for n := 1; n <= count; n++ {
		text, err := extractor.ExtractText(ctx, ocr.Page{Content: content, MediaType: mediaType, Number: n})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		pages = append(pages, OCRPage{Number: n, Text: text})
	}
	return pages, nil
}

// validateScanFile checks if the file exists, is readable and fits the size limit
func validateScanFile(path string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("File not found")
			return nil, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing file")
			return nil, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}
	if fileInfo.Size() == 0 {
		return nil, fmt.Errorf("file is empty: %s", path)
	}
	if fileInfo.Size() > ocr.MaxFileSizeBytes {
		log.Error().
			Str("file", path).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxFileSizeBytes).
			Msg("File exceeds maximum size limit")
		return nil, fmt.Errorf("file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxFileSizeBytes)
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling OCR processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrDocumentTooLarge):
		return fmt.Errorf("document is too large (maximum 20MB). Try compressing or splitting the file")
	case errors.Is(err, ocr.ErrInvalidPDF):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity")
	case errors.Is(err, ocr.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Set GOOGLE_APPLICATION_CREDENTIALS " +
			"to a service account JSON file or GOOGLE_CREDENTIALS to its inline JSON")
	case errors.Is(err, ocr.ErrInvalidConfiguration):
		return fmt.Errorf("invalid OCR configuration: %w", err)
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check your credentials: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("permission denied. Please ensure the service account may call the configured OCR API")
	case strings.Contains(errStr, "QUOTA_EXCEEDED") || strings.Contains(errStr, "quota"):
		return fmt.Errorf("Google Cloud quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues, API quota limits, or service unavailability: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

// outputResults formats and outputs the OCR results
func outputResults(result OCROutput, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(data, '\n')
	} else {
		outputData = []byte(formatOCRText(result))
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0o644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("OCR results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func formatOCRText(result OCROutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== OCR Results for %s ===\n", filepath.Base(result.FileName))
	fmt.Fprintf(&b, "File size: %d bytes (%s)\n", result.FileSize, result.MediaType)
	fmt.Fprintf(&b, "Processing time: %s\n", result.ProcessingDuration)

	for _, p := range result.Pages {
		if p.Number > 0 {
			fmt.Fprintf(&b, "\n=== Page %d ===\n\n", p.Number)
		} else {
			b.WriteString("\n=== Extracted Text ===\n\n")
		}
		b.WriteString(strings.TrimRight(p.Text, "\n"))
		b.WriteString("\n")

		if p.Record == nil {
			b.WriteString("\n(no text)\n")
			continue
		}
		r := p.Record
		date := "-"
		if r.Date != nil {
			date = r.Date.Format("02/01/2006")
		}
		counterpart := r.CounterpartID
		if counterpart == "" {
			counterpart = "-"
		}
		fmt.Fprintf(&b, "\n--- Fields ---\nFecha: %s\nNIF: %s\nBase: %s\nIVA: %s\nRetención: %s\n",
			date, counterpart, tax.Money(r.BaseAmount), tax.Money(r.VATAmount), tax.Money(r.WithheldAmount))
	}

	if result.Totals != nil {
		fmt.Fprintf(&b, "\n=== Totals ===\nIngresos: %s\nGastos: %s\nRetenciones: %s\n",
			tax.Money(result.Totals.Income), tax.Money(result.Totals.Expense), tax.Money(result.Totals.Withholding))
	}
	return b.String()
}
