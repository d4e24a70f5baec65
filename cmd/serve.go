package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"modelo130/internal/assist"
	"modelo130/internal/export"
	"modelo130/internal/logger"
	"modelo130/internal/server"
	"modelo130/internal/session"
	"modelo130/internal/tax"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the interactive Modelo 130 form",
	Long: `Start the HTTP server with the calculator form and its JSON API.

Each browser session keeps its own imported records, calculated summaries
and inquiries in memory. Sessions are discarded when ended from the form or
after SESSION_IDLE_TIMEOUT without activity.

Optional integrations:
  OCR_BACKEND=vision|documentai  - read scanned invoices (Google Cloud)
  GOOGLE_SHEET_URL               - append summaries to a Google Sheet
  OPENAI_API_KEY                 - generate replies to inquiries`,
	Example: `  # Serve on the default address (:8080)
  modelo130 serve

  # Serve on another port with cookies marked Secure
  modelo130 serve --addr :9000 --secure-cookies`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
	serveCmd.Flags().Bool("secure-cookies", false, "Mark the session cookie as Secure (behind HTTPS)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	c, err := requireConfig()
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = c.HTTPAddr
	}
	secureCookies, _ := cmd.Flags().GetBool("secure-cookies")

	gin.SetMode(c.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	deps := server.Deps{
		Store:      session.NewStore(c.SessionIdleTimeout),
		Pipeline:   pipeline,
		Calculator: calculator,
	}

	if c.GoogleSheetURL != "" {
		sheets, err := export.NewSheetsExporter(ctx, c.GoogleSheetURL, c.GoogleSheetWorksheet)
		if err != nil {
			return fmt.Errorf("failed to configure Google Sheets export: %w", err)
		}
		deps.Sheets = sheets
	}

	if c.OpenAIAPIKey != "" {
		responder, err := assist.NewOpenAIResponder(c.OpenAIAPIKey, assist.DefaultConfig(c.OpenAIModel))
		if err != nil {
			return err
		}
		deps.Responder = responder
	}

	log.Info().
		Str("addr", addr).
		Str("ocr_backend", c.OCRBackend).
		Str("rate", c.InstallmentRate.String()).
		Bool("sheets", deps.Sheets != nil).
		Bool("inquiry_replies", deps.Responder != nil).
		Dur("session_idle_timeout", c.SessionIdleTimeout).
		Msg("Starting server")

	srv := server.New(deps, server.Options{
		MaxUploadBytes: c.MaxUploadBytes,
		SecureCookies:  secureCookies,
	})
	if err := srv.Run(ctx, addr); err != nil {
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
