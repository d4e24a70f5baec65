package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modelo130/internal/config"
	"modelo130/internal/logger"
)

var version = "1.0.0"

var (
	cfg    *config.Config
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:   "modelo130",
	Short: "Modelo 130 quarterly installment calculator",
	Long: `modelo130 computes the quarterly personal income tax installment
(Modelo 130) for self-employed taxpayers under direct estimation.

Income and expenses can be typed in, imported from CSV or Excel files, or
read from scanned invoices through Google Cloud OCR. The serve command
starts the interactive form; calculate runs the same pipeline over local
files.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Debug().
			Str("version", version).
			Msg("Root command executed")

		fmt.Println("modelo130: quarterly installment calculator")
		fmt.Println("Use --help to see available commands and options.")
	},
}

// Execute runs the command line with the configuration loaded by main.
// loadErr is reported by the commands that need configuration.
func Execute(c *config.Config, loadErr error) {
	cfg, cfgErr = c, loadErr

	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func requireConfig() (*config.Config, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("configuration error: %w", cfgErr)
	}
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
