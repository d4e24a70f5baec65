package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"modelo130/internal/logger"
)

// OCR backends understood by OCR_BACKEND
const (
	OCRBackendNone       = "none"
	OCRBackendVision     = "vision"
	OCRBackendDocumentAI = "documentai"
)

type Config struct {
	// HTTP surface
	HTTPAddr       string
	GinMode        string
	MaxUploadBytes int64

	// Calculation
	InstallmentRate decimal.Decimal

	// Text extraction
	OCRBackend string
	OCRWorkers int
	OCRTimeout time.Duration

	// Google Cloud Configuration
	GoogleCloudProject    string
	GoogleCloudLocation   string
	DocumentAIProcessorID string

	// Google Sheets export (optional)
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Inquiry replies (optional)
	OpenAIAPIKey string
	OpenAIModel  string

	// Sessions
	SessionIdleTimeout time.Duration

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		GinMode:               getEnv("GIN_MODE", "release"),
		OCRBackend:            getEnv("OCR_BACKEND", OCRBackendNone),
		GoogleCloudProject:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:   getEnv("GOOGLE_CLOUD_LOCATION", "eu"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "Modelo130"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if config.InstallmentRate, err = decimal.NewFromString(getEnv("TAX_INSTALLMENT_RATE", "0.20")); err != nil {
		return nil, fmt.Errorf("TAX_INSTALLMENT_RATE: %w", err)
	}
	if config.OCRWorkers, err = strconv.Atoi(getEnv("OCR_WORKERS", "4")); err != nil {
		return nil, fmt.Errorf("OCR_WORKERS: %w", err)
	}
	if config.MaxUploadBytes, err = strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "33554432"), 10, 64); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}
	if config.OCRTimeout, err = time.ParseDuration(getEnv("OCR_TIMEOUT", "60s")); err != nil {
		return nil, fmt.Errorf("OCR_TIMEOUT: %w", err)
	}
	if config.SessionIdleTimeout, err = time.ParseDuration(getEnv("SESSION_IDLE_TIMEOUT", "2h")); err != nil {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.InstallmentRate.IsNegative() || c.InstallmentRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_INSTALLMENT_RATE must be between 0 and 1, got %s", c.InstallmentRate)
	}
	if c.OCRWorkers <= 0 {
		return fmt.Errorf("OCR_WORKERS must be positive")
	}
	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}

	switch c.OCRBackend {
	case OCRBackendNone, OCRBackendVision:
	case OCRBackendDocumentAI:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for OCR_BACKEND=documentai")
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for OCR_BACKEND=documentai")
		}
	default:
		return fmt.Errorf("unknown OCR_BACKEND %q (want none, vision or documentai)", c.OCRBackend)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
