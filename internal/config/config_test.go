package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"TAX_INSTALLMENT_RATE", "OCR_BACKEND", "OCR_WORKERS", "OCR_TIMEOUT", "MAX_UPLOAD_BYTES", "SESSION_IDLE_TIMEOUT", "HTTP_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.20").Equal(cfg.InstallmentRate))
	assert.Equal(t, OCRBackendNone, cfg.OCRBackend)
	assert.Equal(t, 4, cfg.OCRWorkers)
	assert.Equal(t, 60*time.Second, cfg.OCRTimeout)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 2*time.Hour, cfg.SessionIdleTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "Modelo130", cfg.GoogleSheetWorksheet)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"rate not a number", map[string]string{"TAX_INSTALLMENT_RATE": "veinte"}, "TAX_INSTALLMENT_RATE"},
		{"rate above one", map[string]string{"TAX_INSTALLMENT_RATE": "20"}, "between 0 and 1"},
		{"workers", map[string]string{"OCR_WORKERS": "0"}, "OCR_WORKERS"},
		{"timeout", map[string]string{"OCR_TIMEOUT": "soon"}, "OCR_TIMEOUT"},
		{"backend", map[string]string{"OCR_BACKEND": "tesseract"}, "unknown OCR_BACKEND"},
		{"documentai without processor", map[string]string{
			"OCR_BACKEND":              OCRBackendDocumentAI,
			"GOOGLE_CLOUD_PROJECT":     "proj",
			"DOCUMENT_AI_PROCESSOR_ID": "",
		}, "DOCUMENT_AI_PROCESSOR_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetLoggerConfig(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json", LogTimeFormat: time.RFC3339, LogOutput: "stderr"}
	lc := cfg.GetLoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "stderr", lc.Output)
}
