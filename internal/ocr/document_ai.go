package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"modelo130/internal/logger"
)

// DocumentAIConfig holds configuration for a Document AI OCR processor.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processor region, e.g. "eu" or "us".
	Location string

	// ProcessorID identifies a Document OCR processor.
	ProcessorID string
}

func (c DocumentAIConfig) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", c.ProjectID, c.Location, c.ProcessorID)
}

// DocumentAIExtractor implements TextExtractor using Google Document AI.
type DocumentAIExtractor struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIExtractor creates a Document AI client for the configured region.
func NewDocumentAIExtractor(ctx context.Context, config DocumentAIConfig) (*DocumentAIExtractor, error) {
	const op = "NewDocumentAIExtractor"

	if config.ProjectID == "" || config.ProcessorID == "" {
		return nil, NewOCRError(op, ErrInvalidConfiguration, "project and processor id are required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var clientOptions []option.ClientOption
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}
	creds := credentialOptions()
	clientOptions = append(clientOptions, creds...)

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(creds) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIExtractor{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}, nil
}

// ExtractText sends the raw document to the processor, restricted to
// page.Number for PDFs.
func (d *DocumentAIExtractor) ExtractText(ctx context.Context, page Page) (string, error) {
	const op = "ExtractText"

	if err := checkPage(op, page); err != nil {
		return "", err
	}

	req := &documentaipb.ProcessRequest{
		Name: d.config.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  page.Content,
				MimeType: page.MediaType,
			},
		},
	}
	if page.Number > 0 {
		req.ProcessOptions = &documentaipb.ProcessOptions{
			PageRange: &documentaipb.ProcessOptions_IndividualPageSelector_{
				IndividualPageSelector: &documentaipb.ProcessOptions_IndividualPageSelector{
					Pages: []int32{int32(page.Number)},
				},
			},
		}
	}

	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return "", d.handleProcessingError(op, err)
	}
	if resp.Document == nil {
		return "", NewOCRError(op, ErrOCRFailed, "no document in response")
	}

	d.log.Debug().
		Int("page", page.Number).
		Int("chars", len(resp.Document.Text)).
		Msg("Processed document page")

	return strings.TrimSpace(resp.Document.Text), nil
}

// handleProcessingError converts Document AI errors to OCR errors.
func (d *DocumentAIExtractor) handleProcessingError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return WrapOCRError(op, err, "processing did not finish")
	case strings.Contains(err.Error(), "PERMISSION_DENIED"):
		return NewOCRError(op, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(err.Error(), "INVALID_ARGUMENT"):
		return NewOCRError(op, ErrInvalidPDF, "document format not supported or corrupted")
	default:
		return NewOCRError(op, ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// Close closes the underlying Document AI client.
func (d *DocumentAIExtractor) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}
