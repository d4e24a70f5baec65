// Package ocr is the boundary to text recognition services.
//
// A TextExtractor receives one image or one page of a paginated document and
// returns the recognized text. Backends:
//   - vision: Google Cloud Vision DOCUMENT_TEXT_DETECTION
//   - documentai: a Google Document AI OCR processor
//   - none: every call fails with ErrExtractionUnavailable
//
// Credentials for the Google backends come from the environment:
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string, OR
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file
//
// Documents above MaxFileSizeBytes are rejected before any call is made.
package ocr

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"
)

const (
	// MaxFileSizeBytes is the maximum document size for synchronous processing (20MB)
	MaxFileSizeBytes = 20 * 1024 * 1024

	MediaTypePDF = "application/pdf"
)

// Page is the unit handed to a TextExtractor.
type Page struct {
	// Content is the whole image or the whole paginated document
	Content []byte

	// MediaType is the detected type, e.g. image/png or application/pdf
	MediaType string

	// Number selects a 1-based page of a paginated document; 0 for an image
	Number int
}

// TextExtractor recognizes text in one image or document page.
type TextExtractor interface {
	ExtractText(ctx context.Context, page Page) (string, error)
}

// Paginator reports how many pages a paginated document has.
type Paginator interface {
	PageCount(ctx context.Context, doc []byte) (int, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // none, vision, documentai
	ProjectID   string
	Location    string
	ProcessorID string
}

// Extractor is a TextExtractor holding a client connection.
type Extractor interface {
	TextExtractor
	Close() error
}

// New creates the extractor named by opts.Backend.
func New(ctx context.Context, opts Options) (Extractor, error) {
	const op = "New"

	switch opts.Backend {
	case "", "none":
		return Unavailable{}, nil
	case "vision":
		return NewGoogleVisionExtractor(ctx)
	case "documentai":
		return NewDocumentAIExtractor(ctx, DocumentAIConfig{
			ProjectID:   opts.ProjectID,
			Location:    opts.Location,
			ProcessorID: opts.ProcessorID,
		})
	default:
		return nil, NewOCRError(op, ErrInvalidConfiguration, fmt.Sprintf("unknown backend %q", opts.Backend))
	}
}

// Unavailable is used when no backend is configured.
type Unavailable struct{}

func (Unavailable) ExtractText(context.Context, Page) (string, error) {
	return "", ErrExtractionUnavailable
}

func (Unavailable) Close() error { return nil }

// credentialOptions reads Google credentials from the environment, inline
// JSON first. An empty result means application default credentials.
func credentialOptions() []option.ClientOption {
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(credFile)}
	}
	return nil
}

// checkPage validates what every backend needs before calling out.
func checkPage(op string, page Page) error {
	if len(page.Content) == 0 {
		return NewOCRError(op, ErrEmptyDocument, "no content")
	}
	if len(page.Content) > MaxFileSizeBytes {
		return NewOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(page.Content)))
	}
	if page.MediaType == MediaTypePDF {
		if len(page.Content) < 4 || string(page.Content[:4]) != "%PDF" {
			return NewOCRError(op, ErrInvalidPDF, "missing PDF header")
		}
		if page.Number < 1 {
			return NewOCRError(op, ErrInvalidPage, fmt.Sprintf("page %d", page.Number))
		}
	}
	return nil
}
