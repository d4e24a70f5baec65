package cmd

import (
	"context"
	"fmt"

	"modelo130/internal/config"
	"modelo130/internal/ingest"
	"modelo130/internal/invoice"
	"modelo130/internal/ocr"
)

// newPipeline wires the ingestion pipeline for c. The returned extractor
// must be closed by the caller.
func newPipeline(ctx context.Context, c *config.Config) (*ingest.Pipeline, ocr.Extractor, error) {
	extractor, err := newExtractor(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	pipeline := ingest.NewPipeline(invoice.NewNormalizer(), extractor, ocr.NewPDFPaginator(), ingest.Options{
		Workers: c.OCRWorkers,
		Timeout: c.OCRTimeout,
	})
	return pipeline, extractor, nil
}

func newExtractor(ctx context.Context, c *config.Config) (ocr.Extractor, error) {
	extractor, err := ocr.New(ctx, ocr.Options{
		Backend:     c.OCRBackend,
		ProjectID:   c.GoogleCloudProject,
		Location:    c.GoogleCloudLocation,
		ProcessorID: c.DocumentAIProcessorID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s text extractor: %w", c.OCRBackend, err)
	}
	return extractor, nil
}
