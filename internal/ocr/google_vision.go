package ocr

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"

	"modelo130/internal/logger"
)

// GoogleVisionExtractor implements TextExtractor using Google Cloud Vision API.
type GoogleVisionExtractor struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewGoogleVisionExtractor creates a Vision client with credentials from environment.
func NewGoogleVisionExtractor(ctx context.Context) (*GoogleVisionExtractor, error) {
	const op = "NewGoogleVisionExtractor"

	opts := credentialOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, WrapOCRError(op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(op, err, "failed to create Vision client")
	}

	return NewGoogleVisionExtractorWithClient(client), nil
}

// NewGoogleVisionExtractorWithClient wraps an existing client.
func NewGoogleVisionExtractorWithClient(client *vision.ImageAnnotatorClient) *GoogleVisionExtractor {
	return &GoogleVisionExtractor{
		client: client,
		log:    logger.WithComponent("vision"),
	}
}

// ExtractText runs DOCUMENT_TEXT_DETECTION on an image, or on a single page
// of a PDF when page.Number is set.
func (g *GoogleVisionExtractor) ExtractText(ctx context.Context, page Page) (string, error) {
	const op = "ExtractText"

	if err := checkPage(op, page); err != nil {
		return "", err
	}

	features := []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}

	if page.MediaType == MediaTypePDF {
		return g.extractFilePage(ctx, op, page, features)
	}

	resp, err := g.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image:    &visionpb.Image{Content: page.Content},
				Features: features,
			},
		},
	})
	if err != nil {
		return "", WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return "", NewOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	return annotationText(op, resp.Responses[0])
}

func (g *GoogleVisionExtractor) extractFilePage(ctx context.Context, op string, page Page, features []*visionpb.Feature) (string, error) {
	resp, err := g.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  page.Content,
					MimeType: page.MediaType,
				},
				Features: features,
				Pages:    []int32{int32(page.Number)},
			},
		},
	})
	if err != nil {
		return "", WrapOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.Responses) == 0 {
		return "", NewOCRError(op, ErrOCRFailed, "no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", fileResp.Error.Message))
	}
	if len(fileResp.Responses) == 0 {
		return "", nil
	}

	g.log.Debug().Int("page", page.Number).Int32("total_pages", fileResp.TotalPages).Msg("Annotated PDF page")

	return annotationText(op, fileResp.Responses[0])
}

// annotationText returns the full text of one response. A page without text
// is not an error.
func annotationText(op string, resp *visionpb.AnnotateImageResponse) (string, error) {
	if resp.Error != nil {
		return "", NewOCRError(op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", resp.Error.Message))
	}
	if resp.FullTextAnnotation == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.FullTextAnnotation.Text), nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionExtractor) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
