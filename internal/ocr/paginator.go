package ocr

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// PDFPaginator counts PDF pages with pdfcpu.
type PDFPaginator struct {
	conf *model.Configuration
}

// NewPDFPaginator returns a paginator with relaxed validation, since scanned
// invoices are often produced by tools that write slightly malformed PDFs.
func NewPDFPaginator() *PDFPaginator {
	// pdfcpu would otherwise create a config directory under $HOME
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFPaginator{conf: conf}
}

// PageCount returns the number of pages in doc.
func (p *PDFPaginator) PageCount(ctx context.Context, doc []byte) (int, error) {
	const op = "PageCount"

	if err := ctx.Err(); err != nil {
		return 0, WrapOCRError(op, err, "canceled before reading")
	}
	if len(doc) > MaxFileSizeBytes {
		return 0, NewOCRError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(doc)))
	}
	if len(doc) < 4 || string(doc[:4]) != "%PDF" {
		return 0, NewOCRError(op, ErrInvalidPDF, "missing PDF header")
	}

	count, err := api.PageCount(bytes.NewReader(doc), p.conf)
	if err != nil {
		return 0, NewOCRError(op, ErrInvalidPDF, err.Error())
	}
	return count, nil
}
