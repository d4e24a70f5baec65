package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"modelo130/internal/tabular"
)

func TestDetect(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name   string
		src    Source
		kind   Kind
		media  string
		format tabular.Format
	}{
		{name: "declared csv", src: Source{Filename: "a", MediaType: "text/csv; charset=utf-8"}, kind: KindTabular, media: "text/csv", format: tabular.CSV},
		{name: "windows csv", src: Source{Filename: "a.csv", MediaType: "application/vnd.ms-excel"}, kind: KindTabular, media: "text/csv", format: tabular.CSV},
		{name: "declared xls", src: Source{Filename: "a.xls", MediaType: "application/vnd.ms-excel"}, kind: KindTabular, format: tabular.XLS, media: mediaTypeXLS},
		{name: "extension pdf", src: Source{Filename: "Factura.PDF", MediaType: "application/octet-stream"}, kind: KindDocument, media: "application/pdf"},
		{name: "extension jpg", src: Source{Filename: "ticket.jpg"}, kind: KindImage, media: "image/jpeg"},
		{name: "sniffed png", src: Source{Filename: "upload", Content: pngHeader}, kind: KindImage, media: "image/png"},
		{name: "sniffed pdf", src: Source{Filename: "upload", Content: []byte("%PDF-1.7\n")}, kind: KindDocument, media: "application/pdf"},
		{name: "unknown", src: Source{Filename: "notes.docx", MediaType: "application/msword"}, kind: KindUnsupported, media: "application/msword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Detect(tt.src)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.media, d.MediaType)
			assert.Equal(t, tt.format, d.Format)
		})
	}
}
