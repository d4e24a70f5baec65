package ingest

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"modelo130/internal/ocr"
	"modelo130/internal/tabular"
)

// Kind is the extraction path a source takes.
type Kind string

const (
	KindTabular     Kind = "tabular"
	KindImage       Kind = "image"
	KindDocument    Kind = "document"
	KindUnsupported Kind = "unsupported"
)

// Detection is what Detect learned about a source.
type Detection struct {
	Kind      Kind
	MediaType string
	Format    tabular.Format // set for KindTabular
}

const (
	mediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mediaTypeXLS  = "application/vnd.ms-excel"
)

var byMediaType = map[string]Detection{
	"text/csv":        {Kind: KindTabular, MediaType: "text/csv", Format: tabular.CSV},
	"application/csv": {Kind: KindTabular, MediaType: "text/csv", Format: tabular.CSV},
	mediaTypeXLSX:     {Kind: KindTabular, MediaType: mediaTypeXLSX, Format: tabular.XLSX},
	mediaTypeXLS:      {Kind: KindTabular, MediaType: mediaTypeXLS, Format: tabular.XLS},
	ocr.MediaTypePDF:  {Kind: KindDocument, MediaType: ocr.MediaTypePDF},
	"image/png":       {Kind: KindImage, MediaType: "image/png"},
	"image/jpeg":      {Kind: KindImage, MediaType: "image/jpeg"},
	"image/jpg":       {Kind: KindImage, MediaType: "image/jpeg"},
	"image/tiff":      {Kind: KindImage, MediaType: "image/tiff"},
	"image/gif":       {Kind: KindImage, MediaType: "image/gif"},
	"image/bmp":       {Kind: KindImage, MediaType: "image/bmp"},
	"image/x-ms-bmp":  {Kind: KindImage, MediaType: "image/bmp"},
	"image/webp":      {Kind: KindImage, MediaType: "image/webp"},
}

var byExtension = map[string]string{
	".csv":  "text/csv",
	".xlsx": mediaTypeXLSX,
	".xls":  mediaTypeXLS,
	".pdf":  ocr.MediaTypePDF,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

// Detect classifies a source by its declared media type, then its filename
// extension, then its content.
func Detect(src Source) Detection {
	ext := strings.ToLower(filepath.Ext(src.Filename))

	if declared := baseMediaType(src.MediaType); declared != "" && declared != "application/octet-stream" {
		// Windows browsers declare .csv uploads as application/vnd.ms-excel
		if declared == mediaTypeXLS && ext == ".csv" {
			declared = "text/csv"
		}
		if d, ok := byMediaType[declared]; ok {
			return d
		}
	}

	if mt, ok := byExtension[ext]; ok {
		return byMediaType[mt]
	}

	if len(src.Content) > 0 {
		for mt := mimetype.Detect(src.Content); mt != nil; mt = mt.Parent() {
			if d, ok := byMediaType[baseMediaType(mt.String())]; ok {
				return d
			}
		}
	}

	return Detection{Kind: KindUnsupported, MediaType: baseMediaType(src.MediaType)}
}

func baseMediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
