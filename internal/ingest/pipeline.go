// Package ingest dispatches uploaded sources to the right extraction path and
// collects invoice records plus one diagnostic per failed source.
//
// Tabular uploads go through the table normalizer. Images and PDF pages go
// through the configured TextExtractor on a bounded worker pool, one call per
// page, each under its own timeout. A failing page fails its whole source.
// Output order follows source arrival, then page order, regardless of which
// worker finished first.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelo130/internal/invoice"
	"modelo130/internal/logger"
	"modelo130/internal/ocr"
	"modelo130/internal/tabular"
	"modelo130/pkg/models"
)

// Intent is the upload channel a batch arrived on.
type Intent string

const (
	IntentIncome  Intent = "income"
	IntentExpense Intent = "expense"
	// IntentUnified is a single upload channel; everything counts as income.
	IntentUnified Intent = "unified"
)

// ParseIntent maps a form value to an Intent. Empty means unified.
func ParseIntent(v string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(v))) {
	case IntentIncome:
		return IntentIncome, nil
	case IntentExpense:
		return IntentExpense, nil
	case IntentUnified, "":
		return IntentUnified, nil
	default:
		return "", fmt.Errorf("unknown intent %q", v)
	}
}

// Classification returns the classification given to records of this intent.
func (i Intent) Classification() models.Classification {
	if i == IntentExpense {
		return models.Expense
	}
	return models.Income
}

// Source is one uploaded file.
type Source struct {
	Filename  string
	MediaType string
	Content   []byte
}

// DiagnosticKind names why a source produced no records.
type DiagnosticKind string

const (
	DiagMissingColumn    DiagnosticKind = "missing_column"
	DiagUnreadable       DiagnosticKind = "unreadable"
	DiagExtractionFailed DiagnosticKind = "extraction_failed"
	DiagUnsupportedType  DiagnosticKind = "unsupported_type"
)

// Diagnostic reports a source-level failure.
type Diagnostic struct {
	Source  string         `json:"source"`
	Kind    DiagnosticKind `json:"kind"`
	Message string         `json:"message"`
}

// Result is the output of one batch.
type Result struct {
	Records     []models.Record `json:"records"`
	Diagnostics []Diagnostic    `json:"diagnostics"`
}

// Options tunes the OCR worker pool.
type Options struct {
	Workers int
	Timeout time.Duration
}

// Pipeline runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Pipeline struct {
	normalizer *invoice.Normalizer
	extractor  ocr.TextExtractor
	paginator  ocr.Paginator
	opts       Options
	log        zerolog.Logger
}

// NewPipeline wires a pipeline. A nil extractor behaves like ocr.Unavailable.
func NewPipeline(normalizer *invoice.Normalizer, extractor ocr.TextExtractor, paginator ocr.Paginator, opts Options) *Pipeline {
	if extractor == nil {
		extractor = ocr.Unavailable{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		normalizer: normalizer,
		extractor:  extractor,
		paginator:  paginator,
		opts:       opts,
		log:        logger.WithComponent("ingest"),
	}
}

// pageJob is one extractor call.
type pageJob struct {
	Index  int // position in the jobs slice
	Source int // position in the batch
	Page   ocr.Page
}

type pageResult struct {
	Text string
	Err  error
}

// sourceOutcome is filled for every source, in arrival order.
type sourceOutcome struct {
	records    []models.Record
	diagnostic *Diagnostic
	jobs       []int // indexes into the jobs slice, page order
}

// Run processes every source. It never fails as a whole.
func (p *Pipeline) Run(ctx context.Context, sources []Source, intent Intent) Result {
	class := intent.Classification()
	outcomes := make([]sourceOutcome, len(sources))
	var jobs []pageJob

	for i, src := range sources {
		detection := Detect(src)
		out := &outcomes[i]

		switch detection.Kind {
		case KindTabular:
			out.records, out.diagnostic = p.runTable(src, detection.Format, class)

		case KindImage:
			out.jobs = append(out.jobs, len(jobs))
			jobs = append(jobs, pageJob{
				Index:  len(jobs),
				Source: i,
				Page:   ocr.Page{Content: src.Content, MediaType: detection.MediaType},
			})

		case KindDocument:
			count, diag := p.countPages(ctx, src)
			if diag != nil {
				out.diagnostic = diag
				continue
			}
			for n := 1; n <= count; n++ {
				out.jobs = append(out.jobs, len(jobs))
				jobs = append(jobs, pageJob{
					Index:  len(jobs),
					Source: i,
					Page:   ocr.Page{Content: src.Content, MediaType: detection.MediaType, Number: n},
				})
			}

		default:
			out.diagnostic = &Diagnostic{
				Source:  src.Filename,
				Kind:    DiagUnsupportedType,
				Message: fmt.Sprintf("unsupported file type %s", describeType(src, detection)),
			}
		}
	}

	pages := p.extractPages(ctx, jobs)

	var result Result
	for i, src := range sources {
		out := outcomes[i]
		if out.diagnostic == nil && len(out.jobs) > 0 {
			out.records, out.diagnostic = p.collectPages(src, class, jobs, pages, out.jobs)
		}
		if out.diagnostic != nil {
			result.Diagnostics = append(result.Diagnostics, *out.diagnostic)
			continue
		}
		result.Records = append(result.Records, out.records...)
	}

	p.log.Info().
		Str("intent", string(intent)).
		Int("sources", len(sources)).
		Int("pages", len(jobs)).
		Int("records", len(result.Records)).
		Int("diagnostics", len(result.Diagnostics)).
		Msg("Ingestion batch finished")

	return result
}

func (p *Pipeline) runTable(src Source, format tabular.Format, class models.Classification) ([]models.Record, *Diagnostic) {
	table, err := tabular.Read(format, src.Content)
	if err != nil {
		p.log.Warn().Err(err).Str("source", src.Filename).Msg("Unreadable table")
		return nil, &Diagnostic{Source: src.Filename, Kind: DiagUnreadable, Message: fmt.Sprintf("could not read %s file: %v", format, err)}
	}

	records, err := p.normalizer.FromTable(table, class, src.Filename)
	if err != nil {
		if errors.Is(err, invoice.ErrMissingColumn) {
			return nil, &Diagnostic{
				Source:  src.Filename,
				Kind:    DiagMissingColumn,
				Message: fmt.Sprintf("required column %q not found", invoice.RequiredColumn(class)),
			}
		}
		return nil, &Diagnostic{Source: src.Filename, Kind: DiagUnreadable, Message: err.Error()}
	}
	return records, nil
}

func (p *Pipeline) countPages(ctx context.Context, src Source) (int, *Diagnostic) {
	if len(src.Content) > ocr.MaxFileSizeBytes {
		return 0, &Diagnostic{
			Source:  src.Filename,
			Kind:    DiagExtractionFailed,
			Message: fmt.Sprintf("document is %d bytes, the limit is %d", len(src.Content), ocr.MaxFileSizeBytes),
		}
	}
	if p.paginator == nil {
		return 0, &Diagnostic{Source: src.Filename, Kind: DiagExtractionFailed, Message: "PDF support is not configured"}
	}

	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	count, err := p.paginator.PageCount(callCtx, src.Content)
	if err != nil {
		p.log.Warn().Err(err).Str("source", src.Filename).Msg("Could not paginate document")
		return 0, &Diagnostic{Source: src.Filename, Kind: DiagUnreadable, Message: fmt.Sprintf("could not read PDF: %v", err)}
	}
	return count, nil
}

// extractPages runs every job on the worker pool. results[i] belongs to jobs[i].
func (p *Pipeline) extractPages(ctx context.Context, jobs []pageJob) []pageResult {
	results := make([]pageResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	numWorkers := p.opts.Workers
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	queue := make(chan pageJob, len(jobs))
	var processedCount int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for job := range queue {
				callCtx, cancel := p.callContext(ctx)
				text, err := p.extractor.ExtractText(callCtx, job.Page)
				cancel()

				results[job.Index] = pageResult{Text: text, Err: err}

				mu.Lock()
				processedCount++
				current := processedCount
				mu.Unlock()

				p.log.Debug().
					Int("worker", workerID).
					Int("page", job.Page.Number).
					Int("progress", current).
					Int("total", len(jobs)).
					Err(err).
					Msg("Page extracted")
			}
		}(w)
	}

	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	wg.Wait()

	return results
}

// collectPages turns the page texts of one source into records. The first
// failed page, in page order, fails the source.
func (p *Pipeline) collectPages(src Source, class models.Classification, jobs []pageJob, pages []pageResult, indexes []int) ([]models.Record, *Diagnostic) {
	var records []models.Record
	for _, idx := range indexes {
		res := pages[idx]
		page := jobs[idx].Page.Number
		if res.Err != nil {
			p.log.Warn().Err(res.Err).Str("source", src.Filename).Int("page", page).Msg("Text extraction failed")
			msg := fmt.Sprintf("text extraction failed: %v", res.Err)
			if page > 0 {
				msg = fmt.Sprintf("text extraction failed on page %d: %v", page, res.Err)
			}
			return nil, &Diagnostic{Source: src.Filename, Kind: DiagExtractionFailed, Message: msg}
		}
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		records = append(records, p.normalizer.FromText(res.Text, class, src.Filename, page))
	}
	return records, nil
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func describeType(src Source, d Detection) string {
	if d.MediaType != "" {
		return d.MediaType
	}
	if src.Filename != "" {
		return src.Filename
	}
	return "unknown"
}
