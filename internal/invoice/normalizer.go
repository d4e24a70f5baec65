// Package invoice turns imported rows and recognized text into invoice records.
//
// Tabular sources must carry the amount column their classification needs:
//   - income: importe_sin_iva (amount before VAT)
//   - expense: importe (gross amount, taken as the base)
//
// Optional columns fecha, nif, iva and retencion are read when present.
// Header names are compared after folding case, accents and spacing.
//
// Recognized text goes through a line-oriented keyword heuristic and never
// fails; fields that match nothing stay empty or zero.
package invoice

import (
	"fmt"

	"github.com/rs/zerolog"

	"modelo130/internal/amount"
	"modelo130/internal/logger"
	"modelo130/internal/tabular"
	"modelo130/pkg/models"
)

// Column names looked up in tabular sources.
const (
	ColumnBaseAmount  = "importe_sin_iva"
	ColumnGrossAmount = "importe"
	ColumnDate        = "fecha"
	ColumnCounterpart = "nif"
	ColumnVAT         = "iva"
	ColumnWithholding = "retencion"
)

// Normalizer builds records from tables and text.
type Normalizer struct {
	keywords Keywords
	log      zerolog.Logger
}

// NewNormalizer returns a normalizer using the Spanish keyword set.
func NewNormalizer() *Normalizer {
	return NewNormalizerWithKeywords(SpanishKeywords())
}

// NewNormalizerWithKeywords returns a normalizer using custom keywords for the
// free-text path.
func NewNormalizerWithKeywords(keywords Keywords) *Normalizer {
	return &Normalizer{
		keywords: keywords.compile(),
		log:      logger.WithComponent("normalizer"),
	}
}

// RequiredColumn returns the amount column a tabular source of the given
// classification must have.
func RequiredColumn(class models.Classification) string {
	if class == models.Expense {
		return ColumnGrossAmount
	}
	return ColumnBaseAmount
}

// FromTable converts every data row of table into a record. A missing
// required column fails the whole source with ErrMissingColumn and no records.
// Unparsable cells become zero or absent.
func (n *Normalizer) FromTable(table *tabular.Table, class models.Classification, source string) ([]models.Record, error) {
	const op = "FromTable"

	if !class.Valid() {
		return nil, NewNormalizeError(op, source, ErrUnknownClassification, string(class))
	}

	required := RequiredColumn(class)
	baseIdx := table.Column(required)
	if baseIdx < 0 {
		return nil, NewNormalizeError(op, source, ErrMissingColumn, fmt.Sprintf("column %q not found", required))
	}

	dateIdx := table.Column(ColumnDate)
	nifIdx := table.Column(ColumnCounterpart)
	vatIdx := table.Column(ColumnVAT)
	withheldIdx := table.Column(ColumnWithholding)

	records := make([]models.Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		record := models.Record{
			CounterpartID:  tabular.Cell(row, nifIdx),
			BaseAmount:     amount.OrZero(tabular.Cell(row, baseIdx)),
			VATAmount:      amount.OrZero(tabular.Cell(row, vatIdx)),
			WithheldAmount: amount.OrZero(tabular.Cell(row, withheldIdx)),
			SourceLabel:    source,
			Classification: class,
		}
		if date, ok := parseDate(tabular.Cell(row, dateIdx)); ok {
			record.Date = &date
		}
		records = append(records, record)
	}

	n.log.Debug().
		Str("source", source).
		Str("classification", string(class)).
		Int("records", len(records)).
		Msg("Normalized table")

	return records, nil
}
