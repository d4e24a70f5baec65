package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"modelo130/internal/tax"
)

// WriteCSV writes a header and one row per summary.
func WriteCSV(w io.Writer, summaries []tax.Summary) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range summaries {
		if err := writer.Write(Row(s)); err != nil {
			return fmt.Errorf("write csv row %s: %w", s.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
