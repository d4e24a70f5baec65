package invoice

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned when a tabular source lacks the column its
	// classification requires (importe_sin_iva for income, importe for expense).
	ErrMissingColumn = errors.New("missing required column")

	// ErrUnknownClassification is returned when a record is neither income nor expense.
	ErrUnknownClassification = errors.New("unknown classification")
)

// NormalizeError wraps errors with the source being normalized.
type NormalizeError struct {
	// Op is the operation that failed (e.g., "FromTable").
	Op string

	// Source is the filename of the upload.
	Source string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *NormalizeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("invoice: %s %s: %s: %v", e.Op, e.Source, e.Details, e.Err)
	}
	return fmt.Sprintf("invoice: %s %s: %v", e.Op, e.Source, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *NormalizeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewNormalizeError creates a new NormalizeError.
func NewNormalizeError(op, source string, err error, details string) *NormalizeError {
	return &NormalizeError{
		Op:      op,
		Source:  source,
		Err:     err,
		Details: details,
	}
}
