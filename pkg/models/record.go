package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification tells whether an invoice counts toward income or expense.
type Classification string

const (
	Income  Classification = "income"
	Expense Classification = "expense"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	return c == Income || c == Expense
}

// Record is one normalized invoice line, whatever source it came from.
type Record struct {
	// Date of issue, nil when the source did not carry a parsable one
	Date *time.Time `json:"date,omitempty"`

	// CounterpartID is the NIF/CIF/NIE of the other party, empty when absent
	CounterpartID string `json:"counterpart_id,omitempty"`

	// Amounts in euros, never negative
	BaseAmount     decimal.Decimal `json:"base_amount"`
	VATAmount      decimal.Decimal `json:"vat_amount"`
	WithheldAmount decimal.Decimal `json:"withheld_amount"`

	// SourceLabel is the filename the record was read from
	SourceLabel    string         `json:"source_label"`
	Classification Classification `json:"classification"`

	// Page is the 1-based page of a paginated document, 0 otherwise
	Page int `json:"page,omitempty"`
}

// HasNegativeAmount reports whether any amount field is below zero.
func (r Record) HasNegativeAmount() bool {
	return r.BaseAmount.IsNegative() || r.VATAmount.IsNegative() || r.WithheldAmount.IsNegative()
}
