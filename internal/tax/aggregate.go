package tax

import (
	"github.com/shopspring/decimal"

	"modelo130/pkg/models"
)

// Totals are the three sums the calculation starts from.
type Totals struct {
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	Withholding decimal.Decimal `json:"withholding"`
}

// Manual holds totals typed in by hand. Nil means not supplied.
type Manual struct {
	Income      *decimal.Decimal `json:"income,omitempty"`
	Expense     *decimal.Decimal `json:"expense,omitempty"`
	Withholding *decimal.Decimal `json:"withholding,omitempty"`
}

// Aggregate sums base amounts per classification. Withholding is taken from
// income records only, since it is tax the taxpayer's clients kept back.
func Aggregate(records []models.Record) Totals {
	totals := Totals{
		Income:      decimal.Zero,
		Expense:     decimal.Zero,
		Withholding: decimal.Zero,
	}
	for _, r := range records {
		switch r.Classification {
		case models.Income:
			totals.Income = totals.Income.Add(r.BaseAmount)
			totals.Withholding = totals.Withholding.Add(r.WithheldAmount)
		case models.Expense:
			totals.Expense = totals.Expense.Add(r.BaseAmount)
		}
	}
	return totals
}

// Resolve applies manual entries. A manual value replaces a computed total
// only when that total is exactly zero; a computed zero cannot be told apart
// from "nothing uploaded", so a supplied manual value always wins then, even
// when it is zero itself.
func Resolve(computed Totals, manual Manual) Totals {
	return Totals{
		Income:      pick(computed.Income, manual.Income),
		Expense:     pick(computed.Expense, manual.Expense),
		Withholding: pick(computed.Withholding, manual.Withholding),
	}
}

func pick(computed decimal.Decimal, manual *decimal.Decimal) decimal.Decimal {
	if manual != nil && computed.IsZero() {
		return *manual
	}
	return computed
}
