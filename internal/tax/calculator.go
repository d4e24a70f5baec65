// Package tax computes the quarterly installment payment of the personal
// income tax (Modelo 130) for taxpayers under direct estimation.
//
//	net         = income - expense
//	installment = max(0, net * rate)
//	result      = installment - withholding - prior payments
//
// A result of zero or more is owed; a negative result is a credit that can be
// offset in later quarters. Amounts are never rounded during computation.
package tax

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultRate is the installment rate for direct estimation.
var DefaultRate = decimal.RequireFromString("0.20")

var (
	// ErrNegativeAmount is returned when an input total is below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidRate is returned for rates outside [0, 1].
	ErrInvalidRate = errors.New("rate must be between 0 and 1")
)

// Outcome tells whether the result is paid or carried forward.
type Outcome string

const (
	Owed   Outcome = "owed"
	Credit Outcome = "credit"
)

// Label is the wording used on the form and in exports.
func (o Outcome) Label() string {
	if o == Credit {
		return "A compensar"
	}
	return "A ingresar"
}

// Summary is the result of one calculation. It is built once and never
// modified; the ledger keeps copies.
type Summary struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	Declaration Declaration `json:"declaration"`

	IncomeTotal      decimal.Decimal `json:"income_total"`
	ExpenseTotal     decimal.Decimal `json:"expense_total"`
	NetYield         decimal.Decimal `json:"net_yield"`
	Rate             decimal.Decimal `json:"rate"`
	Installment      decimal.Decimal `json:"installment"`
	WithholdingTotal decimal.Decimal `json:"withholding_total"`
	PriorPayments    decimal.Decimal `json:"prior_payments"`
	Result           decimal.Decimal `json:"result"`

	Outcome Outcome `json:"outcome"`
	// Payable is |Result|, the figure shown next to the outcome
	Payable decimal.Decimal `json:"payable"`

	Warnings []string `json:"warnings,omitempty"`
}

// Notes are shown with every result.
var Notes = []string{
	"Este resultado es orientativo.",
	"El cálculo parte de ingresos y gastos acumulados hasta el trimestre actual.",
	"Los pagos previos y retenciones reducen el importe a ingresar.",
	"El resultado negativo puede compensarse en trimestres siguientes.",
}

// WarningExpensesExceedIncome is attached when the net yield is negative.
const WarningExpensesExceedIncome = "Los gastos superan a los ingresos: el pago fraccionado es cero."

// Calculator applies a fixed rate.
type Calculator struct {
	Rate decimal.Decimal
	now  func() time.Time
}

// NewCalculator returns a calculator for rate.
func NewCalculator(rate decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return &Calculator{Rate: rate, now: time.Now}, nil
}

// Calculate builds a summary. Negative totals or prior payments are rejected.
func (c *Calculator) Calculate(decl Declaration, totals Totals, prior decimal.Decimal) (Summary, error) {
	inputs := []struct {
		name  string
		value decimal.Decimal
	}{
		{"income", totals.Income},
		{"expense", totals.Expense},
		{"withholding", totals.Withholding},
		{"prior_payments", prior},
	}
	for _, in := range inputs {
		if in.value.IsNegative() {
			return Summary{}, fmt.Errorf("%s: %w", in.name, ErrNegativeAmount)
		}
	}

	net := totals.Income.Sub(totals.Expense)
	installment := decimal.Max(decimal.Zero, net.Mul(c.Rate))
	result := installment.Sub(totals.Withholding).Sub(prior)

	summary := Summary{
		ID:               uuid.NewString(),
		CreatedAt:        c.now(),
		Declaration:      decl,
		IncomeTotal:      totals.Income,
		ExpenseTotal:     totals.Expense,
		NetYield:         net,
		Rate:             c.Rate,
		Installment:      installment,
		WithholdingTotal: totals.Withholding,
		PriorPayments:    prior,
		Result:           result,
		Outcome:          Owed,
		Payable:          result.Abs(),
	}
	if result.IsNegative() {
		summary.Outcome = Credit
	}
	if net.IsNegative() {
		summary.Warnings = append(summary.Warnings, WarningExpensesExceedIncome)
	}

	return summary, nil
}

// Money formats an amount with two decimals for display.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
