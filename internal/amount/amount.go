// Package amount turns locale-formatted money tokens into decimals.
//
// Spanish invoices write 1.234,56 while spreadsheets exported elsewhere write
// 1,234.56 or plain 1234.56. When both separators appear the last one is the
// decimal separator. A single separator kind appearing more than once is a
// thousands separator; appearing once it is the decimal separator.
//
// Negative tokens are not amounts: a leading minus yields no value.
package amount

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// candidatePattern matches numbers with exactly two decimal places, optionally
// grouped in thousands. It is a heuristic for free text: any unrelated figure
// with two decimals (a phone extension, a percentage like 21,00) is picked up
// too, so callers may overcount.
var candidatePattern = regexp.MustCompile(`\d+(?:[.,]\d{3})*[.,]\d{2}`)

var currencyReplacer = strings.NewReplacer(
	"€", "",
	"$", "",
	"£", "",
	"EUR", "",
	"eur", "",
	"USD", "",
	" ", "",
	"\u00a0", "",
	"\t", "",
)

// Parse converts a single token into a non-negative decimal.
// The second return value is false when the token holds no amount.
func Parse(token string) (decimal.Decimal, bool) {
	cleaned := currencyReplacer.Replace(strings.TrimSpace(token))
	if cleaned == "" {
		return decimal.Zero, false
	}

	for _, r := range cleaned {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return decimal.Zero, false
		}
	}

	cleaned = canonicalize(cleaned)
	if cleaned == "" || cleaned == "." {
		return decimal.Zero, false
	}

	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// canonicalize rewrites a digits-and-separators string to use a single
// decimal point and no grouping.
func canonicalize(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimalSep, groupSep := ",", "."
		if lastDot > lastComma {
			decimalSep, groupSep = ".", ","
		}
		s = strings.ReplaceAll(s, groupSep, "")
		if strings.Count(s, decimalSep) > 1 {
			return ""
		}
		return strings.Replace(s, decimalSep, ".", 1)
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// ExtractAll returns every two-decimal amount found in text, in order of
// appearance. Candidates that fail to parse or that are glued to a longer
// run of digits are dropped silently.
func ExtractAll(text string) []decimal.Decimal {
	var amounts []decimal.Decimal
	for _, loc := range candidatePattern.FindAllStringIndex(text, -1) {
		if loc[1] < len(text) && isDigit(text[loc[1]]) {
			continue
		}
		if value, ok := Parse(text[loc[0]:loc[1]]); ok {
			amounts = append(amounts, value)
		}
	}
	return amounts
}

// First returns the first amount ExtractAll would find.
func First(text string) (decimal.Decimal, bool) {
	amounts := ExtractAll(text)
	if len(amounts) == 0 {
		return decimal.Zero, false
	}
	return amounts[0], true
}

// OrZero parses token and falls back to zero when it holds no amount.
func OrZero(token string) decimal.Decimal {
	value, _ := Parse(token)
	return value
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
