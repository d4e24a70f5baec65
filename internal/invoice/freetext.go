package invoice

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"modelo130/internal/amount"
	"modelo130/pkg/models"
)

// Keywords drive the free-text heuristic. Each list is matched as whole words
// against a lowercased, accent-free copy of every line.
type Keywords struct {
	Date        []string
	Counterpart []string
	Base        []string
	VAT         []string
	Withholding []string

	date, counterpart, base, vat, withholding *regexp.Regexp
}

// SpanishKeywords is the default keyword set.
func SpanishKeywords() Keywords {
	return Keywords{
		Date:        []string{"fecha"},
		Counterpart: []string{"nif", "cif", "nie"},
		Base:        []string{"base imponible", "base"},
		VAT:         []string{"iva"},
		Withholding: []string{"retención", "retencion", "irpf"},
	}
}

func (k Keywords) compile() Keywords {
	k.date = keywordPattern(k.Date)
	k.counterpart = keywordPattern(k.Counterpart)
	k.base = keywordPattern(k.Base)
	k.vat = keywordPattern(k.VAT)
	k.withholding = keywordPattern(k.Withholding)
	return k
}

func keywordPattern(words []string) *regexp.Regexp {
	var alternatives []string
	for _, w := range words {
		if w = foldText(w); w != "" {
			alternatives = append(alternatives, regexp.QuoteMeta(w))
		}
	}
	if len(alternatives) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alternatives, "|") + `)\b`)
}

// FromText applies the keyword heuristic to recognized text. Later lines
// overwrite fields set by earlier ones.
func (n *Normalizer) FromText(text string, class models.Classification, source string, page int) models.Record {
	record := models.Record{
		SourceLabel:    source,
		Classification: class,
		Page:           page,
	}

	for _, line := range strings.Split(text, "\n") {
		folded := foldText(line)
		if folded == "" {
			continue
		}

		if matchKeyword(n.keywords.date, folded) >= 0 {
			if date, ok := findDate(line); ok {
				record.Date = &date
			}
		}
		if matchKeyword(n.keywords.counterpart, folded) >= 0 {
			if id := counterpartToken(line); id != "" {
				record.CounterpartID = id
			}
		}
		if v, ok := amountAfter(n.keywords.base, folded); ok {
			record.BaseAmount = v
		}
		if v, ok := amountAfter(n.keywords.vat, folded); ok {
			record.VATAmount = v
		}
		if v, ok := amountAfter(n.keywords.withholding, folded); ok {
			record.WithheldAmount = v
		}
	}

	return record
}

// matchKeyword returns the end offset of the first keyword hit, or -1.
func matchKeyword(re *regexp.Regexp, folded string) int {
	if re == nil {
		return -1
	}
	loc := re.FindStringIndex(folded)
	if loc == nil {
		return -1
	}
	return loc[1]
}

// amountAfter picks the first amount following the keyword, falling back to
// the first amount anywhere on the line.
func amountAfter(re *regexp.Regexp, folded string) (decimal.Decimal, bool) {
	end := matchKeyword(re, folded)
	if end < 0 {
		return decimal.Zero, false
	}
	if v, ok := amount.First(folded[end:]); ok {
		return v, true
	}
	return amount.First(folded)
}

// counterpartToken returns the first token of at least nine characters that
// contains a digit. Tokens are split on whitespace and colons so "NIF:B1234..."
// still yields the identifier.
func counterpartToken(line string) string {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':'
	})
	for _, f := range fields {
		f = strings.Trim(f, ".,;()[]")
		if len([]rune(f)) < 9 {
			continue
		}
		if strings.IndexFunc(f, unicode.IsDigit) >= 0 {
			return strings.ToUpper(f)
		}
	}
	return ""
}

// foldText lowercases and strips accents.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(func(r rune) bool {
		return unicode.Is(unicode.Mn, r)
	}), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
