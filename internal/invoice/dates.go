package invoice

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// dayMonthYear matches 5/1/24, 05-01-2024, 05.01.2024 and similar.
var dayMonthYear = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})\b`)

var isoLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// findDate returns the first valid day/month/year date in s.
func findDate(s string) (time.Time, bool) {
	for _, m := range dayMonthYear.FindAllStringSubmatch(s, -1) {
		if date, ok := buildDate(m[1], m[2], m[3]); ok {
			return date, true
		}
	}
	return time.Time{}, false
}

// parseDate accepts a spreadsheet cell: day/month/year first, then ISO layouts.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if date, ok := findDate(s); ok {
		return date, true
	}
	for _, layout := range isoLayouts {
		if date, err := time.Parse(layout, s); err == nil {
			return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func buildDate(dayStr, monthStr, yearStr string) (time.Time, bool) {
	day, _ := strconv.Atoi(dayStr)
	month, _ := strconv.Atoi(monthStr)
	year, _ := strconv.Atoi(yearStr)
	if len(yearStr) == 2 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}
	return date, true
}
