// Package session keeps the per-user state of the interactive form: the
// ledger of saved summaries and inquiries, the draft batch of imported
// records and the last computed summary. Nothing here outlives the process.
package session

import (
	"strings"
	"sync"
	"time"

	"modelo130/internal/tax"
)

// RecentInquiryLimit is how many inquiries the form shows.
const RecentInquiryLimit = 5

// Inquiry is a free-text message submitted from the form.
type Inquiry struct {
	Text  string    `json:"text"`
	Reply string    `json:"reply,omitempty"`
	At    time.Time `json:"at"`
}

// Ledger holds two append-only logs. Entries are never edited or removed.
type Ledger struct {
	mu        sync.RWMutex
	summaries []tax.Summary
	inquiries []Inquiry
	now       func() time.Time
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// AppendSummary stores a copy of s.
func (l *Ledger) AppendSummary(s tax.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, copySummary(s))
}

// Summaries returns every saved summary, oldest first.
func (l *Ledger) Summaries() []tax.Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]tax.Summary, len(l.summaries))
	for i, s := range l.summaries {
		out[i] = copySummary(s)
	}
	return out
}

// AppendInquiry stamps and stores an inquiry. Blank text is ignored and
// reported with false.
func (l *Ledger) AppendInquiry(text, reply string) (Inquiry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Inquiry{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inq := Inquiry{Text: text, Reply: strings.TrimSpace(reply), At: l.now()}
	l.inquiries = append(l.inquiries, inq)
	return inq, true
}

// RecentInquiries returns up to n inquiries, most recent first.
func (l *Ledger) RecentInquiries(n int) []Inquiry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.inquiries) {
		n = len(l.inquiries)
	}
	if n <= 0 {
		return []Inquiry{}
	}

	out := make([]Inquiry, 0, n)
	for i := len(l.inquiries) - 1; i >= len(l.inquiries)-n; i-- {
		out = append(out, l.inquiries[i])
	}
	return out
}

func copySummary(s tax.Summary) tax.Summary {
	if s.Warnings != nil {
		s.Warnings = append([]string(nil), s.Warnings...)
	}
	return s
}
