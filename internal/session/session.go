package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"modelo130/internal/ingest"
	"modelo130/internal/tax"
	"modelo130/pkg/models"
)

var (
	// ErrNothingToSave is returned when there is no unsaved summary.
	ErrNothingToSave = errors.New("no calculated summary waiting to be saved")

	// ErrNoSummary is returned when nothing has been calculated yet.
	ErrNoSummary = errors.New("no summary has been calculated")

	// ErrInvalidRecord is returned when an edited record is rejected.
	ErrInvalidRecord = errors.New("invalid record")
)

// Draft is the batch of records under review, income first.
type Draft struct {
	Records     []models.Record     `json:"records"`
	Diagnostics []ingest.Diagnostic `json:"diagnostics"`
}

// part is what one upload channel contributed.
type part struct {
	records     []models.Record
	diagnostics []ingest.Diagnostic
}

// Session is the state of one browser session.
type Session struct {
	ID        string
	CreatedAt time.Time

	ledger *Ledger

	mu       sync.Mutex
	income   part
	expense  part
	last     *tax.Summary
	saved    bool
	lastSeen time.Time
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		ledger:    NewLedger(),
		lastSeen:  now,
	}
}

// Ledger returns the session's ledger.
func (s *Session) Ledger() *Ledger {
	return s.ledger
}

// ApplyBatch replaces the part of the draft the batch was uploaded for.
// A unified batch replaces the whole draft.
func (s *Session) ApplyBatch(intent ingest.Intent, result ingest.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := part{
		records:     append([]models.Record(nil), result.Records...),
		diagnostics: append([]ingest.Diagnostic(nil), result.Diagnostics...),
	}

	switch intent {
	case ingest.IntentExpense:
		s.expense = p
	case ingest.IntentIncome:
		s.income = p
	default:
		s.income = p
		s.expense = part{}
	}
}

// Draft returns a copy of the records under review.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := Draft{
		Records:     make([]models.Record, 0, len(s.income.records)+len(s.expense.records)),
		Diagnostics: make([]ingest.Diagnostic, 0, len(s.income.diagnostics)+len(s.expense.diagnostics)),
	}
	draft.Records = append(draft.Records, s.income.records...)
	draft.Records = append(draft.Records, s.expense.records...)
	draft.Diagnostics = append(draft.Diagnostics, s.income.diagnostics...)
	draft.Diagnostics = append(draft.Diagnostics, s.expense.diagnostics...)
	return draft
}

// ReplaceRecords installs an edited copy of the records. The edited copy is
// authoritative from then on. Diagnostics are kept.
func (s *Session) ReplaceRecords(records []models.Record) error {
	var income, expense []models.Record
	for i, r := range records {
		if !r.Classification.Valid() {
			return fmt.Errorf("%w: row %d: classification %q", ErrInvalidRecord, i+1, r.Classification)
		}
		if r.HasNegativeAmount() {
			return fmt.Errorf("%w: row %d: amounts must not be negative", ErrInvalidRecord, i+1)
		}
		if r.Classification == models.Expense {
			expense = append(expense, r)
		} else {
			income = append(income, r)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.income.records = income
	s.expense.records = expense
	return nil
}

// SetSummary records a freshly calculated summary as the unsaved one.
func (s *Session) SetSummary(summary tax.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &summary
	s.saved = false
}

// LastSummary returns the most recently calculated summary.
func (s *Session) LastSummary() (tax.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return tax.Summary{}, ErrNoSummary
	}
	return copySummary(*s.last), nil
}

// SaveSummary appends the last calculated summary to the ledger. Each
// calculation can be saved once.
func (s *Session) SaveSummary() (tax.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.saved {
		return tax.Summary{}, ErrNothingToSave
	}
	s.ledger.AppendSummary(*s.last)
	s.saved = true
	return copySummary(*s.last), nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}
