package entry

import (
	"fmt"
	"time"
)

// Kind discriminates the two entry pipelines. Expense entries carry a category
// reference, income entries carry a source label; the recurring generation
// engine treats both as opaque domain fields.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindExpense, KindIncome:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown entry kind: %q", s)
}

// Frequency is how often a recurring parent produces a child entry.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiWeekly Frequency = "bi-weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyYearly   Frequency = "yearly"
)

// ParseFrequency validates a frequency string. This is the only place invalid
// frequencies are caught; the recurrence rule itself is total over the enum.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly, FrequencyYearly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("unknown recurring frequency: %q", s)
}

// Recurrence is the recurrence configuration carried only by parent entries.
// Children never own one; their schedule state lives on the parent.
type Recurrence struct {
	Frequency Frequency
	// EndDate is the last date a child may be generated for. Zero means the
	// recurrence is open-ended.
	EndDate time.Time
	// Active is false once the recurrence ended or was cancelled. It never
	// flips back on automatically.
	Active bool
	// LastGeneratedAt is the watermark: the date of the most recently
	// generated child. Zero means no child has been generated yet and the
	// parent's own date is the seed.
	LastGeneratedAt time.Time
}

// Seed returns the date the next occurrence is computed from.
func (r Recurrence) Seed(anchor time.Time) time.Time {
	if r.LastGeneratedAt.IsZero() {
		return anchor
	}
	return r.LastGeneratedAt
}

// Entry is a single expense or income row. The same shape serves three roles,
// discriminated in memory: a standalone entry (no Recurrence, no ParentID),
// a recurring parent (Recurrence set) or a generated child (ParentID set).
type Entry struct {
	ID          int64
	UID         string
	UserID      int
	Kind        Kind
	Date        time.Time
	Item        string
	AmountCents int64
	CategoryID  *int64
	Source      string
	Description string

	// Recurrence is non-nil only on recurring parents.
	Recurrence *Recurrence
	// ParentID is non-nil only on generated children.
	ParentID *int64
}

// IsRecurringParent reports whether the entry defines a recurrence schedule.
func (e Entry) IsRecurringParent() bool {
	return e.Recurrence != nil && e.ParentID == nil
}

// IsChild reports whether the entry was generated from a recurring parent.
func (e Entry) IsChild() bool {
	return e.ParentID != nil
}

// ChildFor materializes the child entry for one occurrence date. Domain
// fields are copied verbatim from the parent; recurrence state is cleared.
// The caller assigns the child's UID.
func (e Entry) ChildFor(date time.Time) Entry {
	return Entry{
		UserID:      e.UserID,
		Kind:        e.Kind,
		Date:        date,
		Item:        e.Item,
		AmountCents: e.AmountCents,
		CategoryID:  e.CategoryID,
		Source:      e.Source,
		Description: e.Description,
		ParentID:    &e.ID,
	}
}

// Validate checks the invariants a row must satisfy before it is stored.
func (e Entry) Validate() error {
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return err
	}
	if e.Date.IsZero() {
		return fmt.Errorf("entry date is required")
	}
	if e.Item == "" {
		return fmt.Errorf("entry item is required")
	}
	if e.AmountCents <= 0 {
		return fmt.Errorf("entry amount must be positive")
	}
	if e.Recurrence != nil {
		if e.ParentID != nil {
			return fmt.Errorf("a generated entry cannot be recurring")
		}
		if _, err := ParseFrequency(string(e.Recurrence.Frequency)); err != nil {
			return err
		}
		if !e.Recurrence.EndDate.IsZero() && e.Recurrence.EndDate.Before(e.Date) {
			return fmt.Errorf("recurring end date cannot be before the entry date")
		}
	}
	return nil
}
