package recurring

import (
	"time"

	"github.com/ledgerd/ledgerd/pkg/entry"
)

// IsDue reports whether a recurring parent has at least one occurrence due on
// or before today. It is a cheap batch filter for the sweep; the generator
// re-derives the same condition per iteration, so the two can never disagree
// about whether anything should be generated.
func IsDue(parent entry.Entry, today time.Time) bool {
	rec := parent.Recurrence
	if rec == nil || !rec.Active || parent.ParentID != nil {
		return false
	}
	if !rec.EndDate.IsZero() && today.After(rec.EndDate) {
		return false
	}
	nextDue := Next(rec.Seed(parent.Date), rec.Frequency)
	return !today.Before(nextDue)
}
