package recurring

import (
	"fmt"
	"time"

	"github.com/ledgerd/ledgerd/pkg/entry"
)

// Next returns the occurrence date that follows from for the given frequency.
// It is pure calendar arithmetic: monthly and yearly steps preserve the
// day-of-month and clamp to the target month's last day when the source day
// does not exist there (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28 off leap years).
//
// Frequencies are validated when a recurring entry is saved; an unknown value
// reaching this function is a programming error, not a runtime condition.
func Next(from time.Time, frequency entry.Frequency) time.Time {
	switch frequency {
	case entry.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case entry.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case entry.FrequencyBiWeekly:
		return from.AddDate(0, 0, 14)
	case entry.FrequencyMonthly:
		return addMonths(from, 1)
	case entry.FrequencyYearly:
		return addYears(from, 1)
	}
	panic(fmt.Sprintf("recurring: unknown frequency %q", frequency))
}

// addMonths advances by whole calendar months with day-of-month clamping.
// time.AddDate is deliberately avoided here: it normalizes Jan 31 + 1 month
// into Mar 2/3 instead of clamping to the end of February.
func addMonths(d time.Time, months int) time.Time {
	firstOfTarget := time.Date(d.Year(), d.Month()+time.Month(months), 1, 0, 0, 0, 0, d.Location())
	day := d.Day()
	if last := lastDayOfMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, d.Location())
}

func addYears(d time.Time, years int) time.Time {
	firstOfTarget := time.Date(d.Year()+years, d.Month(), 1, 0, 0, 0, 0, d.Location())
	day := d.Day()
	if last := lastDayOfMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, d.Location())
}

func lastDayOfMonth(d time.Time) int {
	return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, d.Location()).Day()
}
