package shared

import (
	"fmt"
	"time"
)

// Period is a half-open statement interval [Start, End).
type Period struct {
	Year  int
	Month time.Month
	Start time.Time
	End   time.Time
}

// MonthPeriod resolves (year, month) to the UTC interval covering that
// calendar month: first instant of the month up to, excluding, the
// first instant of the next month.
func MonthPeriod(year int, month int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, E(KindInvalidEntry, "month %d out of range", month)
	}
	if year < 1970 || year > 9999 {
		return Period{}, E(KindInvalidEntry, "year %d out of range", year)
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Year:  year,
		Month: time.Month(month),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}, nil
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Label renders the period as YYYY-MM.
func (p Period) Label() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// DaysBetween returns whole calendar days from a to b, ignoring the
// time-of-day component. Used by aging so that an order created late
// in the evening still ages a full day at midnight.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}
