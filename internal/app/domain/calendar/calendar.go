// Package calendar holds the date conventions shared by the café services.
// Dates are stored as "YYYY-MM-DD" strings in the café's local time zone.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// Format renders t as a storage date in t's own location.
func Format(t time.Time) string { return t.Format(DateLayout) }

// Parse reads a storage date in loc. Timestamps are accepted and truncated
// to their date.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(s) >= len(DateLayout) {
		if t, err := time.ParseInLocation(DateLayout, s[:len(DateLayout)], loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Midnight returns the start of t's day in t's location.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Month identifies a calendar month. Month0 is zero-based (January = 0).
type Month struct {
	Year   int
	Month0 int
}

// NewMonth validates a (year, zero-based month) pair.
func NewMonth(year, month0 int) (Month, error) {
	if month0 < 0 || month0 > 11 {
		return Month{}, fmt.Errorf("month must be between 0 and 11")
	}
	if year < 1 {
		return Month{}, fmt.Errorf("year must be positive")
	}
	return Month{Year: year, Month0: month0}, nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month0: int(t.Month()) - 1}
}

// First returns the first day of the month at midnight in loc.
func (m Month) First(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(m.Year, time.Month(m.Month0+1), 1, 0, 0, 0, 0, loc)
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	return time.Date(m.Year, time.Month(m.Month0+2), 0, 0, 0, 0, 0, time.UTC).Day()
}

// Range returns the inclusive first and last storage dates of the month.
func (m Month) Range() (string, string) {
	first := time.Date(m.Year, time.Month(m.Month0+1), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(m.Year, time.Month(m.Month0+1), m.Days(), 0, 0, 0, 0, time.UTC)
	return Format(first), Format(last)
}

// Dates lists every storage date of the month in ascending order.
func (m Month) Dates() []string {
	out := make([]string, m.Days())
	for i := range out {
		out[i] = Format(time.Date(m.Year, time.Month(m.Month0+1), i+1, 0, 0, 0, 0, time.UTC))
	}
	return out
}

// Key renders the month as "YYYY-MM".
func (m Month) Key() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month0+1)
}

// DaysBetween returns the whole calendar days from a to b, ignoring the time of day.
func DaysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}
