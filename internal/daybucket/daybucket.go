// Package daybucket maps fetched events onto calendar days.
//
// All comparisons are calendar-date comparisons in one display location:
// both the selected date and each event start are truncated to a Date value
// before comparing. Truncation always works on copies, so the same event
// can be checked against any number of days.
package daybucket

import (
	"fmt"
	"time"

	"tribecal/internal/model"
)

// Date is a calendar date without time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar date in loc. A nil loc means UTC.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// HasEventOn reports whether any event starts on date in loc.
func HasEventOn(date Date, events []model.Event, loc *time.Location) bool {
	for i := range events {
		if DateOf(events[i].Start, loc) == date {
			return true
		}
	}
	return false
}

// EventsForDay returns the events starting on date in loc, in input order.
// The result is never nil and never shares Accepted/To slices with events.
func EventsForDay(date Date, events []model.Event, loc *time.Location) []model.Event {
	out := make([]model.Event, 0)
	for i := range events {
		if DateOf(events[i].Start, loc) == date {
			out = append(out, events[i].Clone())
		}
	}
	return out
}

// MarkedDates returns the set of dates that have at least one event.
func MarkedDates(events []model.Event, loc *time.Location) map[Date]bool {
	marks := make(map[Date]bool, len(events))
	for i := range events {
		marks[DateOf(events[i].Start, loc)] = true
	}
	return marks
}
