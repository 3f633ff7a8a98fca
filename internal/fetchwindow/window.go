// Package fetchwindow computes the date range requested from the backend and
// keeps the last loaded event collection for one calendar view.
package fetchwindow

import "time"

// WireLayout is the backend's timestamp format: ISO-8601 in UTC with the
// ".sssZ" suffix removed.
const WireLayout = "2006-01-02T15:04:05"

// Window is the [From, To] range of a fetch.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Compute returns the window spanning monthsBefore months before pivot to
// monthsAfter months after it. Month arithmetic clamps the day of month, so
// January 31st plus one month is the last day of February.
func Compute(pivot time.Time, monthsBefore, monthsAfter int) Window {
	return Window{
		From: AddMonths(pivot, -monthsBefore),
		To:   AddMonths(pivot, monthsAfter),
	}
}

// AddMonths adds n calendar months to t, keeping the time of day and
// location and clamping the day to the length of the target month.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := first.Date()
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FormatWire serializes t for the from_date/to_date query parameters.
func FormatWire(t time.Time) string {
	return t.UTC().Format(WireLayout)
}
