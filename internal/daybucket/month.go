package daybucket

import (
	"time"

	"tribecal/internal/model"
)

// Cell is one day in a month grid.
type Cell struct {
	Date      Date `json:"date"`
	InMonth   bool `json:"in_month"`
	HasEvents bool `json:"has_events"`
	Count     int  `json:"count"`
}

// MonthGrid is a calendar month laid out as full weeks.
type MonthGrid struct {
	Year      int        `json:"year"`
	Month     time.Month `json:"month"`
	WeekStart string     `json:"week_start"`
	Weeks     [][7]Cell  `json:"weeks"`
}

// Month lays out year/month as weeks beginning on weekStart ("monday" or
// "sunday"; anything else is treated as monday) and marks days with events.
func Month(year int, month time.Month, weekStart string, events []model.Event, loc *time.Location) MonthGrid {
	first := DateOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), time.UTC)

	startDay := time.Monday
	if weekStart == "sunday" {
		startDay = time.Sunday
	} else {
		weekStart = "monday"
	}

	counts := make(map[Date]int, len(events))
	for i := range events {
		counts[DateOf(events[i].Start, loc)]++
	}

	lead := (int(first.Weekday()) - int(startDay) + 7) % 7
	cursor := first.AddDays(-lead)

	grid := MonthGrid{Year: first.Year, Month: first.Month, WeekStart: weekStart}
	for {
		var week [7]Cell
		for i := range week {
			n := counts[cursor]
			week[i] = Cell{
				Date:      cursor,
				InMonth:   cursor.Month == first.Month && cursor.Year == first.Year,
				HasEvents: n > 0,
				Count:     n,
			}
			cursor = cursor.AddDays(1)
		}
		grid.Weeks = append(grid.Weeks, week)
		if cursor.Month != first.Month || cursor.Year != first.Year {
			break
		}
	}
	return grid
}
