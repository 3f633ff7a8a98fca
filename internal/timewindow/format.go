package timewindow

import (
	"time"

	"golang.org/x/text/language"
)

// FallbackText is rendered in place of an end date/time that could not be
// derived.
const FallbackText = "--:--"

type layouts struct {
	date string
	time string
}

var supported = []language.Tag{
	language.English, // first entry is the matcher fallback
	language.Dutch,
	language.German,
	language.French,
	language.Korean,
	language.Japanese,
}

var layoutsByBase = map[string]layouts{
	"en": {date: "Mon Jan 2, 2006", time: "3:04 PM"},
	"nl": {date: "02-01-2006", time: "15:04"},
	"de": {date: "02.01.2006", time: "15:04"},
	"fr": {date: "02/01/2006", time: "15:04"},
	"ko": {date: "2006. 1. 2.", time: "15:04"},
	"ja": {date: "2006/01/02", time: "15:04"},
}

var matcher = language.NewMatcher(supported)

// Formatter renders instants for display in one locale and time zone.
type Formatter struct {
	loc     *time.Location
	tag     language.Tag
	layouts layouts
}

// NewFormatter picks the closest supported locale for locale (a BCP 47 tag
// such as "nl-BE"). A nil loc means UTC.
func NewFormatter(locale string, loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	_, idx := language.MatchStrings(matcher, locale)
	tag := supported[idx]
	base, _ := tag.Base()
	return &Formatter{loc: loc, tag: tag, layouts: layoutsByBase[base.String()]}
}

func (f *Formatter) Location() *time.Location { return f.loc }

// Locale is the matched locale tag.
func (f *Formatter) Locale() string {
	base, _ := f.tag.Base()
	return base.String()
}

func (f *Formatter) Date(t time.Time) string { return t.In(f.loc).Format(f.layouts.date) }

func (f *Formatter) Time(t time.Time) string { return t.In(f.loc).Format(f.layouts.time) }

// Display holds the human-readable strings of a window.
type Display struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	StartDate string    `json:"start_date"`
	StartTime string    `json:"start_time"`
	EndDate   string    `json:"end_date"`
	EndTime   string    `json:"end_time"`
	// Err is set when the duration could not be parsed; End equals Start
	// and the end strings hold FallbackText.
	Err error `json:"-"`
}

// Display computes and formats the window. It never fails: a malformed
// duration degrades to fallback end strings with Err set.
func (f *Formatter) Display(start time.Time, duration string) Display {
	w, err := Compute(start, duration)
	d := Display{
		Start:     w.Start.In(f.loc),
		End:       w.End.In(f.loc),
		StartDate: f.Date(w.Start),
		StartTime: f.Time(w.Start),
	}
	if err != nil {
		d.EndDate = FallbackText
		d.EndTime = FallbackText
		d.Err = err
		return d
	}
	d.EndDate = f.Date(w.End)
	d.EndTime = f.Time(w.End)
	return d
}
