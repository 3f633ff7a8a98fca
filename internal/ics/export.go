// Package ics exports loaded events as iCalendar data so that members can
// subscribe to the tribe calendar from other clients.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"tribecal/internal/invitation"
	"tribecal/internal/model"
	"tribecal/internal/timewindow"
)

const productID = "-//tribecal//tribe calendar//EN"

// Options controls UIDs and calendar metadata.
type Options struct {
	// Domain is the right-hand side of every UID ("<event id>@<domain>").
	Domain string
	// Name is the calendar display name (X-WR-CALNAME).
	Name string
	Now  func() time.Time
}

func (o Options) normalized() Options {
	if o.Domain == "" {
		o.Domain = "tribecal.local"
	}
	if o.Name == "" {
		o.Name = "Tribe"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Feed renders materialized occurrences, one VEVENT each. Occurrences are
// already expanded, so no RRULE is emitted.
func Feed(events []model.Event, opts Options) string {
	opts = opts.normalized()
	cal := newCalendar(opts)
	stamp := opts.Now().UTC()
	for _, ev := range events {
		addEvent(cal, ev, opts, stamp)
	}
	return cal.Serialize(ical.WithNewLineWindows)
}

// Event renders a single event including its recurrence rule, for "add to
// my calendar" downloads.
func Event(ev model.Event, opts Options) string {
	opts = opts.normalized()
	cal := newCalendar(opts)
	vev := addEvent(cal, ev, opts, opts.Now().UTC())
	if rule := ev.RecurrenceType.RRule(); rule != "" {
		vev.AddRrule(rule)
	}
	return cal.Serialize(ical.WithNewLineWindows)
}

// UID is the iCalendar UID of an occurrence. Occurrences of one series share
// an event id only if the backend reuses it, so the start is part of the UID.
func UID(ev model.Event, domain string) string {
	return string(ev.ID) + "-" + ev.Start.UTC().Format("20060102T150405Z") + "@" + domain
}

func newCalendar(opts Options) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(opts.Name)
	return cal
}

func addEvent(cal *ical.Calendar, ev model.Event, opts Options, stamp time.Time) *ical.VEvent {
	w, _ := timewindow.Compute(ev.Start, ev.Duration)

	vev := cal.AddEvent(UID(ev, opts.Domain))
	vev.SetDtStampTime(stamp)
	vev.SetStartAt(w.Start.UTC())
	vev.SetEndAt(w.End.UTC())
	vev.SetSummary(ev.Subject)
	vev.SetProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Category.Normalize())))

	if ev.Owner.UserID != "" {
		// SetOrganizer and AddAttendee would force a mailto: scheme.
		vev.SetProperty(ical.ComponentPropertyOrganizer, memberURI(ev.Owner, opts.Domain), ical.WithCN(ev.Owner.DisplayName))
	}

	state := invitation.Resolve(ev, ev.Owner)
	for _, m := range ev.To {
		status := ical.ParticipationStatusNeedsAction
		if state.Accepts(m.UserID) {
			status = ical.ParticipationStatusAccepted
		}
		vev.AddProperty(ical.ComponentPropertyAttendee, memberURI(m, opts.Domain),
			ical.CalendarUserTypeIndividual,
			status,
			ical.WithCN(m.DisplayName),
		)
	}
	return vev
}

func memberURI(m model.Identity, domain string) string {
	return "urn:" + domain + ":member:" + string(m.UserID)
}
