package model

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RecurrenceType tells how the backend generated an occurrence. Occurrences
// are materialized server-side; the type only drives icons, the "next
// occurrence" hint and iCalendar export.
type RecurrenceType string

const (
	RecurrenceNone      RecurrenceType = "none"
	RecurrenceDaily     RecurrenceType = "daily"
	RecurrenceWeekly    RecurrenceType = "weekly"
	RecurrenceTwoWeekly RecurrenceType = "two-weekly"
	RecurrenceMonthly   RecurrenceType = "monthly"
	RecurrenceYearly    RecurrenceType = "yearly"
)

func (r RecurrenceType) Normalize() RecurrenceType {
	switch n := RecurrenceType(strings.ToLower(strings.TrimSpace(string(r)))); n {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceTwoWeekly, RecurrenceMonthly, RecurrenceYearly:
		return n
	case "two_weekly", "biweekly":
		return RecurrenceTwoWeekly
	default:
		return RecurrenceNone
	}
}

func (r RecurrenceType) Recurring() bool {
	return r.Normalize() != RecurrenceNone
}

func (r RecurrenceType) Icon() string {
	if !r.Recurring() {
		return ""
	}
	return "icons/recurrence/" + string(r.Normalize()) + ".svg"
}

// Option returns the RFC 5545 rule options for r, or false for RecurrenceNone.
func (r RecurrenceType) Option() (rrule.ROption, bool) {
	switch r.Normalize() {
	case RecurrenceDaily:
		return rrule.ROption{Freq: rrule.DAILY, Interval: 1}, true
	case RecurrenceWeekly:
		return rrule.ROption{Freq: rrule.WEEKLY, Interval: 1}, true
	case RecurrenceTwoWeekly:
		return rrule.ROption{Freq: rrule.WEEKLY, Interval: 2}, true
	case RecurrenceMonthly:
		return rrule.ROption{Freq: rrule.MONTHLY, Interval: 1}, true
	case RecurrenceYearly:
		return rrule.ROption{Freq: rrule.YEARLY, Interval: 1}, true
	default:
		return rrule.ROption{}, false
	}
}

// RRule renders the RRULE value (without DTSTART), e.g. "FREQ=WEEKLY;INTERVAL=2".
func (r RecurrenceType) RRule() string {
	opt, ok := r.Option()
	if !ok {
		return ""
	}
	return opt.String()
}

// Rule builds a rule anchored at dtstart. It returns nil for RecurrenceNone.
func (r RecurrenceType) Rule(dtstart time.Time) (*rrule.RRule, error) {
	opt, ok := r.Option()
	if !ok {
		return nil, nil
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(opt)
}

// NextAfter returns the first instant of the series anchored at start that
// falls strictly after after.
func (r RecurrenceType) NextAfter(start, after time.Time) (time.Time, bool) {
	if !after.Before(start) {
		rule, err := r.Rule(start)
		if err != nil || rule == nil {
			return time.Time{}, false
		}
		next := rule.After(after, false)
		return next, !next.IsZero()
	}
	return start, true
}
