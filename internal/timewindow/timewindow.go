// Package timewindow derives the displayable start/end window of an event
// from its start instant and the backend's "HH:MM:SS" duration string.
package timewindow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedDuration matches every *MalformedDurationError.
var ErrMalformedDuration = errors.New("malformed duration")

// MalformedDurationError reports a duration string that is not HH:MM:SS.
type MalformedDurationError struct {
	Value  string
	Reason string
}

func (e *MalformedDurationError) Error() string {
	return fmt.Sprintf("malformed duration %q: %s", e.Value, e.Reason)
}

func (e *MalformedDurationError) Is(target error) bool {
	return target == ErrMalformedDuration
}

// Duration is a parsed event duration. Seconds are kept for completeness but
// do not contribute to the end instant.
type Duration struct {
	Hours   int
	Minutes int
	Seconds int
}

// Span is the part of d used for end-time arithmetic (hours and minutes).
func (d Duration) Span() time.Duration {
	return time.Duration(d.Hours)*time.Hour + time.Duration(d.Minutes)*time.Minute
}

// ParseDuration parses "HH:MM:SS". A leading day count ("2 03:00:00") is
// folded into the hours.
func ParseDuration(s string) (Duration, error) {
	raw := s
	s = strings.TrimSpace(s)

	days := 0
	if i := strings.IndexByte(s, ' '); i >= 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil || !digits(s[:i]) {
			return Duration{}, &MalformedDurationError{Value: raw, Reason: "invalid day count"}
		}
		days = n
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Duration{}, &MalformedDurationError{Value: raw, Reason: fmt.Sprintf("expected 3 segments, got %d", len(parts))}
	}

	var fields [3]int
	for i, p := range parts {
		// Seconds may carry a fraction ("00:30:00.000000").
		if i == 2 {
			if dot := strings.IndexByte(p, '.'); dot >= 0 {
				p = p[:dot]
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || !digits(p) {
			return Duration{}, &MalformedDurationError{Value: raw, Reason: fmt.Sprintf("segment %d is not a non-negative integer", i+1)}
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return Duration{}, &MalformedDurationError{Value: raw, Reason: "minutes and seconds must be below 60"}
	}

	return Duration{Hours: days*24 + fields[0], Minutes: fields[1], Seconds: fields[2]}, nil
}

// digits reports whether s is a non-empty run of ASCII digits. Atoi alone
// accepts a sign, so "-00" would pass.
func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Window is an event's start/end pair.
type Window struct {
	Start time.Time
	End   time.Time
}

// Compute returns the window starting at start and lasting duration. It is
// pure: the same inputs always produce the same window.
func Compute(start time.Time, duration string) (Window, error) {
	d, err := ParseDuration(duration)
	if err != nil {
		return Window{Start: start, End: start}, err
	}
	return Window{Start: start, End: start.Add(d.Span())}, nil
}
