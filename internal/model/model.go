package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ID is an opaque backend identifier. The backend serializes ids either as
// JSON numbers or as strings; both decode to the same ID.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Identity is a tribe member as embedded in events and notifications.
type Identity struct {
	UserID      ID     `json:"user_id"`
	DisplayName string `json:"display_name"`
	Image       string `json:"image,omitempty"`
}

// Same reports whether both identities refer to the same member.
func (i Identity) Same(o Identity) bool {
	return i.UserID != "" && i.UserID == o.UserID
}

// Event is one materialized occurrence as returned by the backend.
// Recurring events arrive already expanded; RecurrenceType is informational.
type Event struct {
	ID             ID             `json:"id"`
	Start          time.Time      `json:"start"`
	Duration       string         `json:"duration"`
	Subject        string         `json:"subject"`
	Category       Category       `json:"category"`
	RecurrenceType RecurrenceType `json:"recurrence_type"`
	Owner          Identity       `json:"user"`
	To             []Identity     `json:"to"`
	Accepted       []Identity     `json:"accepted"`
}

// Clone returns a deep copy; slices in the copy never alias the original.
func (e Event) Clone() Event {
	out := e
	out.To = cloneIdentities(e.To)
	out.Accepted = cloneIdentities(e.Accepted)
	return out
}

func cloneIdentities(in []Identity) []Identity {
	if in == nil {
		return nil
	}
	out := make([]Identity, len(in))
	copy(out, in)
	return out
}

// UnmarshalJSON decodes the backend wire shape, normalizing the start instant
// and the category.
func (e *Event) UnmarshalJSON(b []byte) error {
	type alias Event
	var raw struct {
		alias
		Start string `json:"start"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event(raw.alias)
	if raw.Start != "" {
		t, err := ParseInstant(raw.Start)
		if err != nil {
			return err
		}
		e.Start = t
	}
	e.Category = e.Category.Normalize()
	e.RecurrenceType = e.RecurrenceType.Normalize()
	return nil
}

var instantLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
}

// ErrInvalidInstant is returned by ParseInstant for unrecognized values.
var ErrInvalidInstant = errors.New("model: invalid instant")

// ParseInstant parses a backend timestamp. Values carrying a zone designator
// keep it; values without one are read as UTC so that the same wire value
// always yields the same instant regardless of the host zone.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInstant, s)
}

// Member is a tribe roster entry from GET /tribe/.
type Member struct {
	Identity
	Email string `json:"email,omitempty"`
}

// Notification is an entry from GET /notifications/. EventID points to the
// event whose detail the notification describes.
type Notification struct {
	ID        ID        `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	EventID   ID        `json:"event"`
	From      Identity  `json:"from"`
	CreatedAt time.Time `json:"created"`
	Seen      bool      `json:"seen"`
}
