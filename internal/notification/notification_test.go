package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tribecal/internal/backend"
	"tribecal/internal/model"
	"tribecal/internal/timewindow"
)

type fakeSource struct {
	mu     sync.Mutex
	list   []model.Notification
	events map[model.ID]model.Event
	errs   map[model.ID]error
	gets   map[model.ID]int
}

func (f *fakeSource) ListNotifications(context.Context) ([]model.Notification, error) {
	return f.list, nil
}

func (f *fakeSource) GetEvent(_ context.Context, id model.ID) (model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gets == nil {
		f.gets = map[model.ID]int{}
	}
	f.gets[id]++
	if err := f.errs[id]; err != nil {
		return model.Event{}, err
	}
	return f.events[id], nil
}

var viewer = model.Identity{UserID: "1", DisplayName: "Me"}

func newBuilder(src Source) *Builder {
	b := NewBuilder(src, timewindow.NewFormatter("en", time.UTC), 2)
	b.now = func() time.Time { return time.Date(2024, time.June, 20, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestBuildResolvesEvents(t *testing.T) {
	weekly := model.Event{
		ID:             "10",
		Start:          time.Date(2024, time.June, 3, 18, 0, 0, 0, time.UTC),
		Duration:       "01:00:00",
		Subject:        "Choir",
		RecurrenceType: model.RecurrenceWeekly,
		Owner:          model.Identity{UserID: "9"},
		To:             []model.Identity{viewer},
		Accepted:       []model.Identity{viewer},
	}
	src := &fakeSource{
		list: []model.Notification{
			{ID: "a", EventID: "10"},
			{ID: "b", EventID: "10"},
			{ID: "c", Kind: "tribe"},
		},
		events: map[model.ID]model.Event{"10": weekly},
	}

	items, err := newBuilder(src).Build(context.Background(), viewer)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items", len(items))
	}
	if src.gets["10"] != 1 {
		t.Errorf("event 10 fetched %d times, want 1", src.gets["10"])
	}

	first := items[0]
	if first.Event == nil || first.View == nil || first.Display == nil {
		t.Fatalf("item not filled: %+v", first)
	}
	if !first.View.IsInvited || !first.View.HasAccepted {
		t.Errorf("view = %+v", first.View)
	}
	if first.Display.EndTime != "7:00 PM" {
		t.Errorf("end time = %q", first.Display.EndTime)
	}
	want := time.Date(2024, time.June, 24, 18, 0, 0, 0, time.UTC)
	if first.NextOccurrence == nil || !first.NextOccurrence.Equal(want) {
		t.Errorf("next occurrence = %v, want %v", first.NextOccurrence, want)
	}
	if items[2].Event != nil || items[2].Err != nil {
		t.Errorf("notification without event should stay bare: %+v", items[2])
	}
}

func TestBuildDegradesFailedDetail(t *testing.T) {
	src := &fakeSource{
		list: []model.Notification{{ID: "a", EventID: "1"}, {ID: "b", EventID: "2"}},
		events: map[model.ID]model.Event{
			"2": {ID: "2", Start: time.Date(2024, time.June, 21, 9, 0, 0, 0, time.UTC), Duration: "00:30:00"},
		},
		errs: map[model.ID]error{"1": &backend.StatusError{StatusCode: 404}},
	}
	items, err := newBuilder(src).Build(context.Background(), viewer)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var se *backend.StatusError
	if !errors.As(items[0].Err, &se) || items[0].Event != nil {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Err != nil || items[1].Event == nil || items[1].NextOccurrence != nil {
		t.Errorf("second item = %+v", items[1])
	}
}

func TestBuildFailsOnExpiredSession(t *testing.T) {
	src := &fakeSource{
		list: []model.Notification{{ID: "a", EventID: "1"}},
		errs: map[model.ID]error{"1": fmt.Errorf("%w: GET /events/1/", backend.ErrAuthExpired)},
	}
	if _, err := newBuilder(src).Build(context.Background(), viewer); !errors.Is(err, backend.ErrAuthExpired) {
		t.Fatalf("err = %v", err)
	}
}
