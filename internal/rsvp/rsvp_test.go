package rsvp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"tribecal/internal/backend"
	"tribecal/internal/invitation"
	"tribecal/internal/model"
)

type fakeResponder struct {
	mu      sync.Mutex
	calls   []string
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeResponder) RespondToEvent(_ context.Context, id model.ID, response string) error {
	f.mu.Lock()
	f.calls = append(f.calls, string(id)+":"+response)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return f.err
}

type countingBus struct{ n int }

func (b *countingBus) Bump(context.Context) uint64 {
	b.n++
	return uint64(b.n)
}

var (
	bob   = model.Identity{UserID: "1", DisplayName: "Bob"}
	owner = model.Identity{UserID: "99", DisplayName: "Owner"}
)

func scenarioEvent() model.Event {
	return model.Event{
		ID:       "10",
		Start:    time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC),
		Duration: "01:30:00",
		Owner:    owner,
		To:       []model.Identity{bob},
		Accepted: []model.Identity{},
	}
}

func TestEndToEndAccept(t *testing.T) {
	ev := scenarioEvent()
	before := invitation.Resolve(ev, bob)
	if !before.IsInvited || before.HasAccepted {
		t.Fatalf("before = %+v", before)
	}

	resp := &fakeResponder{}
	bus := &countingBus{}
	h := NewHandler(resp, bus, 0)

	res := h.Respond(context.Background(), ev, bob, Accept)
	if !res.Ok() {
		t.Fatalf("Respond: %v", res.Err)
	}
	if !res.View.HasAccepted || !res.View.Accepts("1") || res.State != Accepted {
		t.Fatalf("after = %+v state=%s", res.View, res.State)
	}
	if len(ev.Accepted) != 0 {
		t.Fatalf("input event was mutated: %+v", ev.Accepted)
	}
	if bus.n != 1 {
		t.Fatalf("bus bumped %d times, want 1", bus.n)
	}
	if !reflect.DeepEqual(resp.calls, []string{"10:accept"}) {
		t.Fatalf("calls = %v", resp.calls)
	}
}

func TestToggleRestoresAcceptedSet(t *testing.T) {
	a := model.Identity{UserID: "42", DisplayName: "A"}
	ev := model.Event{ID: "1", Owner: owner, To: []model.Identity{a}, Accepted: []model.Identity{a}}

	declined := Apply(ev, a, Decline)
	if len(declined.Accepted) != 0 {
		t.Fatalf("after decline Accepted = %v, want []", declined.Accepted)
	}
	accepted := Apply(declined, a, Accept)
	if !reflect.DeepEqual(accepted.Accepted, ev.Accepted) {
		t.Fatalf("after re-accept Accepted = %v, want %v", accepted.Accepted, ev.Accepted)
	}
	if got, want := invitation.Resolve(accepted, a).AcceptedUserIDs, invitation.Resolve(ev, a).AcceptedUserIDs; !reflect.DeepEqual(got, want) {
		t.Fatalf("AcceptedUserIDs = %v, want %v", got, want)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	ev := scenarioEvent()
	once := Apply(ev, bob, Accept)
	twice := Apply(once, bob, Accept)
	if !reflect.DeepEqual(once.Accepted, twice.Accepted) || len(twice.Accepted) != 1 {
		t.Fatalf("double accept = %v", twice.Accepted)
	}
	if d := Apply(Apply(ev, bob, Decline), bob, Decline); len(d.Accepted) != 0 {
		t.Fatalf("double decline = %v", d.Accepted)
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		r    Response
		want State
	}{
		{Pending, Accept, Accepted},
		{Pending, Decline, Declined},
		{Accepted, Decline, Declined},
		{Declined, Accept, Accepted},
		{Accepted, Accept, Accepted},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.r)
		if err != nil || got != tc.want {
			t.Errorf("Transition(%s, %s) = %s, %v; want %s", tc.from, tc.r, got, err, tc.want)
		}
	}
	if _, err := Transition(Pending, "maybe"); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("maybe: err = %v", err)
	}
	if _, err := Transition("lost", Accept); err == nil {
		t.Errorf("unknown state should fail")
	}
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		name     string
		accepted bool
		last     Response
		want     State
	}{
		{"fresh", false, "", Pending},
		{"accepted in data", true, "", Accepted},
		{"declined earlier", false, Decline, Declined},
		{"accepted after decline elsewhere", true, Decline, Accepted},
		{"accept not yet refetched", false, Accept, Pending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StateOf(invitation.ViewState{HasAccepted: tc.accepted}, tc.last)
			if got != tc.want {
				t.Errorf("StateOf = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRespondTracksPreviousState(t *testing.T) {
	h := NewHandler(&fakeResponder{}, nil, 0)
	ev := scenarioEvent()

	res := h.Respond(context.Background(), ev, bob, Decline)
	if !res.Ok() || res.Previous != Pending || res.State != Declined {
		t.Fatalf("decline = %+v", res)
	}
	res = h.Respond(context.Background(), res.Event, bob, Accept)
	if !res.Ok() || res.Previous != Declined || res.State != Accepted {
		t.Fatalf("accept after decline = %+v", res)
	}
	res = h.Respond(context.Background(), res.Event, bob, Decline)
	if !res.Ok() || res.Previous != Accepted || res.State != Declined {
		t.Fatalf("decline after accept = %+v", res)
	}

	// Another viewer starts from scratch.
	other := model.Identity{UserID: "2"}
	if r := h.Respond(context.Background(), ev, other, Accept); r.Previous != Pending {
		t.Fatalf("other viewer Previous = %s, want pending", r.Previous)
	}
}

func TestFailedRespondKeepsLastResponse(t *testing.T) {
	resp := &fakeResponder{}
	h := NewHandler(resp, nil, 0)
	ev := scenarioEvent()

	if res := h.Respond(context.Background(), ev, bob, Decline); !res.Ok() {
		t.Fatalf("decline: %v", res.Err)
	}
	resp.mu.Lock()
	resp.err = errors.New("boom")
	resp.mu.Unlock()
	if res := h.Respond(context.Background(), ev, bob, Accept); res.Ok() {
		t.Fatalf("accept should fail")
	}
	resp.mu.Lock()
	resp.err = nil
	resp.mu.Unlock()
	if res := h.Respond(context.Background(), ev, bob, Accept); res.Previous != Declined {
		t.Fatalf("Previous = %s, want declined", res.Previous)
	}
}

func TestFailureLeavesStateUntouched(t *testing.T) {
	ev := scenarioEvent()
	bus := &countingBus{}
	h := NewHandler(&fakeResponder{err: &backend.StatusError{Method: "POST", Path: "/events/response/10/", StatusCode: 500}}, bus, 0)

	res := h.Respond(context.Background(), ev, bob, Accept)
	if res.Ok() || !errors.Is(res.Err, ErrEventResponseFailed) || res.Silent() {
		t.Fatalf("res = %+v", res)
	}
	var se *backend.StatusError
	if !errors.As(res.Err, &se) {
		t.Fatalf("cause lost: %v", res.Err)
	}
	if res.Event.ID != "" || bus.n != 0 || len(ev.Accepted) != 0 {
		t.Fatalf("failure must not produce state: %+v bumps=%d", res.Event, bus.n)
	}
	if h.InFlight(ev.ID, bob) {
		t.Fatalf("in-flight marker leaked")
	}
}

func TestAuthExpiredIsSilent(t *testing.T) {
	h := NewHandler(&fakeResponder{err: fmt.Errorf("%w: POST /x", backend.ErrAuthExpired)}, nil, 0)
	res := h.Respond(context.Background(), scenarioEvent(), bob, Decline)
	if res.Ok() || !res.Silent() || errors.Is(res.Err, ErrEventResponseFailed) {
		t.Fatalf("res = %+v", res)
	}
}

func TestConcurrentRespondIsRejected(t *testing.T) {
	resp := &fakeResponder{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := NewHandler(resp, nil, 0)
	ev := scenarioEvent()

	done := make(chan Result, 1)
	go func() { done <- h.Respond(context.Background(), ev, bob, Accept) }()
	<-resp.entered

	if !h.InFlight(ev.ID, bob) {
		t.Fatalf("first request should be in flight")
	}
	second := h.Respond(context.Background(), ev, bob, Decline)
	if !errors.Is(second.Err, ErrInFlight) {
		t.Fatalf("second.Err = %v, want ErrInFlight", second.Err)
	}

	// A different viewer on the same event is independent.
	resp.mu.Lock()
	block := resp.block
	resp.block, resp.entered = nil, nil
	resp.mu.Unlock()
	other := model.Identity{UserID: "2"}
	if r := h.Respond(context.Background(), ev, other, Accept); !r.Ok() {
		t.Fatalf("other viewer: %v", r.Err)
	}

	close(block)
	if first := <-done; !first.Ok() || first.State != Accepted {
		t.Fatalf("first = %+v", first)
	}
	if h.InFlight(ev.ID, bob) {
		t.Fatalf("in-flight marker leaked")
	}
}
