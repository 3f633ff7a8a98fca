package fetchwindow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tribecal/internal/backend"
	"tribecal/internal/model"
	"tribecal/internal/refresh"
)

type call struct {
	from, to string
	ctx      context.Context
}

type fakeSource struct {
	mu      sync.Mutex
	calls   []call
	events  []model.Event
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeSource) ListEvents(ctx context.Context, from, to string) ([]model.Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{from: from, to: to, ctx: ctx})
	gate, started := f.gate, f.started
	events, err := f.events, f.err
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return events, err
}

func (f *fakeSource) set(events []model.Event, err error) {
	f.mu.Lock()
	f.events, f.err = events, err
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var pivot = time.Date(2024, time.June, 15, 0, 0, 0, 0, time.UTC)

func TestLoadRequestsWireWindow(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "1"}}}
	m := NewManager(src, Options{View: "home", MonthsBefore: 3, MonthsAfter: 3})

	snap, err := m.Load(context.Background(), pivot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Events) != 1 || !snap.Loaded() || snap.Stale {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := src.calls[0]; got.from != "2024-03-15T00:00:00" || got.to != "2024-09-15T00:00:00" {
		t.Fatalf("requested %s .. %s", got.from, got.to)
	}
}

func TestFailureRetainsStaleEvents(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "1"}, {ID: "2"}}}
	m := NewManager(src, Options{View: "home", MonthsBefore: 3, MonthsAfter: 3})
	if _, err := m.Load(context.Background(), pivot); err != nil {
		t.Fatalf("first Load: %v", err)
	}

	src.set(nil, &backend.StatusError{StatusCode: 503})
	snap, err := m.Load(context.Background(), pivot.AddDate(0, 1, 0))
	if !errors.Is(err, ErrFetchEventsFailed) || !errors.Is(snap.Err, ErrFetchEventsFailed) {
		t.Fatalf("err = %v / %v", err, snap.Err)
	}
	if !snap.Stale || len(snap.Events) != 2 || snap.Silent() {
		t.Fatalf("stale snapshot = %+v", snap)
	}
	if !m.Snapshot().Stale {
		t.Fatalf("Snapshot() lost stale flag")
	}

	src.set([]model.Event{{ID: "3"}}, nil)
	snap, err = m.Load(context.Background(), pivot.AddDate(0, 1, 0))
	if err != nil || snap.Stale || snap.Err != nil || len(snap.Events) != 1 {
		t.Fatalf("recovered snapshot = %+v err=%v", snap, err)
	}
}

func TestAuthExpiredIsSilent(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: GET /events/", backend.ErrAuthExpired)}
	m := NewManager(src, Options{View: "home"})
	snap, err := m.Load(context.Background(), pivot)
	if err == nil || !snap.Silent() {
		t.Fatalf("snap = %+v err = %v", snap, err)
	}
}

func TestSameWindowLoadsShareOneRequest(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "1"}}, gate: make(chan struct{}), started: make(chan struct{}, 4)}
	m := NewManager(src, Options{View: "home", MonthsBefore: 3, MonthsAfter: 3})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Load(context.Background(), pivot)
			errs <- err
		}()
	}
	<-src.started
	// Give the second caller time to join the shared flight.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
	}
	if n := src.callCount(); n != 1 {
		t.Fatalf("backend called %d times, want 1", n)
	}
}

func TestNewPivotCancelsSupersededLoad(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "old"}}, gate: make(chan struct{}), started: make(chan struct{}, 4)}
	m := NewManager(src, Options{View: "browse", MonthsBefore: 12, MonthsAfter: 12})

	first := make(chan error, 1)
	go func() {
		_, err := m.Load(context.Background(), pivot)
		first <- err
	}()
	<-src.started

	src.mu.Lock()
	src.gate = nil
	src.events = []model.Event{{ID: "new"}}
	src.mu.Unlock()

	next := pivot.AddDate(0, 1, 0)
	snap, err := m.Load(context.Background(), next)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if !errors.Is(<-first, ErrSuperseded) {
		t.Fatalf("first load should be superseded")
	}
	src.mu.Lock()
	firstCtx := src.calls[0].ctx
	src.mu.Unlock()
	if firstCtx.Err() == nil {
		t.Fatalf("superseded request was not cancelled")
	}
	if len(snap.Events) != 1 || snap.Events[0].ID != "new" || !snap.Pivot.Equal(next) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := m.Snapshot(); got.Events[0].ID != "new" {
		t.Fatalf("stored snapshot overwritten by superseded load: %+v", got)
	}
}

func TestInvalidationReloadsOncePerBump(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "1"}}}
	home := NewManager(src, Options{View: "home", MonthsBefore: 3, MonthsAfter: 3})
	browse := NewManager(src, Options{View: "browse", MonthsBefore: 12, MonthsAfter: 12})
	bus := refresh.NewBus()
	bus.Subscribe(home.OnInvalidate)
	bus.Subscribe(browse.OnInvalidate)

	// Before any load there is nothing to refresh.
	bus.Bump(context.Background())
	if n := src.callCount(); n != 0 {
		t.Fatalf("calls before first load = %d", n)
	}

	if _, err := home.Load(context.Background(), pivot); err != nil {
		t.Fatalf("home Load: %v", err)
	}
	if _, err := browse.Load(context.Background(), pivot); err != nil {
		t.Fatalf("browse Load: %v", err)
	}

	src.set([]model.Event{{ID: "1"}, {ID: "2"}}, nil)
	v := bus.Bump(context.Background())
	if n := src.callCount(); n != 4 {
		t.Fatalf("calls after bump = %d, want 4", n)
	}
	for _, m := range []*Manager{home, browse} {
		snap := m.Snapshot()
		if snap.Version != v || len(snap.Events) != 2 {
			t.Fatalf("%s snapshot = %+v", m.View(), snap)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "1"}}}
	m := NewManager(src, Options{View: "home"})
	snap, _ := m.Load(context.Background(), pivot)
	snap.Events[0].ID = "changed"
	if m.Snapshot().Events[0].ID != "1" {
		t.Fatalf("snapshot aliases manager state")
	}
}

func TestAbandonedLoadStillCommits(t *testing.T) {
	src := &fakeSource{events: []model.Event{{ID: "late"}}, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(src, Options{View: "home", MonthsBefore: 3, MonthsAfter: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Load(ctx, pivot)
		done <- err
	}()
	<-src.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Load err = %v, want context.Canceled", err)
	}
	if m.Snapshot().Loaded() {
		t.Fatalf("snapshot loaded before the fetch finished")
	}

	close(src.gate)
	deadline := time.Now().Add(2 * time.Second)
	for !m.Snapshot().Loaded() {
		if time.Now().After(deadline) {
			t.Fatalf("abandoned fetch never reached the snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := m.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].ID != "late" || !snap.Pivot.Equal(pivot) {
		t.Fatalf("snapshot = %+v", snap)
	}
	if n := src.callCount(); n != 1 {
		t.Fatalf("backend called %d times, want 1", n)
	}
}
