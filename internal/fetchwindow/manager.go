package fetchwindow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tribecal/internal/backend"
	appLog "tribecal/internal/log"
	"tribecal/internal/metrics"
	"tribecal/internal/model"
)

var (
	// ErrFetchEventsFailed wraps a failed load; previous events are kept.
	ErrFetchEventsFailed = errors.New("fetchwindow: fetch events failed")
	// ErrSuperseded is returned to callers whose load was overtaken by a
	// load for another pivot or data version.
	ErrSuperseded = errors.New("fetchwindow: load superseded")
)

// Source lists events for serialized window bounds.
type Source interface {
	ListEvents(ctx context.Context, from, to string) ([]model.Event, error)
}

// Options configures one call site.
type Options struct {
	// View names the call site in logs and metrics ("home", "browse").
	View         string
	MonthsBefore int
	MonthsAfter  int
	// Timeout bounds each backend fetch. Zero means 30s.
	Timeout time.Duration
	Now     func() time.Time
}

// Snapshot is the state of a manager after its latest completed load.
type Snapshot struct {
	View      string        `json:"view"`
	Pivot     time.Time     `json:"pivot"`
	Window    Window        `json:"window"`
	Events    []model.Event `json:"events"`
	Version   uint64        `json:"version"`
	FetchedAt time.Time     `json:"fetched_at"`
	// Err is the latest load failure. Events then still hold the last good
	// collection and Stale is true.
	Err   error `json:"-"`
	Stale bool  `json:"stale"`
}

// Silent reports failures the auth layer handles.
func (s Snapshot) Silent() bool { return errors.Is(s.Err, backend.ErrAuthExpired) }

// Loaded reports whether any load has succeeded.
func (s Snapshot) Loaded() bool { return !s.FetchedAt.IsZero() }

// Manager loads windows around a pivot. It is safe for concurrent use.
type Manager struct {
	src   Source
	opts  Options
	group singleflight.Group

	mu           sync.Mutex
	version      uint64
	pivot        time.Time
	hasPivot     bool
	latestKey    string
	flightSeq    uint64
	flightBase   string
	flightKey    string
	flightCtx    context.Context
	flightCancel context.CancelFunc
	snap         Snapshot
}

func NewManager(src Source, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MonthsBefore < 0 {
		opts.MonthsBefore = 0
	}
	if opts.MonthsAfter < 0 {
		opts.MonthsAfter = 0
	}
	return &Manager{src: src, opts: opts, snap: Snapshot{View: opts.View, Events: []model.Event{}}}
}

func (m *Manager) View() string { return m.opts.View }

// Window returns the window Load would request for pivot.
func (m *Manager) Window(pivot time.Time) Window {
	return Compute(pivot, m.opts.MonthsBefore, m.opts.MonthsAfter)
}

// Snapshot returns the current state without fetching.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copySnapshot()
}

// Pivot returns the pivot of the latest Load, if any.
func (m *Manager) Pivot() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pivot, m.hasPivot
}

// Load fetches the window around pivot. Concurrent loads of the same window
// and data version share one request; a load for anything else cancels the
// request it supersedes. On failure the previous events are kept and both
// the returned snapshot and error carry ErrFetchEventsFailed. If ctx ends
// first, Load returns the current snapshot with ctx.Err() and the fetch
// still completes in the background.
func (m *Manager) Load(ctx context.Context, pivot time.Time) (Snapshot, error) {
	w := m.Window(pivot)
	from, to := FormatWire(w.From), FormatWire(w.To)

	m.mu.Lock()
	version := m.version
	base := from + "|" + to + "@" + strconv.FormatUint(version, 10)
	if m.flightBase != base || m.flightCancel == nil {
		if m.flightCancel != nil {
			m.flightCancel()
		}
		// A fresh sequence keeps a cancelled flight from being rejoined.
		m.flightSeq++
		fctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
		m.flightBase, m.flightCtx, m.flightCancel = base, fctx, cancel
		m.flightKey = base + "#" + strconv.FormatUint(m.flightSeq, 10)
	}
	key, fctx := m.flightKey, m.flightCtx
	m.latestKey = key
	m.pivot, m.hasPivot = pivot, true
	m.mu.Unlock()

	ch := m.group.DoChan(key, func() (any, error) {
		defer m.endFlight(key)
		events, err := m.src.ListEvents(fctx, from, to)
		return m.commit(key, w, version, events, err)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		// The flight keeps running and still commits its result.
		return m.Snapshot(), ctx.Err()
	case res = <-ch:
	}

	snap, _ := res.Val.(Snapshot)
	snap.Events = append(make([]model.Event, 0, len(snap.Events)), snap.Events...)
	if res.Err == nil && res.Shared {
		appLog.Debug("fetch window shared", "view", m.opts.View, "from", from, "to", to)
	}
	return snap, res.Err
}

// commit stores the outcome of the flight identified by key, unless a later
// Load has superseded it. It runs inside the flight, so a result is kept
// even when every caller has stopped waiting.
func (m *Manager) commit(key string, w Window, version uint64, events []model.Event, fetchErr error) (Snapshot, error) {
	from, to := FormatWire(w.From), FormatWire(w.To)

	m.mu.Lock()
	defer m.mu.Unlock()

	if key != m.latestKey {
		appLog.Debug("fetch window superseded", "view", m.opts.View, "from", from, "to", to)
		return m.copySnapshot(), ErrSuperseded
	}

	if fetchErr != nil {
		err := fmt.Errorf("%w: %w", ErrFetchEventsFailed, fetchErr)
		if errors.Is(fetchErr, backend.ErrAuthExpired) {
			appLog.Debug("fetch window: session expired", "view", m.opts.View)
			metrics.ObserveFetch(m.opts.View, "auth_expired")
		} else {
			appLog.Error("fetch window failed; keeping previous events", fetchErr,
				"view", m.opts.View, "from", from, "to", to, "kept", len(m.snap.Events))
			metrics.ObserveFetch(m.opts.View, "failed")
		}
		m.snap.Err = err
		m.snap.Stale = true
		return m.copySnapshot(), err
	}

	if events == nil {
		events = []model.Event{}
	}
	// latestKey matching means m.pivot belongs to the newest caller of this window.
	m.snap = Snapshot{
		View:      m.opts.View,
		Pivot:     m.pivot,
		Window:    w,
		Events:    events,
		Version:   version,
		FetchedAt: m.opts.Now(),
	}
	metrics.ObserveFetch(m.opts.View, "ok")
	appLog.Info("fetch window loaded", "view", m.opts.View, "from", from, "to", to, "events", len(events))
	return m.copySnapshot(), nil
}

// Reload repeats the latest Load. It is a no-op before the first Load.
func (m *Manager) Reload(ctx context.Context) (Snapshot, error) {
	pivot, ok := m.Pivot()
	if !ok {
		return m.Snapshot(), nil
	}
	return m.Load(ctx, pivot)
}

// OnInvalidate is a refresh.Listener: it records the new data version and
// reloads the current pivot once.
func (m *Manager) OnInvalidate(ctx context.Context, version uint64) {
	m.mu.Lock()
	if version > m.version {
		m.version = version
	}
	m.mu.Unlock()

	if _, err := m.Reload(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		appLog.Debug("reload after invalidation failed", "view", m.opts.View, "version", version, "err", err)
	}
}

func (m *Manager) endFlight(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flightKey == key {
		m.flightCancel()
		m.flightBase, m.flightKey, m.flightCtx, m.flightCancel = "", "", nil, nil
	}
}

// copySnapshot must be called with m.mu held.
func (m *Manager) copySnapshot() Snapshot {
	s := m.snap
	s.Events = append([]model.Event(nil), m.snap.Events...)
	if s.Events == nil {
		s.Events = []model.Event{}
	}
	return s
}
