package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"tribecal/internal/backend"
	"tribecal/internal/daybucket"
	"tribecal/internal/fetchwindow"
	"tribecal/internal/ics"
	"tribecal/internal/invitation"
	"tribecal/internal/model"
	"tribecal/internal/notification"
	"tribecal/internal/rsvp"
	"tribecal/internal/timewindow"
)

const staleBanner = "Could not load events. Showing the last known calendar."

// eventDTO is an event together with everything a view renders for it.
type eventDTO struct {
	Event          model.Event          `json:"event"`
	Display        timewindow.Display   `json:"display"`
	DurationError  string               `json:"duration_error,omitempty"`
	View           invitation.ViewState `json:"view"`
	Category       model.CategoryInfo   `json:"category"`
	RecurrenceIcon string               `json:"recurrence_icon,omitempty"`
	// ResponsePending is true while an RSVP for this event is being sent.
	ResponsePending bool `json:"response_pending,omitempty"`
}

type eventsResponse struct {
	View            string             `json:"view"`
	Pivot           daybucket.Date     `json:"pivot"`
	Window          fetchwindow.Window `json:"window"`
	Events          []eventDTO         `json:"events"`
	MarkedDates     []daybucket.Date   `json:"marked_dates"`
	Version         uint64             `json:"version"`
	Stale           bool               `json:"stale"`
	Error           string             `json:"error,omitempty"`
	DisplayTimeZone string             `json:"display_timezone"`
	WeekStart       string             `json:"week_start"`
}

type calendarResponse struct {
	Grid  daybucket.MonthGrid `json:"grid"`
	Stale bool                `json:"stale"`
	Error string              `json:"error,omitempty"`
}

type dayResponse struct {
	Date   daybucket.Date `json:"date"`
	Events []eventDTO     `json:"events"`
	Stale  bool           `json:"stale"`
	Error  string         `json:"error,omitempty"`
}

type respondRequest struct {
	EventResponse string `json:"event_response"`
}

type respondResponse struct {
	Previous rsvp.State `json:"previous"`
	State    rsvp.State `json:"state"`
	Event    eventDTO   `json:"event"`
}

type notificationDTO struct {
	notification.Item
	Error string `json:"error,omitempty"`
}

type tribeResponse struct {
	Members []model.Member `json:"members"`
}

// handleEvents returns the window around pivot for one view.
//
// GET /api/events?view=home&pivot=2024-06-15&refresh=1
//   - view:    home (default) or browse
//   - pivot:   YYYY-MM-DD in the display zone, default today
//   - refresh: reload even if the current snapshot already has this pivot
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m, ok := s.manager(q.Get("view"), "home")
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown view")
		return
	}
	loc := s.location()
	pivot, err := s.pivotParam(q.Get("pivot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := m.Snapshot()
	if q.Get("refresh") != "" || !snap.Loaded() || snap.Err != nil || !snap.Pivot.Equal(pivot.In(loc)) {
		var loadErr error
		snap, loadErr = s.load(r, m, pivot.In(loc))
		if !s.acceptLoad(w, loadErr) {
			return
		}
	}

	marked := make([]daybucket.Date, 0)
	for d := range daybucket.MarkedDates(snap.Events, loc) {
		marked = append(marked, d)
	}
	sort.Slice(marked, func(i, j int) bool { return marked[i].Before(marked[j]) })

	writeJSON(w, http.StatusOK, eventsResponse{
		View:            m.View(),
		Pivot:           pivot,
		Window:          snap.Window,
		Events:          s.eventDTOs(snap.Events),
		MarkedDates:     marked,
		Version:         snap.Version,
		Stale:           snap.Stale,
		Error:           bannerOf(snap),
		DisplayTimeZone: loc.String(),
		WeekStart:       s.cfg.WeekStart,
	})
}

// handleCalendar returns the month grid used for day markers.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1 || year > 9999 {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid month")
		return
	}
	m, ok := s.manager(r.URL.Query().Get("view"), "browse")
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown view")
		return
	}

	loc := s.location()
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	snap, err := s.covering(r, m, first, first.AddDate(0, 1, 0))
	if !s.acceptLoad(w, err) {
		return
	}

	writeJSON(w, http.StatusOK, calendarResponse{
		Grid:  daybucket.Month(year, time.Month(month), s.cfg.WeekStart, snap.Events, loc),
		Stale: snap.Stale,
		Error: bannerOf(snap),
	})
}

// handleDay returns the events starting on one calendar day.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := daybucket.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, ok := s.manager(r.URL.Query().Get("view"), "home")
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown view")
		return
	}

	loc := s.location()
	snap, err := s.covering(r, m, date.In(loc), date.AddDays(1).In(loc))
	if !s.acceptLoad(w, err) {
		return
	}

	writeJSON(w, http.StatusOK, dayResponse{
		Date:   date,
		Events: s.eventDTOs(daybucket.EventsForDay(date, snap.Events, loc)),
		Stale:  snap.Stale,
		Error:  bannerOf(snap),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.Backend.GetEvent(r.Context(), model.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.eventDTO(ev, s.resolve(ev)))
}

// handleRespond accepts or declines an invitation for the viewer.
//
// POST /api/events/{id}/response {"event_response": "accept"|"decline"}
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := rsvp.ParseResponse(req.EventResponse)
	if err != nil {
		writeFailure(w, err)
		return
	}

	ctx := r.Context()
	ev, err := s.deps.Backend.GetEvent(ctx, model.ID(chi.URLParam(r, "id")))
	if err != nil {
		writeFailure(w, err)
		return
	}

	res := s.deps.RSVP.Respond(ctx, ev, s.deps.Viewer, resp)
	if !res.Ok() {
		writeFailure(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{
		Previous: res.Previous,
		State:    res.State,
		Event:    s.eventDTO(res.Event, res.View),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Notifications.Build(r.Context(), s.deps.Viewer)
	if err != nil {
		writeFailure(w, err)
		return
	}
	out := make([]notificationDTO, 0, len(items))
	for _, it := range items {
		dto := notificationDTO{Item: it}
		if it.Err != nil {
			dto.Error = "could not load event details"
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTribe(w http.ResponseWriter, r *http.Request) {
	members, err := s.deps.Backend.ListTribe(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tribeResponse{Members: members})
}

// handleFeed serves the loaded window of a view as an iCalendar feed. Stale
// data is served as is; only a view that never loaded fails.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(r.URL.Query().Get("view"), "browse")
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown view")
		return
	}
	snap := m.Snapshot()
	if !snap.Loaded() {
		var err error
		snap, err = s.load(r, m, s.today().In(s.location()))
		if !snap.Loaded() {
			if err != nil {
				writeFailure(w, err)
				return
			}
			// Superseded before anything was stored; an empty calendar
			// would look like a valid feed without events.
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, errResp{Error: "calendar is still loading", Code: "not_loaded"})
			return
		}
	}
	writeCalendar(w, "tribe.ics", ics.Feed(snap.Events, s.icsOptions()))
}

func (s *Server) handleEventICS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.deps.Backend.GetEvent(r.Context(), model.ID(id))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeCalendar(w, fmt.Sprintf("event-%s.ics", id), ics.Event(ev, s.icsOptions()))
}

func writeCalendar(w http.ResponseWriter, filename, body string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) manager(view, def string) (*fetchwindow.Manager, bool) {
	if view == "" {
		view = def
	}
	switch view {
	case "home":
		return s.deps.Home, s.deps.Home != nil
	case "browse":
		return s.deps.Browse, s.deps.Browse != nil
	default:
		return nil, false
	}
}

func (s *Server) location() *time.Location {
	return s.deps.Formatter.Location()
}

func (s *Server) today() daybucket.Date {
	return daybucket.DateOf(s.deps.Now(), s.location())
}

func (s *Server) pivotParam(v string) (daybucket.Date, error) {
	if v == "" {
		return s.today(), nil
	}
	return daybucket.ParseDate(v)
}

// load runs one manager load. A superseded load is answered with whatever
// the newer load stored.
func (s *Server) load(r *http.Request, m *fetchwindow.Manager, pivot time.Time) (fetchwindow.Snapshot, error) {
	snap, err := m.Load(r.Context(), pivot)
	if errors.Is(err, fetchwindow.ErrSuperseded) {
		return m.Snapshot(), nil
	}
	return snap, err
}

// covering returns the current snapshot when it already spans [from, to);
// otherwise it loads the window around from.
func (s *Server) covering(r *http.Request, m *fetchwindow.Manager, from, to time.Time) (fetchwindow.Snapshot, error) {
	snap := m.Snapshot()
	if snap.Loaded() && snap.Err == nil && !from.Before(snap.Window.From) && !to.After(snap.Window.To) {
		return snap, nil
	}
	return s.load(r, m, from)
}

// acceptLoad decides whether a load result can still be rendered. Fetch
// failures are non-fatal: the snapshot keeps the last good events and
// carries a banner. It writes the error response itself otherwise.
func (s *Server) acceptLoad(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, backend.ErrAuthExpired):
		writeFailure(w, err)
		return false
	case errors.Is(err, fetchwindow.ErrFetchEventsFailed):
		return true
	default:
		writeFailure(w, err)
		return false
	}
}

func bannerOf(snap fetchwindow.Snapshot) string {
	if snap.Err == nil || snap.Silent() {
		return ""
	}
	return staleBanner
}

func (s *Server) resolve(ev model.Event) invitation.ViewState {
	return invitation.ResolveWithLimit(ev, s.deps.Viewer, s.cfg.AvatarLimit)
}

func (s *Server) eventDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, s.eventDTO(ev, s.resolve(ev)))
	}
	return out
}

func (s *Server) eventDTO(ev model.Event, view invitation.ViewState) eventDTO {
	disp := s.deps.Formatter.Display(ev.Start, ev.Duration)
	dto := eventDTO{
		Event:    ev,
		Display:  disp,
		View:     view,
		Category: ev.Category.Info(),
	}
	if disp.Err != nil {
		dto.DurationError = disp.Err.Error()
	}
	if ev.RecurrenceType.Recurring() {
		dto.RecurrenceIcon = ev.RecurrenceType.Icon()
	}
	if s.deps.RSVP != nil {
		dto.ResponsePending = s.deps.RSVP.InFlight(ev.ID, s.deps.Viewer)
	}
	return dto
}

func (s *Server) icsOptions() ics.Options {
	return ics.Options{Domain: s.cfg.ICSDomain, Now: s.deps.Now}
}
