package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tribecal/internal/backend"
	"tribecal/internal/config"
	"tribecal/internal/fetchwindow"
	appLog "tribecal/internal/log"
	"tribecal/internal/metrics"
	"tribecal/internal/model"
	"tribecal/internal/notification"
	"tribecal/internal/rsvp"
	"tribecal/internal/timewindow"
)

// Backend is the part of the tribe backend the handlers call directly.
type Backend interface {
	GetEvent(ctx context.Context, id model.ID) (model.Event, error)
	ListTribe(ctx context.Context) ([]model.Member, error)
}

// Deps are the collaborators built by main.
type Deps struct {
	Backend       Backend
	Home          *fetchwindow.Manager
	Browse        *fetchwindow.Manager
	RSVP          *rsvp.Handler
	Notifications *notification.Builder
	Formatter     *timewindow.Formatter
	Viewer        model.Identity
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the HTTP API in front of the tribe backend.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Formatter == nil {
		deps.Formatter = timewindow.NewFormatter(cfg.Locale, ResolveLocation(cfg.Timezone))
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}

		r.Handle("/metrics", metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/events", s.handleEvents)
			r.Get("/events/{id}", s.handleEvent)
			r.Post("/events/{id}/response", s.handleRespond)
			r.Get("/events/{id}/event.ics", s.handleEventICS)
			r.Get("/calendar/{year}/{month}", s.handleCalendar)
			r.Get("/days/{date}", s.handleDay)
			r.Get("/notifications", s.handleNotifications)
			r.Get("/tribe", s.handleTribe)
			r.Get("/feed.ics", s.handleFeed)
		})
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tribecal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// ResolveLocation loads an IANA zone, falling back to the host zone.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps core and backend errors onto statuses. An expired
// session answers 401 without a message so the auth layer can take over.
func writeFailure(w http.ResponseWriter, err error) {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		writeJSON(w, http.StatusUnauthorized, errResp{Code: "auth_expired"})
	case errors.Is(err, rsvp.ErrInvalidResponse):
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error(), Code: "invalid_response"})
	case errors.Is(err, rsvp.ErrInFlight):
		writeJSON(w, http.StatusConflict, errResp{Error: "a response for this event is already being sent", Code: "in_flight"})
	case errors.Is(err, rsvp.ErrEventResponseFailed):
		writeJSON(w, http.StatusBadGateway, errResp{Error: "could not save your response, please try again", Code: "event_response_failed"})
	case errors.As(err, &se) && se.StatusCode == http.StatusNotFound:
		writeJSON(w, http.StatusNotFound, errResp{Error: "not found", Code: "not_found"})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
	default:
		writeJSON(w, http.StatusBadGateway, errResp{Error: "backend request failed", Code: "backend_failed"})
	}
}
