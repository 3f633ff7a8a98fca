// Package rsvp performs accept/decline transitions for one viewer.
//
// Respond never mutates its inputs. It returns a tagged Result: on success
// Result.Event is the optimistic copy the caller should display until the
// next refetch replaces it; on failure only Result.Err is set and the
// caller keeps what it had.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tribecal/internal/backend"
	"tribecal/internal/invitation"
	appLog "tribecal/internal/log"
	"tribecal/internal/metrics"
	"tribecal/internal/model"
)

type Response string

const (
	Accept  Response = "accept"
	Decline Response = "decline"
)

func ParseResponse(s string) (Response, error) {
	switch r := Response(strings.ToLower(strings.TrimSpace(s))); r {
	case Accept, Decline:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResponse, s)
	}
}

type State string

const (
	Pending  State = "pending"
	Accepted State = "accepted"
	Declined State = "declined"
)

var (
	ErrInvalidResponse = errors.New("rsvp: invalid response")
	// ErrEventResponseFailed wraps backend failures; the request may be retried.
	ErrEventResponseFailed = errors.New("rsvp: event response failed")
	// ErrInFlight rejects a second request for the same event and viewer.
	ErrInFlight = errors.New("rsvp: response already in flight")
)

// Transition returns the state reached from from by r. Accepted and
// Declined toggle freely; repeating a response keeps the state.
func Transition(from State, r Response) (State, error) {
	switch from {
	case Pending, Accepted, Declined:
	default:
		return from, fmt.Errorf("rsvp: unknown state %q", from)
	}
	switch r {
	case Accept:
		return Accepted, nil
	case Decline:
		return Declined, nil
	default:
		return from, fmt.Errorf("%w: %q", ErrInvalidResponse, r)
	}
}

// Apply returns a copy of ev with viewer added to (Accept) or removed by
// user_id from (Decline) the accepted list. Applying the same response
// twice gives the same result.
func Apply(ev model.Event, viewer model.Identity, r Response) model.Event {
	out := ev.Clone()
	kept := make([]model.Identity, 0, len(out.Accepted)+1)
	for _, m := range out.Accepted {
		if !m.Same(viewer) {
			kept = append(kept, m)
		}
	}
	if r == Accept {
		kept = append(kept, viewer)
	}
	out.Accepted = kept
	return out
}

// Responder sends the RSVP to the backend.
type Responder interface {
	RespondToEvent(ctx context.Context, id model.ID, response string) error
}

// Invalidator is told after every confirmed change so that recurrence
// siblings updated server-side are refetched.
type Invalidator interface {
	Bump(ctx context.Context) uint64
}

// Result is the tagged outcome of Respond.
type Result struct {
	Event model.Event
	// Previous is the state the viewer was in before this response.
	Previous State
	State    State
	View  invitation.ViewState
	Err   error
}

func (r Result) Ok() bool { return r.Err == nil }

// Silent reports failures that the auth layer handles (401).
func (r Result) Silent() bool { return errors.Is(r.Err, backend.ErrAuthExpired) }

// Handler serializes responses per event and viewer.
type Handler struct {
	responder   Responder
	invalidator Invalidator
	avatarLimit int

	mu       sync.Mutex
	inflight map[key]struct{}
	// last holds the most recent confirmed response per event and viewer.
	last map[key]Response
}

type key struct {
	event model.ID
	user  model.ID
}

// NewHandler builds a Handler. invalidator may be nil.
func NewHandler(responder Responder, invalidator Invalidator, avatarLimit int) *Handler {
	return &Handler{
		responder:   responder,
		invalidator: invalidator,
		avatarLimit: avatarLimit,
		inflight:    make(map[key]struct{}),
		last:        make(map[key]Response),
	}
}

// InFlight reports whether a response for ev and viewer is being sent.
func (h *Handler) InFlight(id model.ID, viewer model.Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.inflight[key{id, viewer.UserID}]
	return ok
}

func (h *Handler) Respond(ctx context.Context, ev model.Event, viewer model.Identity, r Response) Result {
	r, err := ParseResponse(string(r))
	if err != nil {
		return Result{Err: err}
	}
	if viewer.UserID == "" || ev.ID == "" {
		return Result{Err: fmt.Errorf("%w: event and viewer ids are required", ErrInvalidResponse)}
	}

	k := key{ev.ID, viewer.UserID}
	h.mu.Lock()
	if _, busy := h.inflight[k]; busy {
		h.mu.Unlock()
		metrics.ObserveRSVP(string(r), "in_flight")
		return Result{Err: ErrInFlight}
	}
	h.inflight[k] = struct{}{}
	last := h.last[k]
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inflight, k)
		h.mu.Unlock()
	}()

	prev := StateOf(invitation.Resolve(ev, viewer), last)
	state, err := Transition(prev, r)
	if err != nil {
		metrics.ObserveRSVP(string(r), "invalid")
		return Result{Err: err}
	}

	if err := h.responder.RespondToEvent(ctx, ev.ID, string(r)); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			appLog.Debug("rsvp: session expired", "event_id", ev.ID)
			metrics.ObserveRSVP(string(r), "auth_expired")
			return Result{Err: err}
		}
		appLog.Error("rsvp: event response failed", err, "event_id", ev.ID, "response", r)
		metrics.ObserveRSVP(string(r), "failed")
		return Result{Err: fmt.Errorf("%w: %w", ErrEventResponseFailed, err)}
	}

	h.mu.Lock()
	h.last[k] = r
	h.mu.Unlock()

	updated := Apply(ev, viewer, r)
	metrics.ObserveRSVP(string(r), "ok")
	appLog.Info("rsvp saved", "event_id", ev.ID, "user_id", viewer.UserID, "response", r)

	if h.invalidator != nil {
		h.invalidator.Bump(ctx)
	}

	return Result{
		Event:    updated,
		Previous: prev,
		State:    state,
		View:     invitation.ResolveWithLimit(updated, viewer, h.avatarLimit),
	}
}

// StateOf maps an invitation view onto the RSVP state machine. last is the
// viewer's most recent confirmed response, if any. Event data carries no
// decline marker, so Declined is only reachable through last; an accepted
// view always wins over it.
func StateOf(view invitation.ViewState, last Response) State {
	switch {
	case view.HasAccepted:
		return Accepted
	case last == Decline:
		return Declined
	default:
		return Pending
	}
}
