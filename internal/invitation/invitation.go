// Package invitation derives a viewer's invitation state for an event.
//
// Owner policy: the owner always counts as accepted for avatar dimming
// (AcceptedUserIDs), but HasAccepted only reflects the explicit accepted
// list. IsOwner lets callers hide the RSVP control for the organizer.
//
// The owner avatar is always rendered first and never counts against the
// invitee limit. An owner who is also listed in the event's invitees is
// skipped there, as are repeated invitees, so Overflow counts distinct
// non-owner invitees beyond the limit.
package invitation

import (
	"sort"

	"tribecal/internal/model"
)

// DefaultAvatarLimit is the number of invitee avatars rendered before the
// "+N" overflow badge.
const DefaultAvatarLimit = 4

// Avatar is one rendered participant.
type Avatar struct {
	model.Identity
	Owner    bool `json:"owner"`
	Accepted bool `json:"accepted"`
}

// ViewState is the derived invitation state of one viewer for one event.
type ViewState struct {
	IsInvited       bool       `json:"is_invited"`
	HasAccepted     bool       `json:"has_accepted"`
	IsOwner         bool       `json:"is_owner"`
	AcceptedUserIDs []model.ID `json:"accepted_user_ids"`
	Avatars         []Avatar   `json:"avatars"`
	// Overflow is the N of the "+N" badge; zero means no badge.
	Overflow int `json:"overflow"`
}

// Accepts reports whether id is in AcceptedUserIDs.
func (v ViewState) Accepts(id model.ID) bool {
	i := sort.Search(len(v.AcceptedUserIDs), func(i int) bool { return v.AcceptedUserIDs[i] >= id })
	return i < len(v.AcceptedUserIDs) && v.AcceptedUserIDs[i] == id
}

// Resolve computes the view state with DefaultAvatarLimit.
func Resolve(ev model.Event, viewer model.Identity) ViewState {
	return ResolveWithLimit(ev, viewer, DefaultAvatarLimit)
}

// ResolveWithLimit computes the view state rendering at most limit invitee
// avatars. Non-positive limits fall back to DefaultAvatarLimit.
func ResolveWithLimit(ev model.Event, viewer model.Identity, limit int) ViewState {
	if limit <= 0 {
		limit = DefaultAvatarLimit
	}

	accepted := make(map[model.ID]struct{}, len(ev.Accepted)+1)
	for _, m := range ev.Accepted {
		if m.UserID != "" {
			accepted[m.UserID] = struct{}{}
		}
	}
	_, hasAccepted := accepted[viewer.UserID]
	if ev.Owner.UserID != "" {
		accepted[ev.Owner.UserID] = struct{}{}
	}

	ids := make([]model.ID, 0, len(accepted))
	for id := range accepted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	state := ViewState{
		IsInvited:       contains(ev.To, viewer),
		HasAccepted:     viewer.UserID != "" && hasAccepted,
		IsOwner:         ev.Owner.Same(viewer),
		AcceptedUserIDs: ids,
	}

	avatars := make([]Avatar, 0, limit+1)
	if ev.Owner.UserID != "" {
		avatars = append(avatars, Avatar{Identity: ev.Owner, Owner: true, Accepted: true})
	}
	invitees := 0
	seen := map[model.ID]struct{}{ev.Owner.UserID: {}}
	for _, m := range ev.To {
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		invitees++
		if invitees > limit {
			continue
		}
		_, ok := accepted[m.UserID]
		avatars = append(avatars, Avatar{Identity: m, Accepted: ok})
	}
	state.Avatars = avatars
	if invitees > limit {
		state.Overflow = invitees - limit
	}
	return state
}

func contains(members []model.Identity, who model.Identity) bool {
	for _, m := range members {
		if m.Same(who) {
			return true
		}
	}
	return false
}
