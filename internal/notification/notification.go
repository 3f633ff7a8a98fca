// Package notification assembles the notification list, pairing each entry
// with the detail of the event it refers to.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tribecal/internal/backend"
	"tribecal/internal/invitation"
	appLog "tribecal/internal/log"
	"tribecal/internal/model"
	"tribecal/internal/timewindow"
)

// maxDetailFetches bounds concurrent event detail requests per Build.
const maxDetailFetches = 4

// Source is the subset of the backend client the builder needs.
type Source interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	GetEvent(ctx context.Context, id model.ID) (model.Event, error)
}

// Item is one notification with its event rendered the same way as the
// calendar and day views render it.
type Item struct {
	Notification model.Notification    `json:"notification"`
	Event        *model.Event          `json:"event,omitempty"`
	Display      *timewindow.Display   `json:"display,omitempty"`
	View         *invitation.ViewState `json:"view,omitempty"`
	// NextOccurrence is the first occurrence after now for recurring events.
	NextOccurrence *time.Time `json:"next_occurrence,omitempty"`
	// Err is set when the event detail could not be fetched.
	Err error `json:"-"`
}

// Builder builds notification items. It holds no state between calls.
type Builder struct {
	src         Source
	formatter   *timewindow.Formatter
	avatarLimit int
	now         func() time.Time
}

func NewBuilder(src Source, f *timewindow.Formatter, avatarLimit int) *Builder {
	return &Builder{src: src, formatter: f, avatarLimit: avatarLimit, now: time.Now}
}

// Build lists notifications and resolves each referenced event. A failing
// detail fetch only degrades its own items. Items keep the backend order.
func (b *Builder) Build(ctx context.Context, viewer model.Identity) ([]Item, error) {
	list, err := b.src.ListNotifications(ctx)
	if err != nil {
		return nil, err
	}

	type detail struct {
		ev  model.Event
		err error
	}
	var (
		mu      sync.Mutex
		details = make(map[model.ID]detail, len(list))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDetailFetches)
	seen := make(map[model.ID]struct{}, len(list))
	for _, n := range list {
		id := n.EventID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			ev, err := b.src.GetEvent(gctx, id)
			mu.Lock()
			details[id] = detail{ev: ev, err: err}
			mu.Unlock()
			// An expired session fails every remaining fetch the same way.
			if errors.Is(err, backend.ErrAuthExpired) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := b.now()
	items := make([]Item, 0, len(list))
	for _, n := range list {
		item := Item{Notification: n}
		d, ok := details[n.EventID]
		switch {
		case !ok:
		case d.err != nil:
			item.Err = d.err
			appLog.Warn("notification event detail failed", "notification", n.ID, "event", n.EventID, "error", d.err.Error())
		default:
			b.fill(&item, d.ev, viewer, now)
		}
		items = append(items, item)
	}
	return items, nil
}

func (b *Builder) fill(item *Item, ev model.Event, viewer model.Identity, now time.Time) {
	disp := b.formatter.Display(ev.Start, ev.Duration)
	view := invitation.ResolveWithLimit(ev, viewer, b.avatarLimit)
	item.Event = &ev
	item.Display = &disp
	item.View = &view
	if ev.RecurrenceType.Recurring() {
		if next, ok := ev.RecurrenceType.NextAfter(ev.Start, now); ok {
			next = next.In(b.formatter.Location())
			item.NextOccurrence = &next
		}
	}
}
