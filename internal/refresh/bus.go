// Package refresh carries the "data changed, refetch" signal as a
// monotonically increasing data version.
package refresh

import (
	"context"
	"sync"
)

// Listener is called with the new version after every bump.
type Listener func(ctx context.Context, version uint64)

// Bus is safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	version   uint64
	nextID    int
	listeners map[int]Listener
	order     []int
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

func (b *Bus) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Bump increments the version and notifies listeners in subscription order.
// Listeners run on the caller's goroutine, outside the bus lock.
func (b *Bus) Bump(ctx context.Context) uint64 {
	b.mu.Lock()
	b.version++
	v := b.version
	fns := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, v)
	}
	return v
}
