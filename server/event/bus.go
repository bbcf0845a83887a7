// Package event implements the ordered, short-circuiting event bus that
// plugins use to observe and veto server operations.
package event

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// DefaultPriority is used by SubscribeDefault.
const DefaultPriority = 100

// Handler handles one broadcast. Returning false stops propagation and makes
// Broadcast return false. Returning an error stops propagation as well and
// the error is handed back to the broadcaster.
type Handler func(ctx context.Context, payload any) (bool, error)

type subscription struct {
	priority int
	seq      uint64
	handler  Handler
}

// Bus dispatches named events to subscribers in ascending priority order.
// Subscribers with equal priority run in subscription order.
type Bus struct {
	mu     sync.RWMutex
	seq    uint64
	events map[string][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{events: make(map[string][]subscription)}
}

// Subscribe registers h for the named event at the given priority.
func (b *Bus) Subscribe(name string, h Handler, priority int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	subs := append(slices.Clone(b.events[name]), subscription{priority: priority, seq: b.seq, handler: h})
	slices.SortStableFunc(subs, func(a, c subscription) int {
		return cmp.Or(cmp.Compare(a.priority, c.priority), cmp.Compare(a.seq, c.seq))
	})
	b.events[name] = subs
}

// SubscribeDefault registers h at DefaultPriority.
func (b *Bus) SubscribeDefault(name string, h Handler) {
	b.Subscribe(name, h, DefaultPriority)
}

// Broadcast invokes the handlers of the named event in order. It returns true
// when every handler returned true or no handler is registered.
func (b *Bus) Broadcast(ctx context.Context, name string, payload any) (bool, error) {
	b.mu.RLock()
	subs := b.events[name]
	b.mu.RUnlock()

	for _, s := range subs {
		ok, err := s.handler(ctx, payload)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events[name])
}
