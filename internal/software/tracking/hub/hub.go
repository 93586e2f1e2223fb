package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/general/logger"
)

// Listener is invoked once per published change. It runs on the publishing
// goroutine and must not block.
type Listener func(change fleet.Change)

type subscription struct {
	id     uint64
	fn     Listener
	active atomic.Bool
}

// Hub fans store changes out to listeners synchronously.
type Hub struct {
	logger *logger.Logger

	mu     sync.Mutex
	subs   []*subscription // copy-on-write; Publish iterates a stable slice
	nextID uint64
}

func New(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{logger: log}
}

// Subscribe registers l and returns its unsubscribe func. Unsubscribe is
// idempotent and may be called from inside any listener, including l itself.
func (h *Hub) Subscribe(l Listener) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	sub := &subscription{id: h.nextID, fn: l}
	sub.active.Store(true)
	next := make([]*subscription, 0, len(h.subs)+1)
	next = append(next, h.subs...)
	h.subs = append(next, sub)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sub) })
	}
}

func (h *Hub) remove(sub *subscription) {
	sub.active.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	next := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s != sub {
			next = append(next, s)
		}
	}
	h.subs = next
}

// Publish delivers change to every listener registered when the cycle starts,
// in registration order. A listener removed during the cycle is skipped.
func (h *Hub) Publish(change fleet.Change) {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		h.deliver(sub, change)
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) deliver(sub *subscription, change fleet.Change) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(context.Background(), "hub_listener_panic", "Listener panicked; change skipped for it", fmt.Errorf("%v", r), map[string]any{
				"listener": sub.id,
				"version":  change.Version,
				"kind":     change.Kind,
			})
		}
	}()
	sub.fn(change)
}
