// Package events fans typed worker notifications out to subscribers.
// Subscriptions are cancellable handles over bounded channels: a consumer
// that stops draining loses newest-first rather than blocking the source.
package events

import (
	"sync"

	"github.com/gaveloc/launcher/internal/logging"
)

var log = logging.L("events")

// Event is a typed notification. Kind returns the wire-level event name.
type Event interface {
	Kind() string
}

// Hub distributes events to any number of subscribers.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	bufSize int
	closed  bool
	dropped uint64
}

// NewHub creates a hub whose subscriptions buffer up to bufSize events.
func NewHub(bufSize int) *Hub {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber. The returned handle must be
// cancelled when the consumer goes away or the hub will keep filling
// its buffer.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscription{
		hub: h,
		ch:  make(chan Event, h.bufSize),
	}
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscriber without blocking. Events are
// dropped (and counted) for subscribers whose buffer is full.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped++
			log.Warn("subscriber buffer full, dropping event", "event", ev.Kind(), "droppedTotal", h.dropped)
		}
	}
}

// Dropped returns the number of events discarded due to full buffers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close cancels all subscriptions. Publish becomes a no-op afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

// Subscription is a cancellable handle on the hub's event stream.
type Subscription struct {
	hub  *Hub
	ch   chan Event
	once sync.Once
}

// Events returns the receive side of the subscription. The channel is
// closed when the subscription is cancelled or the hub shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Cancel releases the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		if _, ok := s.hub.subs[s]; ok {
			delete(s.hub.subs, s)
			close(s.ch)
		}
	})
}
