// Package event provides the process-wide development event hub. The hub is
// an explicit dependency injected into the modules that publish events; it
// is created at startup and closed at shutdown.
package event

import (
	"sync"
	"time"
)

// Event is a single development event: entity lifecycle, damage, session
// activity and similar occurrences that external tooling may observe.
type Event struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Time   time.Time      `json:"time"`
}

// Hub is a publish/subscribe fan-out for Events. Publishing never blocks:
// events are dropped for subscribers whose buffers are full.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish delivers an event to all subscribers. A zero Time is filled with
// the current time.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}

// Subscribe registers a new subscriber with the buffer size passed. The
// returned cancel function removes the subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Close shuts the hub down, closing all subscriber channels. Publishing
// after Close is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
