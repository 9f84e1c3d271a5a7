// Package hub fans mutation events out to dashboards subscribed to a role's
// queue. Delivery is broadcast per role, at-least-once, and FIFO per
// subscriber; a slow consumer never blocks the publisher.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDecided EventKind = "decided"
)

// Event is a realtime notification scoped to one role's queue.
type Event struct {
	ReportID string         `json:"report_id"`
	Role     string         `json:"role"`
	Kind     EventKind      `json:"kind"`
	Payload  map[string]any `json:"payload,omitempty"`
	TS       time.Time      `json:"ts"`
}

// Hub routes published events to the subscribers of the matching role.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	logger *zap.Logger
	closed bool
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new subscriber for the role's queue. The returned
// subscription delivers events on Events() until Close is called.
func (h *Hub) Subscribe(role string) *Subscription {
	s := &Subscription{
		hub:  h,
		role: role,
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		// Hub already shut down: hand back a closed subscription so the
		// caller's receive loop terminates immediately.
		close(s.done)
		close(s.out)
		return s
	}
	if h.subs[role] == nil {
		h.subs[role] = make(map[*Subscription]struct{})
	}
	h.subs[role][s] = struct{}{}
	h.mu.Unlock()
	go s.pump()
	return s
}

// Publish delivers the event to every subscriber of event.Role. It queues and
// returns immediately; per-subscriber pumps preserve publish order.
func (h *Hub) Publish(event Event) {
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs[event.Role] {
		s.enqueue(event)
	}
	h.logger.Debug("event published",
		zap.String("report_id", event.ReportID),
		zap.String("role", event.Role),
		zap.String("kind", string(event.Kind)),
	)
}

// SubscriberCount reports the number of live subscriptions for role.
func (h *Hub) SubscriberCount(role string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[role])
}

// Close shuts the hub down and releases every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()
	for _, s := range all {
		s.release()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.role]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.role)
		}
	}
}

// Subscription is a scoped resource: acquired via Subscribe, released via
// Close. Its queue is unbounded so the publisher never blocks; the pump
// goroutine drains it in FIFO order and is reclaimed on Close.
type Subscription struct {
	hub  *Hub
	role string

	mu    sync.Mutex
	queue []Event

	wake chan struct{}
	out  chan Event
	done chan struct{}

	closeOnce sync.Once
}

// Role returns the queue this subscription listens to.
func (s *Subscription) Role() string { return s.role }

// Events is the delivery channel. It is closed after Close, and no event is
// delivered once Close returns.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close releases the subscription. Idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.release()
}

func (s *Subscription) release() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next *Event
		if len(s.queue) > 0 {
			next = &s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()
		if next == nil {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.out <- *next:
		case <-s.done:
			return
		}
	}
}
