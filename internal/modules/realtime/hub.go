// README: In-process channel hub: per-channel subscriber sets with non-blocking delivery.
package realtime

import (
	"sync"

	"haul/internal/observability"
)

// Subscriber is one receiving endpoint, typically a socket. Its queue is
// bounded; when full, new messages are dropped rather than blocking senders.
type Subscriber struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscriber{send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *Subscriber) C() <-chan []byte { return s.send }

// Done is closed once the subscriber has been removed from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) offer(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscriber]struct{}
	joined   map[*Subscriber]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Subscriber]struct{}),
		joined:   make(map[*Subscriber]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[s] = struct{}{}
	chans, ok := h.joined[s]
	if !ok {
		chans = make(map[string]struct{})
		h.joined[s] = chans
	}
	chans[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(channel string, s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, s)
}

func (h *Hub) unsubscribeLocked(channel string, s *Subscriber) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if chans, ok := h.joined[s]; ok {
		delete(chans, channel)
	}
}

// Remove drops every subscription held by s. Re-joining after a reconnect is
// the subscriber's job; the hub keeps no state for it.
func (h *Hub) Remove(s *Subscriber) {
	h.mu.Lock()
	for channel := range h.joined[s] {
		h.unsubscribeLocked(channel, s)
	}
	delete(h.joined, s)
	h.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Deliver hands payload to every current subscriber of channel and returns how
// many accepted it. Late joiners never see earlier payloads.
func (h *Hub) Deliver(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.channels[channel] {
		if s.offer(payload) {
			n++
			continue
		}
		observability.RealtimeDropped.Inc()
	}
	return n
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
