package p2p

import (
	"sync"
	"sync/atomic"

	"p2p-overlay/internal/proto"
)

// Subscription is one consumer of the node's inbound messages. Each
// subscriber has its own bounded queue; when it is full the message is
// dropped for that subscriber only and counted in Missed.
type Subscription struct {
	ch     chan proto.Message
	missed atomic.Uint64
	hub    *hub
}

// C is closed when the subscription or the node is closed.
func (s *Subscription) C() <-chan proto.Message { return s.ch }

func (s *Subscription) Missed() uint64 { return s.missed.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() { s.hub.unsubscribe(s) }

type hub struct {
	buf    int
	onMiss func()

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newHub(buf int, onMiss func()) *hub {
	return &hub{buf: buf, onMiss: onMiss, subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe() *Subscription {
	s := &Subscription{ch: make(chan proto.Message, h.buf), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// publish never blocks.
func (h *hub) publish(m proto.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- m:
		default:
			s.missed.Add(1)
			if h.onMiss != nil {
				h.onMiss()
			}
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
	}
	clear(h.subs)
}
