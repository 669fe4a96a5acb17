package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"p2p-overlay/internal/errs"
)

var ErrUnreachable = errors.New("transport: address unreachable")

// Hub is an in-process switch for Memory transports. Each hub is its own
// isolated network.
type Hub struct {
	mu    sync.Mutex
	next  int
	nodes map[string]*Memory
}

// DefaultHub serves transports built with New(KindMemory, nil).
var DefaultHub = NewHub()

func NewHub() *Hub { return &Hub{nodes: make(map[string]*Memory)} }

func (h *Hub) bind(address string, port int, m *Memory) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if port == 0 {
		h.next++
		port = 40000 + h.next
	}
	addr := hostPort(address, port)
	if _, taken := h.nodes[addr]; taken {
		return "", fmt.Errorf("mem: %s already in use", addr)
	}
	h.nodes[addr] = m
	return addr, nil
}

func (h *Hub) unbind(addr string) {
	h.mu.Lock()
	delete(h.nodes, addr)
	h.mu.Unlock()
}

func (h *Hub) lookup(addr string) *Memory {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nodes[addr]
}

// Memory is a transport for tests and single-process simulations.
type Memory struct {
	hub *Hub
	in  *inbox

	mu     sync.Mutex
	addr   string
	closed bool
}

func NewMemory(hub *Hub) *Memory {
	return &Memory{hub: hub, in: newInbox()}
}

func (m *Memory) Kind() Kind { return KindMemory }

func (m *Memory) Incoming() <-chan Packet { return m.in.ch }

func (m *Memory) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

func (m *Memory) Listen(address string, port int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", errs.E(errs.KindTransport, "mem listen", ErrClosed)
	}
	if m.addr != "" {
		return m.addr, nil
	}
	addr, err := m.hub.bind(address, port, m)
	if err != nil {
		return "", errs.E(errs.KindTransport, "mem listen", err)
	}
	m.addr = addr
	return addr, nil
}

func (m *Memory) Connect(ctx context.Context, address string) error {
	if m.hub.lookup(address) == nil {
		return errs.E(errs.KindTransport, "mem connect", fmt.Errorf("%w: %s", ErrUnreachable, address))
	}
	return nil
}

func (m *Memory) SendTo(ctx context.Context, address string, data []byte) error {
	if len(data) > MaxUnitSize {
		return errs.E(errs.KindTransport, "mem send", ErrTooLarge)
	}
	m.mu.Lock()
	from, closed := m.addr, m.closed
	m.mu.Unlock()
	if closed {
		return errs.E(errs.KindTransport, "mem send", ErrClosed)
	}

	dst := m.hub.lookup(address)
	if dst == nil {
		return errs.E(errs.KindTransport, "mem send", fmt.Errorf("%w: %s", ErrUnreachable, address))
	}
	return dst.deliver(ctx, Packet{Data: append([]byte(nil), data...), From: from})
}

func (m *Memory) deliver(ctx context.Context, p Packet) error {
	ok, err := m.in.offer(ctx, p)
	if err != nil {
		return errs.E(errs.KindTransport, "mem send", err)
	}
	if !ok {
		return errs.E(errs.KindTransport, "mem send", ErrUnreachable)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	addr := m.addr
	m.mu.Unlock()

	if addr != "" {
		m.hub.unbind(addr)
	}
	m.in.shutdown()
	return nil
}
