// Package transport moves opaque byte units between overlay nodes. Each
// delivered unit is one encoded proto.Message; transports never look inside.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Kind is the tag a peer advertises in PeerInfo.Protocols.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "ws"
	KindQUIC      Kind = "quic"
	KindZMQ       Kind = "zmq"
	KindMemory    Kind = "mem"
)

func (k Kind) String() string { return string(k) }

const (
	// MaxUnitSize bounds a single delivered unit.
	MaxUnitSize = 16 << 20

	inboxSize = 256
)

var (
	ErrClosed       = errors.New("transport: closed")
	ErrNotListening = errors.New("transport: not listening")
	ErrTooLarge     = errors.New("transport: unit exceeds size limit")
	ErrUnknownKind  = errors.New("transport: unknown kind")
)

// Packet is one inbound unit. From is the address replies can be sent to
// with SendTo on the same transport.
type Packet struct {
	Data []byte
	From string
}

type Transport interface {
	Kind() Kind
	// Listen binds address:port (port 0 picks a free one) and returns the
	// bound host:port.
	Listen(address string, port int) (string, error)
	Connect(ctx context.Context, address string) error
	SendTo(ctx context.Context, address string, data []byte) error
	Incoming() <-chan Packet
	Close() error
}

// New builds a transport by kind. hub is only used for KindMemory.
func New(kind Kind, hub *Hub) (Transport, error) {
	switch kind {
	case KindTCP:
		return NewTCP(), nil
	case KindWebSocket:
		return NewWebSocket(), nil
	case KindQUIC:
		return NewQUIC()
	case KindZMQ:
		return NewZMQ(), nil
	case KindMemory:
		if hub == nil {
			hub = DefaultHub
		}
		return NewMemory(hub), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func hostPort(address string, port int) string {
	return net.JoinHostPort(address, strconv.Itoa(port))
}

// inbox is the shared Incoming plumbing: producers push until the
// transport closes, and the channel is closed once every producer is done.
type inbox struct {
	ch   chan Packet
	done chan struct{}

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
	once     sync.Once
}

func newInbox() *inbox {
	return &inbox{ch: make(chan Packet, inboxSize), done: make(chan struct{})}
}

// spawn runs f as a producer. It refuses once shutdown has begun.
func (b *inbox) spawn(f func()) bool {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return false
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		f()
	}()
	return true
}

func (b *inbox) push(p Packet) bool {
	select {
	case b.ch <- p:
		return true
	case <-b.done:
		return false
	}
}

// offer pushes p from outside any spawned producer. It reports false once
// shutdown has begun.
func (b *inbox) offer(ctx context.Context, p Packet) (bool, error) {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return false, nil
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	select {
	case b.ch <- p:
		return true, nil
	case <-b.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *inbox) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// shutdown stops producers, waits for them, then closes the channel. The
// caller must first unblock producers stuck in I/O.
func (b *inbox) shutdown() {
	b.once.Do(func() {
		b.mu.Lock()
		b.stopping = true
		b.mu.Unlock()

		close(b.done)
		b.wg.Wait()
		close(b.ch)
	})
}
