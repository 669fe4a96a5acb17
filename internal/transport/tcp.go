package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"p2p-overlay/internal/errs"
)

const defaultWriteTimeout = 10 * time.Second

type tcpConn struct {
	net.Conn
	wmu sync.Mutex
}

// TCP frames each unit with a 4-byte length. Connections are dialled
// lazily and cached by address; inbound connections are cached under their
// remote address so replies reuse them.
type TCP struct {
	in *inbox

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*tcpConn
	all      map[*tcpConn]struct{}
	closed   bool

	dialer net.Dialer
}

func NewTCP() *TCP {
	return &TCP{
		in:     newInbox(),
		conns:  make(map[string]*tcpConn),
		all:    make(map[*tcpConn]struct{}),
		dialer: net.Dialer{Timeout: 5 * time.Second},
	}
}

func (t *TCP) Kind() Kind { return KindTCP }

func (t *TCP) Incoming() <-chan Packet { return t.in.ch }

func (t *TCP) Listen(address string, port int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", errs.E(errs.KindTransport, "tcp listen", ErrClosed)
	}
	if t.listener != nil {
		return t.listener.Addr().String(), nil
	}

	l, err := net.Listen("tcp", hostPort(address, port))
	if err != nil {
		return "", errs.E(errs.KindTransport, "tcp listen", err)
	}
	t.listener = l
	t.in.spawn(func() { t.acceptLoop(l) })
	return l.Addr().String(), nil
}

func (t *TCP) acceptLoop(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		key := c.RemoteAddr().String()
		if _, ok := t.track(key, c); !ok {
			_ = c.Close()
			return
		}
	}
}

// track caches c under key and starts its read loop. An existing entry for
// key wins; c is then only read from.
func (t *TCP) track(key string, c net.Conn) (*tcpConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	tc := &tcpConn{Conn: c}
	if !t.in.spawn(func() { t.readLoop(key, tc) }) {
		return nil, false
	}
	t.all[tc] = struct{}{}
	if cur, ok := t.conns[key]; ok {
		return cur, true
	}
	t.conns[key] = tc
	return tc, true
}

func (t *TCP) readLoop(key string, c *tcpConn) {
	defer t.drop(key, c)
	r := bufio.NewReader(c)
	for {
		data, err := ReadFrame(r)
		if err != nil {
			return
		}
		if !t.in.push(Packet{Data: data, From: key}) {
			return
		}
	}
}

func (t *TCP) drop(key string, c *tcpConn) {
	t.mu.Lock()
	if cur, ok := t.conns[key]; ok && cur == c {
		delete(t.conns, key)
	}
	delete(t.all, c)
	t.mu.Unlock()
	_ = c.Close()
}

func (t *TCP) conn(ctx context.Context, address string) (*tcpConn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := t.conns[address]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	raw, err := t.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	c, ok := t.track(address, raw)
	if !ok {
		_ = raw.Close()
		return nil, ErrClosed
	}
	return c, nil
}

func (t *TCP) Connect(ctx context.Context, address string) error {
	if _, err := t.conn(ctx, address); err != nil {
		return errs.E(errs.KindTransport, "tcp connect", err)
	}
	return nil
}

func (t *TCP) SendTo(ctx context.Context, address string, data []byte) error {
	c, err := t.conn(ctx, address)
	if err != nil {
		return errs.E(errs.KindTransport, "tcp send", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.wmu.Lock()
	_ = c.SetWriteDeadline(deadline)
	err = WriteFrame(c, data)
	c.wmu.Unlock()

	if err != nil {
		t.drop(address, c)
		return errs.E(errs.KindTransport, "tcp send", err)
	}
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var err error
	if t.listener != nil {
		err = t.listener.Close()
		t.listener = nil
	}
	for c := range t.all {
		_ = c.Close()
	}
	clear(t.conns)
	t.mu.Unlock()

	t.in.shutdown()
	return err
}
