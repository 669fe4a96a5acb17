package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"p2p-overlay/internal/errs"
)

const wsPath = "/overlay"

type wsConn struct {
	*websocket.Conn
	wmu sync.Mutex
}

// WebSocket carries each unit as one binary message.
type WebSocket struct {
	in *inbox

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	conns    map[string]*wsConn
	all      map[*wsConn]struct{}
	closed   bool

	upgrader websocket.Upgrader
	dialer   websocket.Dialer
}

func NewWebSocket() *WebSocket {
	return &WebSocket{
		in:    newInbox(),
		conns: make(map[string]*wsConn),
		all:   make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (w *WebSocket) Kind() Kind { return KindWebSocket }

func (w *WebSocket) Incoming() <-chan Packet { return w.in.ch }

func (w *WebSocket) Listen(address string, port int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", errs.E(errs.KindTransport, "ws listen", ErrClosed)
	}
	if w.listener != nil {
		return w.listener.Addr().String(), nil
	}

	l, err := net.Listen("tcp", hostPort(address, port))
	if err != nil {
		return "", errs.E(errs.KindTransport, "ws listen", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, w.serveWS)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	w.listener = l
	w.server = srv
	w.in.spawn(func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = l.Close()
		}
	})
	return l.Addr().String(), nil
}

func (w *WebSocket) serveWS(rw http.ResponseWriter, r *http.Request) {
	c, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	if _, ok := w.track(r.RemoteAddr, c); !ok {
		_ = c.Close()
	}
}

func (w *WebSocket) track(key string, c *websocket.Conn) (*wsConn, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false
	}
	c.SetReadLimit(MaxUnitSize)
	wc := &wsConn{Conn: c}
	if !w.in.spawn(func() { w.readLoop(key, wc) }) {
		return nil, false
	}
	w.all[wc] = struct{}{}
	if cur, ok := w.conns[key]; ok {
		return cur, true
	}
	w.conns[key] = wc
	return wc, true
}

func (w *WebSocket) readLoop(key string, c *wsConn) {
	defer w.drop(key, c)
	for {
		typ, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if !w.in.push(Packet{Data: data, From: key}) {
			return
		}
	}
}

func (w *WebSocket) drop(key string, c *wsConn) {
	w.mu.Lock()
	if cur, ok := w.conns[key]; ok && cur == c {
		delete(w.conns, key)
	}
	delete(w.all, c)
	w.mu.Unlock()
	_ = c.Close()
}

func (w *WebSocket) conn(ctx context.Context, address string) (*wsConn, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := w.conns[address]; ok {
		w.mu.Unlock()
		return c, nil
	}
	w.mu.Unlock()

	raw, resp, err := w.dialer.DialContext(ctx, "ws://"+address+wsPath, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c, ok := w.track(address, raw)
	if !ok {
		_ = raw.Close()
		return nil, ErrClosed
	}
	return c, nil
}

func (w *WebSocket) Connect(ctx context.Context, address string) error {
	if _, err := w.conn(ctx, address); err != nil {
		return errs.E(errs.KindTransport, "ws connect", err)
	}
	return nil
}

func (w *WebSocket) SendTo(ctx context.Context, address string, data []byte) error {
	if len(data) > MaxUnitSize {
		return errs.E(errs.KindTransport, "ws send", ErrTooLarge)
	}
	c, err := w.conn(ctx, address)
	if err != nil {
		return errs.E(errs.KindTransport, "ws send", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	c.wmu.Lock()
	_ = c.SetWriteDeadline(deadline)
	err = c.WriteMessage(websocket.BinaryMessage, data)
	c.wmu.Unlock()

	if err != nil {
		w.drop(address, c)
		return errs.E(errs.KindTransport, "ws send", err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	srv := w.server
	w.server = nil
	w.listener = nil
	for c := range w.all {
		_ = c.Close()
	}
	clear(w.conns)
	w.mu.Unlock()

	var err error
	if srv != nil {
		// hijacked websocket conns are not tracked by the server
		err = srv.Close()
	}
	w.in.shutdown()
	return err
}
