package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"p2p-overlay/internal/errs"
)

const quicALPN = "p2p-overlay"

// QUIC sends each unit on its own unidirectional stream. Listening and
// dialling share one UDP socket, so the source address of inbound units
// is also where replies can be sent. Certificates are throwaway: the
// overlay does not authenticate transports.
type QUIC struct {
	in *inbox

	serverTLS *tls.Config
	clientTLS *tls.Config
	conf      *quic.Config

	mu       sync.Mutex
	tr       *quic.Transport
	listener *quic.Listener
	conns    map[string]*quic.Conn
	closed   bool
}

func NewQUIC() (*QUIC, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, errs.E(errs.KindTransport, "quic cert", err)
	}
	return &QUIC{
		in: newInbox(),
		serverTLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{quicALPN},
		},
		clientTLS: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{quicALPN},
		},
		conf: &quic.Config{
			MaxIdleTimeout:  60 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		},
		conns: make(map[string]*quic.Conn),
	}, nil
}

func selfSignedCert() (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

func (q *QUIC) Kind() Kind { return KindQUIC }

func (q *QUIC) Incoming() <-chan Packet { return q.in.ch }

// transport returns the shared UDP transport, binding addr when none
// exists yet. Caller holds q.mu.
func (q *QUIC) transport(addr string) (*quic.Transport, error) {
	if q.tr != nil {
		return q.tr, nil
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	udp, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	q.tr = &quic.Transport{Conn: udp}
	return q.tr, nil
}

// Listen binds the UDP socket. If a send already bound an ephemeral
// socket, that socket starts accepting instead.
func (q *QUIC) Listen(address string, port int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", errs.E(errs.KindTransport, "quic listen", ErrClosed)
	}
	tr, err := q.transport(hostPort(address, port))
	if err != nil {
		return "", errs.E(errs.KindTransport, "quic listen", err)
	}
	if q.listener == nil {
		ln, err := tr.Listen(q.serverTLS, q.conf)
		if err != nil {
			return "", errs.E(errs.KindTransport, "quic listen", err)
		}
		q.listener = ln
		q.in.spawn(func() { q.acceptLoop(ln) })
	}
	return tr.Conn.LocalAddr().String(), nil
}

func (q *QUIC) acceptLoop(ln *quic.Listener) {
	for {
		c, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		if !q.track(c.RemoteAddr().String(), c) {
			_ = c.CloseWithError(0, "")
			return
		}
	}
}

func (q *QUIC) track(key string, c *quic.Conn) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if !q.in.spawn(func() { q.streamLoop(key, c) }) {
		return false
	}
	if _, ok := q.conns[key]; !ok {
		q.conns[key] = c
	}
	return true
}

func (q *QUIC) streamLoop(key string, c *quic.Conn) {
	defer q.drop(key, c)
	from := c.RemoteAddr().String()
	for {
		s, err := c.AcceptUniStream(context.Background())
		if err != nil {
			return
		}
		data, err := io.ReadAll(io.LimitReader(s, MaxUnitSize+1))
		if err != nil || len(data) == 0 || len(data) > MaxUnitSize {
			continue
		}
		if !q.in.push(Packet{Data: data, From: from}) {
			return
		}
	}
}

func (q *QUIC) drop(key string, c *quic.Conn) {
	q.mu.Lock()
	if cur, ok := q.conns[key]; ok && cur == c {
		delete(q.conns, key)
	}
	q.mu.Unlock()
	_ = c.CloseWithError(0, "")
}

func (q *QUIC) conn(ctx context.Context, address string) (*quic.Conn, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if c, ok := q.conns[address]; ok {
		q.mu.Unlock()
		return c, nil
	}
	tr, err := q.transport("0.0.0.0:0")
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ua, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	c, err := tr.Dial(ctx, ua, q.clientTLS, q.conf)
	if err != nil {
		return nil, err
	}
	if !q.track(address, c) {
		_ = c.CloseWithError(0, "")
		return nil, ErrClosed
	}
	return c, nil
}

func (q *QUIC) Connect(ctx context.Context, address string) error {
	if _, err := q.conn(ctx, address); err != nil {
		return errs.E(errs.KindTransport, "quic connect", err)
	}
	return nil
}

func (q *QUIC) SendTo(ctx context.Context, address string, data []byte) error {
	if len(data) > MaxUnitSize {
		return errs.E(errs.KindTransport, "quic send", ErrTooLarge)
	}
	c, err := q.conn(ctx, address)
	if err != nil {
		return errs.E(errs.KindTransport, "quic send", err)
	}
	s, err := c.OpenUniStreamSync(ctx)
	if err != nil {
		q.drop(address, c)
		return errs.E(errs.KindTransport, "quic send", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetWriteDeadline(deadline)
	}
	if _, err := s.Write(data); err != nil {
		q.drop(address, c)
		return errs.E(errs.KindTransport, "quic send", err)
	}
	if err := s.Close(); err != nil {
		return errs.E(errs.KindTransport, "quic send", err)
	}
	return nil
}

func (q *QUIC) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	conns := make([]*quic.Conn, 0, len(q.conns))
	for _, c := range q.conns {
		conns = append(conns, c)
	}
	clear(q.conns)
	ln, tr := q.listener, q.tr
	q.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseWithError(0, "")
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	if tr != nil {
		_ = tr.Close()
		_ = tr.Conn.Close()
	}
	q.in.shutdown()
	return err
}
