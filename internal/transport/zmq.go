package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"

	"p2p-overlay/internal/errs"
)

// ZMQ receives on a ROUTER socket and sends through one DEALER per remote.
// Dealers carry the local listen address as their identity, so the ROUTER
// side learns a dialable reply address.
type ZMQ struct {
	in     *inbox
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	router  zmq4.Socket
	bound   string
	dealers map[string]zmq4.Socket
	closed  bool
}

func NewZMQ() *ZMQ {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZMQ{
		in:      newInbox(),
		ctx:     ctx,
		cancel:  cancel,
		dealers: make(map[string]zmq4.Socket),
	}
}

func (z *ZMQ) Kind() Kind { return KindZMQ }

func (z *ZMQ) Incoming() <-chan Packet { return z.in.ch }

func zmqEndpoint(address string) string {
	if strings.HasPrefix(address, "tcp://") {
		return address
	}
	return "tcp://" + address
}

func (z *ZMQ) Listen(address string, port int) (string, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return "", errs.E(errs.KindTransport, "zmq listen", ErrClosed)
	}
	if z.router != nil {
		return z.bound, nil
	}

	router := zmq4.NewRouter(z.ctx, zmq4.WithID(zmq4.SocketIdentity("router-"+uuid.NewString())))
	if err := router.Listen(zmqEndpoint(hostPort(address, port))); err != nil {
		_ = router.Close()
		return "", errs.E(errs.KindTransport, "zmq listen", err)
	}
	z.router = router
	z.bound = router.Addr().String()
	z.in.spawn(func() { z.recvLoop(router) })
	return z.bound, nil
}

func (z *ZMQ) recvLoop(router zmq4.Socket) {
	for {
		msg, err := router.Recv()
		if err != nil {
			if z.ctx.Err() != nil || z.in.closed() {
				return
			}
			continue
		}
		// ROUTER prepends the sender identity frame.
		if len(msg.Frames) < 2 {
			continue
		}
		from := string(msg.Frames[0])
		data := msg.Frames[len(msg.Frames)-1]
		if len(data) > MaxUnitSize {
			continue
		}
		if !z.in.push(Packet{Data: data, From: from}) {
			return
		}
	}
}

func (z *ZMQ) dealer(address string) (zmq4.Socket, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil, ErrClosed
	}
	if d, ok := z.dealers[address]; ok {
		return d, nil
	}

	id := z.bound
	if id == "" {
		id = "anon-" + uuid.NewString()
	}
	d := zmq4.NewDealer(z.ctx, zmq4.WithID(zmq4.SocketIdentity(id)))
	if err := d.Dial(zmqEndpoint(address)); err != nil {
		_ = d.Close()
		return nil, err
	}
	z.dealers[address] = d
	return d, nil
}

func (z *ZMQ) dropDealer(address string, d zmq4.Socket) {
	z.mu.Lock()
	if cur, ok := z.dealers[address]; ok && cur == d {
		delete(z.dealers, address)
	}
	z.mu.Unlock()
	_ = d.Close()
}

func (z *ZMQ) Connect(ctx context.Context, address string) error {
	if _, err := z.dealer(address); err != nil {
		return errs.E(errs.KindTransport, "zmq connect", err)
	}
	return nil
}

func (z *ZMQ) SendTo(ctx context.Context, address string, data []byte) error {
	if len(data) > MaxUnitSize {
		return errs.E(errs.KindTransport, "zmq send", ErrTooLarge)
	}
	d, err := z.dealer(address)
	if err != nil {
		return errs.E(errs.KindTransport, "zmq send", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Send(zmq4.NewMsg(data)) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		z.dropDealer(address, d)
		return errs.E(errs.KindTransport, "zmq send", err)
	}
	return nil
}

func (z *ZMQ) Close() error {
	z.mu.Lock()
	if z.closed {
		z.mu.Unlock()
		return nil
	}
	z.closed = true
	router := z.router
	dealers := z.dealers
	z.dealers = make(map[string]zmq4.Socket)
	z.mu.Unlock()

	z.cancel()
	for _, d := range dealers {
		_ = d.Close()
	}
	var err error
	if router != nil {
		err = router.Close()
	}
	z.in.shutdown()
	return err
}
