package p2p

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/discovery"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

type nodeTestOpt func(*NodeConfig)

// WithDHT enables the DHT with a short RPC timeout.
func WithDHT() nodeTestOpt {
	return func(cfg *NodeConfig) {
		cfg.EnableDHT = true
		cfg.DHT = dht.DefaultConfig()
		cfg.DHT.RPCTimeout = time.Second
	}
}

func WithDiscovery(ds ...discovery.Discovery) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Discovery = append(cfg.Discovery, ds...) }
}

func WithTransports(trs ...transport.Transport) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.Transports = trs }
}

func WithBuffer(n int) nodeTestOpt {
	return func(cfg *NodeConfig) { cfg.SubscriberBuffer = n }
}

func WithConfig(f func(*NodeConfig)) nodeTestOpt { return f }

// newTestNode builds a node on a memory transport attached to hub and
// connects it. It is closed when the test ends.
func newTestNode(t *testing.T, hub *transport.Hub, opts ...nodeTestOpt) *Node {
	t.Helper()

	cfg := NodeConfig{
		Transports: []transport.Transport{transport.NewMemory(hub)},
		Logger:     log.New(io.Discard, "", log.LstdFlags),
		Debug:      true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode error: %v", err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) error: %v", n.ID(), err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// introduce makes each node know the others' advertised info.
func introduce(nodes ...*Node) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.AddPeer(b.LocalInfo())
			}
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recv(t *testing.T, s *Subscription, timeout time.Duration) proto.Message {
	t.Helper()
	select {
	case m, ok := <-s.C():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return m
	case <-time.After(timeout):
		t.Fatalf("no message within %s", timeout)
	}
	return proto.Message{}
}

// drainData counts Data and Broadcast messages until the channel is quiet.
func drainData(s *Subscription, quiet time.Duration) []proto.Message {
	var out []proto.Message
	for {
		select {
		case m, ok := <-s.C():
			if !ok {
				return out
			}
			if !m.IsDHT() {
				out = append(out, m)
			}
		case <-time.After(quiet):
			return out
		}
	}
}

// recordingTransport wraps a Transport and counts calls.
type recordingTransport struct {
	transport.Transport

	mu      sync.Mutex
	listens int
	sends   []string
	failOn  map[string]error
	kind    transport.Kind
}

func newRecording(inner transport.Transport, kind transport.Kind) *recordingTransport {
	return &recordingTransport{Transport: inner, kind: kind, failOn: map[string]error{}}
}

func (r *recordingTransport) Kind() transport.Kind {
	if r.kind != "" {
		return r.kind
	}
	return r.Transport.Kind()
}

func (r *recordingTransport) Listen(address string, port int) (string, error) {
	r.mu.Lock()
	r.listens++
	r.mu.Unlock()
	return r.Transport.Listen(address, port)
}

func (r *recordingTransport) SendTo(ctx context.Context, address string, data []byte) error {
	r.mu.Lock()
	r.sends = append(r.sends, address)
	err := r.failOn[address]
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Transport.SendTo(ctx, address, data)
}

func (r *recordingTransport) Listens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listens
}

func (r *recordingTransport) Sends() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sends...)
}

// failingListen is a transport whose Listen always fails.
type failingListen struct {
	transport.Transport
	err error
}

func (f failingListen) Listen(string, int) (string, error) { return "", f.err }

// fakeDiscovery returns fixed results.
type fakeDiscovery struct {
	name  string
	peers []proto.PeerInfo
	err   error

	mu      sync.Mutex
	started int
	stopped int
	calls   int
	adv     proto.PeerInfo
}

func (f *fakeDiscovery) Name() string { return f.name }

func (f *fakeDiscovery) Start() error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return nil
}

func (f *fakeDiscovery) Stop() error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	return nil
}

func (f *fakeDiscovery) Advertise(info proto.PeerInfo) {
	f.mu.Lock()
	f.adv = info
	f.mu.Unlock()
}

func (f *fakeDiscovery) Discover(ctx context.Context) ([]proto.PeerInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]proto.PeerInfo(nil), f.peers...), nil
}

func (f *fakeDiscovery) counts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func (f *fakeDiscovery) discoverCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
