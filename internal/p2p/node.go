// Package p2p is the overlay's composition root. A Node owns the
// transports, the discovery mechanisms, the optional DHT and the peer
// registry, and exposes connect/send/broadcast/incoming to applications.
package p2p

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/discovery"
	"p2p-overlay/internal/peer"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/telemetry"
	"p2p-overlay/internal/transport"
)

const (
	DefaultListenAddr       = "127.0.0.1"
	DefaultSubscriberBuffer = 256
	DefaultDedupeTTL        = 2 * time.Minute
	DefaultClientVersion    = "p2p-overlay/0.1"
)

var (
	ErrPeerNotFound = errors.New("p2p: peer not found")
	ErrNoAddress    = errors.New("p2p: peer address unknown")
	ErrNoTransport  = errors.New("p2p: no usable transport")
	ErrClosed       = errors.New("p2p: node closed")
)

type NodeConfig struct {
	ID         *proto.NodeID // nil picks a random id
	ListenAddr string        // default 127.0.0.1
	Port       int           // 0 lets each transport pick a free port
	// Ports overrides Port per transport kind.
	Ports map[transport.Kind]int

	Transports []transport.Transport // tried in this order when sending
	Discovery  []discovery.Discovery

	EnableDHT  bool
	DHT        dht.Config
	DHTBackend dht.ValueBackend
	DHTMetrics dht.Metrics

	// PeerStore, when set, records send outcomes and registered peers.
	PeerStore *discovery.PeerStore

	ClientVersion    string
	Logger           telemetry.Logger // system logger
	Debug            bool             // show node-level logs
	SubscriberBuffer int
	DedupeTTL        time.Duration
	Metrics          Metrics
	Clock            clock.Clock
}

type Node struct {
	cfg  NodeConfig
	self proto.NodeID
	clk  clock.Clock

	transports []transport.Transport
	discovery  []discovery.Discovery
	dht        *dht.DHT

	mu    sync.Mutex
	peers map[proto.NodeID]*peer.Peer

	lifeMu     sync.Mutex
	connected  bool
	closed     bool
	trsClosed  bool
	loopsAlive bool
	loops      sync.WaitGroup

	localMu sync.Mutex
	local   proto.PeerInfo

	ctx    context.Context
	cancel context.CancelFunc

	hub     *hub
	seen    *seenCache
	events  chan Event
	metrics Metrics
}

func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = DefaultClientVersion
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = DefaultDedupeTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	self := proto.RandomNodeID()
	if cfg.ID != nil {
		self = *cfg.ID
	}
	if self.IsZero() {
		return nil, errors.New("p2p: zero node id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		self:       self,
		clk:        cfg.Clock,
		transports: append([]transport.Transport(nil), cfg.Transports...),
		discovery:  append([]discovery.Discovery(nil), cfg.Discovery...),
		peers:      make(map[proto.NodeID]*peer.Peer),
		ctx:        ctx,
		cancel:     cancel,
		seen:       newSeenCache(cfg.DedupeTTL),
		events:     make(chan Event, 128),
		metrics:    cfg.Metrics,
	}
	n.hub = newHub(cfg.SubscriberBuffer, n.metrics.IncSubscriberMissed)
	n.local = proto.PeerInfo{ID: self, ClientVersion: cfg.ClientVersion}

	if cfg.EnableDHT {
		opts := []dht.Option{
			dht.WithSender(n),
			dht.WithLogger(cfg.Logger),
			dht.WithConfig(cfg.DHT),
			dht.WithClock(cfg.Clock),
		}
		if cfg.DHTMetrics != nil {
			opts = append(opts, dht.WithMetrics(cfg.DHTMetrics))
		}
		if cfg.DHTBackend != nil {
			opts = append(opts, dht.WithValueBackend(cfg.DHTBackend))
		}
		n.dht = dht.New(self, opts...)
	}
	return n, nil
}

// ID returns this node's id.
func (n *Node) ID() proto.NodeID { return n.self }

// DHT returns the node's DHT, or nil when disabled.
func (n *Node) DHT() *dht.DHT { return n.dht }

// LocalInfo is the PeerInfo this node advertises. Address and protocols
// are empty until Connect.
func (n *Node) LocalInfo() proto.PeerInfo {
	n.localMu.Lock()
	defer n.localMu.Unlock()
	return n.local.Clone()
}

// Events returns a channel of peer lifecycle events. Events are dropped
// when nobody reads.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
	}
}

// Incoming subscribes to inbound messages. The subscription sees every
// message published after this call.
func (n *Node) Incoming() *Subscription { return n.hub.subscribe() }

// Close disconnects, stops background loops and closes every
// subscription. The node cannot be reused.
func (n *Node) Close() error {
	err := n.Disconnect()

	n.lifeMu.Lock()
	n.closed = true
	n.lifeMu.Unlock()

	n.cancel()
	n.hub.close()
	n.seen.close()
	return err
}
