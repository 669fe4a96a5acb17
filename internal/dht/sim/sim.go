package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/proto"
)

// Network is an in-process deterministic "transport" for DHT testing.
// It is NOT production networking; it exists to measure algorithmic behavior.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Node // keyed by address

	// Simulation knobs
	Latency  time.Duration // fixed latency per message
	DropRate float64       // 0..1

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewNetwork(seed int64) *Network {
	return &Network{
		nodes: make(map[string]*Node),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (nw *Network) Add(node *Node) {
	nw.mu.Lock()
	nw.nodes[node.info.Address] = node
	nw.mu.Unlock()
}

// Remove takes a node offline; messages to it fail.
func (nw *Network) Remove(addr string) {
	nw.mu.Lock()
	delete(nw.nodes, addr)
	nw.mu.Unlock()
}

func (nw *Network) drop() bool {
	if nw.DropRate <= 0 {
		return false
	}
	nw.rngMu.Lock()
	defer nw.rngMu.Unlock()
	return nw.rng.Float64() < nw.DropRate
}

func (nw *Network) deliver(ctx context.Context, from *Node, to proto.PeerInfo, msg proto.Message) error {
	nw.mu.RLock()
	dst := nw.nodes[to.Address]
	nw.mu.RUnlock()
	if dst == nil {
		return fmt.Errorf("sim: unknown address %s", to.Address)
	}
	if dst.info.ID != to.ID {
		return fmt.Errorf("sim: %s is not at %s", to.ID, to.Address)
	}
	if nw.drop() {
		return nil
	}
	if nw.Latency > 0 {
		select {
		case <-time.After(nw.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go dst.dht.HandleMessage(msg, from.info.Address)
	return nil
}

// Node implements dht.Sender for simulation.
type Node struct {
	nw   *Network
	info proto.PeerInfo
	dht  *dht.DHT
}

// NewNode creates a DHT wired to nw and registers it at addr.
func NewNode(nw *Network, id proto.NodeID, addr string, opts ...dht.Option) *Node {
	n := &Node{nw: nw, info: proto.PeerInfo{ID: id, Address: addr}}
	n.dht = dht.New(id, append([]dht.Option{dht.WithSender(n)}, opts...)...)
	nw.Add(n)
	return n
}

func (n *Node) LocalInfo() proto.PeerInfo { return n.info }

func (n *Node) SendMessage(ctx context.Context, to proto.PeerInfo, msg proto.Message) error {
	return n.nw.deliver(ctx, n, to, msg)
}

func (n *Node) Logf(format string, args ...any) {}

func (n *Node) DHT() *dht.DHT { return n.dht }
