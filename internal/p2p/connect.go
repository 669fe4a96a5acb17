package p2p

import (
	"context"
	"net"

	"go.uber.org/multierr"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

// Advertiser is implemented by discovery mechanisms that announce the
// local node, such as LAN and mDNS.
type Advertiser interface {
	Advertise(info proto.PeerInfo)
}

func (n *Node) portFor(k transport.Kind) int {
	if p, ok := n.cfg.Ports[k]; ok {
		return p
	}
	return n.cfg.Port
}

// Connect starts every transport listening, then the discovery mechanisms,
// the inbound loops and the DHT. The first listen error aborts and is
// returned; transports already bound are closed. Connecting a connected
// node does nothing.
func (n *Node) Connect(ctx context.Context) error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()
	if n.closed || n.trsClosed {
		return errs.E(errs.KindNetwork, "connect", ErrClosed)
	}
	if n.connected {
		return nil
	}

	bound := make([]string, len(n.transports))
	for i, tr := range n.transports {
		if err := ctx.Err(); err != nil {
			return n.abortConnect(err)
		}
		addr, err := tr.Listen(n.cfg.ListenAddr, n.portFor(tr.Kind()))
		if err != nil {
			return n.abortConnect(errs.E(errs.KindTransport, "listen "+tr.Kind().String(), err))
		}
		bound[i] = addr
		n.Logf("listening on %s://%s", tr.Kind(), addr)
	}
	local := n.advertised(bound)
	n.localMu.Lock()
	n.local = local
	n.localMu.Unlock()

	var started []int
	for i, d := range n.discovery {
		if a, ok := d.(Advertiser); ok {
			a.Advertise(local.Clone())
		}
		if err := d.Start(); err != nil {
			for _, j := range started {
				_ = n.discovery[j].Stop()
			}
			return n.abortConnect(errs.E(errs.KindDiscovery, "start "+d.Name(), err))
		}
		started = append(started, i)
	}

	if !n.loopsAlive {
		for _, tr := range n.transports {
			n.loops.Add(1)
			go n.readLoop(tr)
		}
		n.loopsAlive = true
	}
	if n.dht != nil {
		n.dht.Start()
	}
	n.connected = true
	return nil
}

// abortConnect closes every transport after a failed Connect so nothing is
// left bound without a reader. Transports cannot be reopened; the node stays
// closed. Must hold lifeMu.
func (n *Node) abortConnect(cause error) error {
	for _, tr := range n.transports {
		if err := tr.Close(); err != nil {
			n.Logf("closing %s after failed connect: %v", tr.Kind(), err)
		}
	}
	n.trsClosed = true
	return cause
}

// advertised derives the local PeerInfo: the first transport's address,
// and every transport kind reachable at that same address.
func (n *Node) advertised(bound []string) proto.PeerInfo {
	info := proto.PeerInfo{ID: n.self, ClientVersion: n.cfg.ClientVersion}
	if len(bound) == 0 {
		return info
	}
	info.Address = bound[0]
	for i, tr := range n.transports {
		if sameEndpoint(bound[i], info.Address) {
			info.Protocols = append(info.Protocols, tr.Kind().String())
		}
	}
	return info
}

func sameEndpoint(a, b string) bool {
	if a == b {
		return true
	}
	ha, pa, err1 := net.SplitHostPort(a)
	hb, pb, err2 := net.SplitHostPort(b)
	if err1 != nil || err2 != nil || pa != pb {
		return false
	}
	ia, ib := net.ParseIP(ha), net.ParseIP(hb)
	return ia != nil && ib != nil && ia.Equal(ib)
}

// Disconnect stops discovery and the DHT and closes every transport.
// Transports cannot be reopened, so a disconnected node stays offline.
func (n *Node) Disconnect() error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()

	var err error
	if n.connected {
		for _, d := range n.discovery {
			err = multierr.Append(err, d.Stop())
		}
		if n.dht != nil {
			n.dht.Stop()
		}
		n.connected = false
	}
	if !n.trsClosed {
		for _, tr := range n.transports {
			err = multierr.Append(err, tr.Close())
		}
		n.trsClosed = true
		n.loops.Wait()
		n.loopsAlive = false
	}
	if err != nil {
		return errs.E(errs.KindTransport, "disconnect", err)
	}
	return nil
}

func (n *Node) Connected() bool {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()
	return n.connected
}
