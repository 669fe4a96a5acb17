package p2p

import (
	"time"

	"p2p-overlay/internal/peer"
	"p2p-overlay/internal/proto"
)

// PeerSnapshot is a read-only view of a registry entry.
type PeerSnapshot struct {
	Info           proto.PeerInfo
	Status         peer.Status
	FailedAttempts int
	FirstSeen      time.Time
	LastSeen       time.Time
}

func snapshot(p *peer.Peer) PeerSnapshot {
	return PeerSnapshot{
		Info:           p.Info(),
		Status:         p.Status(),
		FailedAttempts: p.FailedAttempts(),
		FirstSeen:      p.FirstSeen(),
		LastSeen:       p.LastSeen(),
	}
}

// register adds info as a Disconnected peer unless its id is already
// known. A known peer without an address adopts the new one.
func (n *Node) register(info proto.PeerInfo) bool {
	if info.ID == n.self || info.ID.IsZero() {
		return false
	}

	n.mu.Lock()
	p, exists := n.peers[info.ID]
	if !exists {
		p = peer.NewWithClock(info, n.clk)
		n.peers[info.ID] = p
	}
	count := len(n.peers)
	n.mu.Unlock()

	if exists {
		if info.HasAddress() && !p.Info().HasAddress() {
			p.SetInfo(info)
		}
		return false
	}

	n.metrics.SetPeerCount(count)
	if n.dht != nil && info.HasAddress() {
		n.dht.AddPeer(info)
	}
	if ps := n.cfg.PeerStore; ps != nil && info.HasAddress() {
		if err := ps.NoteSeen(info); err != nil {
			n.Logf("peerstore: %v", err)
		}
	}
	n.emit(Event{Type: EventPeerDiscovered, PeerID: info.ID, PeerAddr: info.Address})
	return true
}

// AddPeer registers info. It reports whether the id was new.
func (n *Node) AddPeer(info proto.PeerInfo) bool { return n.register(info) }

// RemovePeer drops id from the registry and the DHT.
func (n *Node) RemovePeer(id proto.NodeID) bool {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	count := len(n.peers)
	n.mu.Unlock()

	if !ok {
		return false
	}
	n.metrics.SetPeerCount(count)
	if n.dht != nil {
		n.dht.RemovePeer(id)
	}
	n.emit(Event{Type: EventPeerRemoved, PeerID: id, PeerAddr: p.Info().Address})
	return true
}

func (n *Node) lookupPeer(id proto.NodeID) (*peer.Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

func (n *Node) registry() []*peer.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*peer.Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Peers returns a point-in-time snapshot of every known peer.
func (n *Node) Peers() []proto.PeerInfo {
	ps := n.registry()
	out := make([]proto.PeerInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Info())
	}
	return out
}

func (n *Node) Peer(id proto.NodeID) (PeerSnapshot, bool) {
	p, ok := n.lookupPeer(id)
	if !ok {
		return PeerSnapshot{}, false
	}
	return snapshot(p), true
}

// PeerCount returns the current number of known peers.
func (n *Node) PeerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

// StalePeers lists peers not heard from within timeout. Nothing is
// evicted; that is the caller's call.
func (n *Node) StalePeers(timeout time.Duration) []proto.PeerInfo {
	var out []proto.PeerInfo
	for _, p := range n.registry() {
		if p.IsStale(timeout) {
			out = append(out, p.Info())
		}
	}
	return out
}

// markAlive records a live signal from p.
func (n *Node) markAlive(p *peer.Peer) {
	was := p.Status()
	p.SetStatus(peer.Connected)
	p.UpdateLastSeen()
	if was == peer.Connected {
		return
	}
	info := p.Info()
	if ps := n.cfg.PeerStore; ps != nil && info.HasAddress() {
		if err := ps.NoteSuccess(info); err != nil {
			n.Logf("peerstore: %v", err)
		}
	}
	n.emit(Event{Type: EventPeerConnected, PeerID: info.ID, PeerAddr: info.Address})
}

// markFailed records a failed contact attempt.
func (n *Node) markFailed(p *peer.Peer, err error) {
	was := p.Status()
	p.SetStatus(peer.Disconnected)
	p.IncrementFailedAttempts()
	info := p.Info()
	if ps := n.cfg.PeerStore; ps != nil && info.HasAddress() {
		if perr := ps.NoteFailure(info); perr != nil {
			n.Logf("peerstore: %v", perr)
		}
	}
	if was == peer.Connected {
		n.emit(Event{Type: EventPeerDisconnected, PeerID: info.ID, PeerAddr: info.Address, Err: err.Error()})
	}
}
