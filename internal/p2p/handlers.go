package p2p

import (
	"p2p-overlay/internal/peer"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

func (n *Node) handlePacket(kind transport.Kind, pkt transport.Packet) {
	msg, err := proto.Unmarshal(pkt.Data)
	if err != nil {
		n.metrics.IncDropped()
		n.Logf("bad unit from %s://%s: %v", kind, pkt.From, err)
		return
	}
	if msg.From == n.self {
		return
	}
	if n.seen.Seen(msg.ID) {
		n.metrics.IncDropped()
		return
	}
	if msg.To != nil && *msg.To != n.self {
		n.metrics.IncDropped()
		n.Logf("dropping %s for %s", msg.Type, *msg.To)
		return
	}
	n.metrics.IncReceived(msg.Type.String())

	n.touch(msg, kind, pkt.From)

	if msg.IsDHT() && n.dht != nil {
		n.dht.HandleMessage(msg, pkt.From)
	}
	n.hub.publish(msg)
}

// touch registers or refreshes the sender. A DHT payload's advertised
// origin beats the transport source address, which may be ephemeral.
func (n *Node) touch(msg proto.Message, kind transport.Kind, source string) {
	info := proto.PeerInfo{ID: msg.From, Address: source, Protocols: []string{kind.String()}}
	advertised := false
	if msg.IsDHT() {
		if w, err := proto.DecodeDHT(msg); err == nil && w.Origin != nil && w.Origin.ID == msg.From && w.Origin.HasAddress() {
			info = w.Origin.Clone()
			advertised = true
		}
	}

	n.mu.Lock()
	p, ok := n.peers[msg.From]
	if !ok {
		p = peer.NewWithClock(info, n.clk)
		n.peers[msg.From] = p
	}
	count := len(n.peers)
	n.mu.Unlock()

	if !ok {
		n.metrics.SetPeerCount(count)
		n.emit(Event{Type: EventPeerDiscovered, PeerID: info.ID, PeerAddr: info.Address})
	} else if advertised || !p.Info().HasAddress() {
		p.SetInfo(info)
	}
	n.markAlive(p)
}
