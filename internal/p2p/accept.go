package p2p

import "p2p-overlay/internal/transport"

// readLoop feeds one transport's inbound units to handlePacket until the
// transport closes its channel.
func (n *Node) readLoop(tr transport.Transport) {
	defer n.loops.Done()
	kind := tr.Kind()
	for pkt := range tr.Incoming() {
		n.handlePacket(kind, pkt)
	}
}
