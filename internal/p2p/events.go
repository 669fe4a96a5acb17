package p2p

import "p2p-overlay/internal/proto"

type EventType string

const (
	EventPeerDiscovered   EventType = "peer_discovered"
	EventPeerConnected    EventType = "peer_connected"
	EventPeerDisconnected EventType = "peer_disconnected"
	EventPeerRemoved      EventType = "peer_removed"
)

type Event struct {
	Type     EventType
	PeerID   proto.NodeID
	PeerAddr string
	Err      string
}
