package dht

import (
	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/proto"
)

// KeyTarget maps an opaque value key into the id space.
func KeyTarget(key []byte) proto.NodeID {
	return proto.NodeID(crypto.Blake3Sum256(key))
}
