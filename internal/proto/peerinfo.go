package proto

import "slices"

// PeerInfo describes another peer we know about. Produced by discovery or DHT
// lookups; treat it as a value.
type PeerInfo struct {
	ID            NodeID   `json:"id"`
	Address       string   `json:"address,omitempty"` // "" when unknown
	Protocols     []string `json:"protocols,omitempty"`
	ClientVersion string   `json:"client_version,omitempty"`
}

func (p PeerInfo) HasAddress() bool { return p.Address != "" }

func (p PeerInfo) HasProtocol(tag string) bool {
	return slices.Contains(p.Protocols, tag)
}

// Clone returns a copy that shares no memory with p.
func (p PeerInfo) Clone() PeerInfo {
	out := p
	if p.Protocols != nil {
		out.Protocols = slices.Clone(p.Protocols)
	}
	return out
}

// MarshalText/UnmarshalText let NodeID travel as hex in JSON payloads.

func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *NodeID) UnmarshalText(b []byte) error {
	v, err := ParseNodeIDHex(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
