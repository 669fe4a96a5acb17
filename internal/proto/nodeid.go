package proto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

const NodeIDBytes = 32

// NodeID is a 256-bit overlay identifier. It doubles as a coordinate in the
// DHT key space.
type NodeID [NodeIDBytes]byte

// NodeIDFromBytes copies b into a NodeID. Only canonical-length ids are
// accepted.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDBytes {
		return id, fmt.Errorf("node id must be %d bytes, got %d", NodeIDBytes, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func ParseNodeIDHex(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeIDFromBytes(b)
}

func MustParseNodeIDHex(s string) NodeID {
	id, err := ParseNodeIDHex(s)
	if err != nil {
		panic(err)
	}
	return id
}

func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

func (id NodeID) Hex() string { return hex.EncodeToString(id[:]) }

// String is the short form used in logs.
func (id NodeID) String() string { return id.Hex()[:8] }

func (id NodeID) Base58() string { return base58.Encode(id[:]) }

func (id NodeID) IsZero() bool { return id == NodeID{} }

// XOR distance: d = a ^ b
func Xor(a, b NodeID) (out NodeID) {
	for i := 0; i < NodeIDBytes; i++ {
		out[i] = a[i] ^ b[i]
	}
	return
}

// XorBytes is the XOR distance of two opaque ids, computed over the shorter
// operand.
func XorBytes(a, b []byte) []byte {
	n := min(len(a), len(b))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// DistanceLess reports whether a is strictly closer to target than b.
func DistanceLess(a, b, target NodeID) bool {
	da, db := Xor(a, target), Xor(b, target)
	return bytes.Compare(da[:], db[:]) < 0
}

// BucketIndex returns [0..255] for 256-bit IDs: the MSB-first offset of the
// first set bit of a XOR b. Identical ids map to 0.
func BucketIndex(self, other NodeID) int {
	d := Xor(self, other)
	return LeadingBitIndex(d[:])
}

// LeadingBitIndex scans d from the most significant byte, bit 7 down to 0,
// and returns the offset of the first set bit. All-zero input returns 0.
func LeadingBitIndex(d []byte) int {
	for byteIdx, x := range d {
		if x == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if x&(1<<(7-bit)) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return 0
}
