package dht

import (
	"bytes"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"p2p-overlay/internal/proto"
)

const (
	numBuckets = proto.NodeIDBytes * 8
	replMax    = 10
)

// Contact is a routing table entry.
type Contact struct {
	Info     proto.PeerInfo
	LastSeen time.Time
}

type bucket struct {
	nodes []Contact // LRU: index 0 = most recently seen; end = least
	repl  []Contact // replacement cache (bounded)
}

type DiversityPolicy struct {
	MaxPerSubnet int // 0 disables the check
}

// UpsertResult tells the caller what happened to the contact.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Refreshed
	BucketFull
	Rejected
)

type RoutingTable struct {
	self proto.NodeID
	k    int
	now  func() time.Time

	mu      sync.Mutex
	buckets [numBuckets]bucket

	diversity DiversityPolicy
}

func NewRoutingTable(self proto.NodeID, k int) *RoutingTable {
	if k <= 0 {
		k = DefaultK
	}
	return &RoutingTable{self: self, k: k, now: time.Now}
}

// Upsert is a "no-network" upsert: it maintains LRU ordering. If the bucket
// is full the contact is not inserted and BucketFull is returned; the caller
// decides whether to run UpsertWithEviction.
func (rt *RoutingTable) Upsert(info proto.PeerInfo) UpsertResult {
	return rt.upsertLRU(info, nil)
}

// PingFunc returns true if the contact is alive.
type PingFunc func(Contact) bool

// UpsertWithEviction implements Kademlia bucket semantics:
// - If node exists: move-to-front
// - Else if space: insert at front
// - Else ping LRU tail: if dead -> evict tail, insert new; if alive -> keep tail, add new to replacement cache.
func (rt *RoutingTable) UpsertWithEviction(info proto.PeerInfo, ping PingFunc) UpsertResult {
	return rt.upsertLRU(info, ping)
}

func (rt *RoutingTable) upsertLRU(info proto.PeerInfo, ping PingFunc) UpsertResult {
	id := info.ID
	if id == rt.self {
		return Rejected
	}
	bi := proto.BucketIndex(rt.self, id)
	now := rt.now()

	rt.mu.Lock()
	b := rt.buckets[bi]

	for i := range b.nodes {
		if b.nodes[i].Info.ID == id {
			c := b.nodes[i]
			if info.Address != "" {
				c.Info.Address = info.Address
			}
			if len(info.Protocols) > 0 {
				c.Info.Protocols = slices.Clone(info.Protocols)
			}
			if info.ClientVersion != "" {
				c.Info.ClientVersion = info.ClientVersion
			}
			c.LastSeen = now

			copy(b.nodes[i:], b.nodes[i+1:])
			b.nodes = b.nodes[:len(b.nodes)-1]
			b.nodes = append([]Contact{c}, b.nodes...)

			rt.buckets[bi] = b
			rt.mu.Unlock()
			return Refreshed
		}
	}

	c := Contact{Info: info.Clone(), LastSeen: now}

	// Anti-eclipse diversity: cap number of nodes from the same subnet per bucket.
	if maxPerSubnet := rt.diversity.MaxPerSubnet; maxPerSubnet > 0 {
		if sk := subnetKey(c.Info.Address); sk != "" {
			cnt := 0
			for i := range b.nodes {
				if subnetKey(b.nodes[i].Info.Address) == sk {
					cnt++
				}
			}
			if cnt >= maxPerSubnet {
				rt.mu.Unlock()
				return Rejected
			}
		}
	}

	// Space available => insert at front
	if len(b.nodes) < rt.k {
		b.nodes = append([]Contact{c}, b.nodes...)
		rt.buckets[bi] = b
		rt.mu.Unlock()
		return Inserted
	}

	if ping == nil {
		rt.mu.Unlock()
		return BucketFull
	}

	// Ping LRU tail outside lock to avoid blocking the entire table.
	tail := b.nodes[len(b.nodes)-1]
	rt.mu.Unlock()

	alive := ping(tail)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	b = rt.buckets[bi]

	if len(b.nodes) < rt.k {
		b.nodes = append([]Contact{c}, b.nodes...)
		rt.buckets[bi] = b
		return Inserted
	}

	// Re-identify tail (could have changed)
	curTail := b.nodes[len(b.nodes)-1]

	if alive || curTail.Info.ID != tail.Info.ID {
		// Keep tail, drop new from main list, but keep as replacement
		rt.buckets[bi] = addReplacement(b, c)
		return BucketFull
	}

	b.nodes = b.nodes[:len(b.nodes)-1]
	b.nodes = append([]Contact{c}, b.nodes...)
	rt.buckets[bi] = b
	return Inserted
}

func addReplacement(b bucket, c Contact) bucket {
	for i := range b.repl {
		if b.repl[i].Info.ID == c.Info.ID {
			return b
		}
	}
	b.repl = append([]Contact{c}, b.repl...)
	if len(b.repl) > replMax {
		b.repl = b.repl[:replMax]
	}
	return b
}

// AddReplacement parks info in its bucket's replacement cache unless it is
// already an active contact.
func (rt *RoutingTable) AddReplacement(info proto.PeerInfo) {
	if info.ID == rt.self {
		return
	}
	bi := proto.BucketIndex(rt.self, info.ID)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[bi]
	for i := range b.nodes {
		if b.nodes[i].Info.ID == info.ID {
			return
		}
	}
	rt.buckets[bi] = addReplacement(b, Contact{Info: info.Clone(), LastSeen: rt.now()})
}

// Remove drops id and promotes the freshest replacement, if any.
func (rt *RoutingTable) Remove(id proto.NodeID) bool {
	bi := proto.BucketIndex(rt.self, id)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[bi]

	for i := range b.nodes {
		if b.nodes[i].Info.ID != id {
			continue
		}
		b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
		if len(b.repl) > 0 {
			b.nodes = append(b.nodes, b.repl[0])
			b.repl = b.repl[1:]
		}
		rt.buckets[bi] = b
		return true
	}
	for i := range b.repl {
		if b.repl[i].Info.ID == id {
			b.repl = append(b.repl[:i], b.repl[i+1:]...)
			rt.buckets[bi] = b
			return false
		}
	}
	return false
}

func (rt *RoutingTable) Contains(id proto.NodeID) bool {
	bi := proto.BucketIndex(rt.self, id)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, c := range rt.buckets[bi].nodes {
		if c.Info.ID == id {
			return true
		}
	}
	return false
}

// Closest returns up to n contacts ordered by XOR distance to target.
//
// Candidates are gathered starting from target's bucket and widening
// symmetrically (idx-1, idx+1, ...) until n are collected or both ends are
// exhausted, then sorted by true distance. Bucket order alone is not a total
// order on distance, hence the final sort. A non-positive n yields nothing.
func (rt *RoutingTable) Closest(target proto.NodeID, n int) []proto.PeerInfo {
	if n <= 0 {
		return []proto.PeerInfo{}
	}
	idx := proto.BucketIndex(rt.self, target)

	rt.mu.Lock()
	cands := make([]proto.PeerInfo, 0, n+rt.k)
	for _, c := range rt.buckets[idx].nodes {
		cands = append(cands, c.Info.Clone())
	}
	for off := 1; len(cands) < n; off++ {
		lo, hi := idx-off, idx+off
		if lo < 0 && hi >= numBuckets {
			break
		}
		if lo >= 0 {
			for _, c := range rt.buckets[lo].nodes {
				cands = append(cands, c.Info.Clone())
			}
		}
		if hi < numBuckets {
			for _, c := range rt.buckets[hi].nodes {
				cands = append(cands, c.Info.Clone())
			}
		}
	}
	rt.mu.Unlock()

	SortByDistance(cands, target)
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// SortByDistance sorts peers by XOR distance to target, closest first.
func SortByDistance(peers []proto.PeerInfo, target proto.NodeID) {
	slices.SortStableFunc(peers, func(a, b proto.PeerInfo) int {
		da, db := proto.Xor(a.ID, target), proto.Xor(b.ID, target)
		return bytes.Compare(da[:], db[:])
	})
}

// Contacts returns a copy of every entry, bucket by bucket.
func (rt *RoutingTable) Contacts() []Contact {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []Contact
	for i := 0; i < numBuckets; i++ {
		for _, c := range rt.buckets[i].nodes {
			c.Info = c.Info.Clone()
			out = append(out, c)
		}
	}
	return out
}

// Size returns total number of nodes in the routing table.
func (rt *RoutingTable) Size() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for i := 0; i < numBuckets; i++ {
		n += len(rt.buckets[i].nodes)
	}
	return n
}

// BucketSize returns number of nodes in a bucket.
func (rt *RoutingTable) BucketSize(bucket int) int {
	if bucket < 0 || bucket >= numBuckets {
		return 0
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.buckets[bucket].nodes)
}

func (rt *RoutingTable) ReplacementSize(bucket int) int {
	if bucket < 0 || bucket >= numBuckets {
		return 0
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.buckets[bucket].repl)
}

func (rt *RoutingTable) SetDiversityLimit(maxPerSubnet int) {
	rt.mu.Lock()
	rt.diversity.MaxPerSubnet = maxPerSubnet
	rt.mu.Unlock()
}

func subnetKey(addr string) string {
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = ""
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "dns:" + strings.ToLower(host)
	}

	if ip.IsLoopback() {
		if port != "" {
			return "loopback:" + host + ":" + port
		}
		return "loopback:" + host
	}

	if v4 := ip.To4(); v4 != nil {
		return fmt.Sprintf("v4:%d.%d.%d.0/24", v4[0], v4[1], v4[2])
	}

	ip = ip.To16()
	if ip == nil {
		return "ip:unknown"
	}

	pfx := make(net.IP, 16)
	copy(pfx, ip)
	for i := 8; i < 16; i++ {
		pfx[i] = 0
	}
	return "v6:" + pfx.String() + "/64"
}
