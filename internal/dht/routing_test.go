package dht

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"testing"

	"p2p-overlay/internal/proto"
)

func randID(t testing.TB) proto.NodeID {
	t.Helper()
	var id proto.NodeID
	_, err := rand.Read(id[:])
	if err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return id
}

func info(id proto.NodeID) proto.PeerInfo {
	return proto.PeerInfo{ID: id, Address: "127.0.0.1:1234"}
}

func TestXorSymmetry(t *testing.T) {
	a := randID(t)
	b := randID(t)
	if proto.Xor(a, b) != proto.Xor(b, a) {
		t.Fatalf("xor not symmetric")
	}
	if !proto.Xor(a, a).IsZero() {
		t.Fatalf("xor(a,a) should be zero")
	}
	if got := proto.BucketIndex(a, a); got != 0 {
		t.Fatalf("expected bucket 0 for zero distance, got %d", got)
	}
}

func TestRoutingTable_ZeroSelfScenario(t *testing.T) {
	var self proto.NodeID
	var high, low proto.NodeID
	high[0] = 0x80
	low[proto.NodeIDBytes-1] = 0x01

	rt := NewRoutingTable(self, DefaultK)
	rt.Upsert(info(high))
	rt.Upsert(info(low))

	if got := rt.BucketSize(0); got != 1 {
		t.Fatalf("bucket 0 should hold the 0x80.. peer, got size %d", got)
	}
	if got := rt.BucketSize(255); got != 1 {
		t.Fatalf("bucket 255 should hold the ..01 peer, got size %d", got)
	}

	got := rt.Closest(low, DefaultK)
	if len(got) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(got))
	}
	if got[0].ID != low || got[1].ID != high {
		t.Fatalf("expected ..01 ranked ahead of 0x80.., got %s then %s", got[0].ID, got[1].ID)
	}
}

func TestRoutingTable_SelfNeverInserted(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, DefaultK)
	if res := rt.Upsert(info(self)); res != Rejected {
		t.Fatalf("expected Rejected, got %v", res)
	}
	if rt.Size() != 0 {
		t.Fatalf("table should be empty")
	}
}

func TestRoutingTable_ClosestSortedByDistance(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, 8)

	target := randID(t)

	for i := 0; i < 200; i++ {
		rt.Upsert(info(randID(t)))
	}

	for _, n := range []int{1, 5, 10, 40} {
		got := rt.Closest(target, n)
		if len(got) == 0 {
			t.Fatalf("expected some closest nodes")
		}
		if len(got) > n {
			t.Fatalf("expected <=%d, got %d", n, len(got))
		}
		for i := 1; i < len(got); i++ {
			prev := proto.Xor(got[i-1].ID, target)
			cur := proto.Xor(got[i].ID, target)
			if bytes.Compare(prev[:], cur[:]) > 0 {
				t.Fatalf("closest(%d) not sorted at i=%d", n, i)
			}
		}
	}
}

func TestDHT_GetClosestPeersNonPositiveLimit(t *testing.T) {
	d := New(randID(t))
	for i := 0; i < 5; i++ {
		d.AddPeer(info(randID(t)))
	}
	target := randID(t)

	for _, limit := range []int{0, -1} {
		if got := d.GetClosestPeers(target, limit); len(got) != 0 {
			t.Fatalf("GetClosestPeers(limit=%d) returned %d entries, want 0", limit, len(got))
		}
	}
	if got := d.GetClosestPeers(target, 3); len(got) != 3 {
		t.Fatalf("GetClosestPeers(limit=3) returned %d entries", len(got))
	}
}

func TestRoutingTable_VisibleBelowCapacity(t *testing.T) {
	self := randID(t)
	rt := NewRoutingTable(self, DefaultK)

	var added []proto.NodeID
	for i := 0; i < 100; i++ {
		id := randID(t)
		if rt.Upsert(info(id)) == Inserted {
			added = append(added, id)
		}
	}
	for _, id := range added {
		got := rt.Closest(id, DefaultK)
		if len(got) == 0 || got[0].ID != id {
			t.Fatalf("peer %s not visible as its own closest", id)
		}
	}
}

func TestRoutingTable_RefreshMovesToFront(t *testing.T) {
	var self proto.NodeID
	rt := NewRoutingTable(self, 3)

	// All three share bucket 0 (high bit set).
	ids := make([]proto.NodeID, 3)
	for i := range ids {
		ids[i][0] = 0x80
		ids[i][31] = byte(i + 1)
		rt.Upsert(info(ids[i]))
	}

	p := info(ids[0])
	p.Address = "10.0.0.9:9000"
	if res := rt.Upsert(p); res != Refreshed {
		t.Fatalf("expected Refreshed, got %v", res)
	}

	c := rt.Contacts()
	if c[0].Info.ID != ids[0] {
		t.Fatalf("refreshed contact should be at the LRU front")
	}
	if c[0].Info.Address != "10.0.0.9:9000" {
		t.Fatalf("address not updated: %q", c[0].Info.Address)
	}
}

func TestRoutingTable_FullBucketWithoutPingDrops(t *testing.T) {
	var self proto.NodeID
	rt := NewRoutingTable(self, 2)

	mk := func(b byte) proto.NodeID {
		var id proto.NodeID
		id[0] = 0x80
		id[31] = b
		return id
	}
	rt.Upsert(info(mk(1)))
	rt.Upsert(info(mk(2)))

	if res := rt.Upsert(info(mk(3))); res != BucketFull {
		t.Fatalf("expected BucketFull, got %v", res)
	}
	if rt.BucketSize(0) != 2 || rt.Contains(mk(3)) {
		t.Fatalf("bucket must not exceed K")
	}
}

func TestRoutingTable_EvictionPingAndReplace(t *testing.T) {
	var self proto.NodeID
	rt := NewRoutingTable(self, 2)

	mk := func(b byte) proto.NodeID {
		var id proto.NodeID
		id[0] = 0x80
		id[31] = b
		return id
	}
	rt.Upsert(info(mk(1)))
	rt.Upsert(info(mk(2))) // LRU tail is mk(1)

	// Alive tail: newcomer parked as replacement.
	res := rt.UpsertWithEviction(info(mk(3)), func(c Contact) bool {
		if c.Info.ID != mk(1) {
			t.Fatalf("expected to ping LRU tail, pinged %s", c.Info.ID)
		}
		return true
	})
	if res != BucketFull || rt.Contains(mk(3)) {
		t.Fatalf("alive tail must be kept, got %v", res)
	}
	if rt.ReplacementSize(0) != 1 {
		t.Fatalf("newcomer should be in replacement cache")
	}

	// Dead tail: evicted.
	res = rt.UpsertWithEviction(info(mk(4)), func(Contact) bool { return false })
	if res != Inserted || !rt.Contains(mk(4)) || rt.Contains(mk(1)) {
		t.Fatalf("dead tail should be replaced, got %v", res)
	}

	// Removal promotes from the replacement cache.
	if !rt.Remove(mk(2)) {
		t.Fatalf("remove should report true")
	}
	if !rt.Contains(mk(3)) {
		t.Fatalf("replacement should be promoted on remove")
	}
}

func TestRoutingTable_DiversityLimit(t *testing.T) {
	var self proto.NodeID
	rt := NewRoutingTable(self, DefaultK)
	rt.SetDiversityLimit(2)

	for i := 0; i < 3; i++ {
		var id proto.NodeID
		id[0] = 0x80
		id[31] = byte(i + 1)
		res := rt.Upsert(proto.PeerInfo{ID: id, Address: fmt.Sprintf("192.168.1.%d:4000", i+1)})
		if i < 2 && res != Inserted {
			t.Fatalf("peer %d should be inserted, got %v", i, res)
		}
		if i == 2 && res != Rejected {
			t.Fatalf("third peer from the same /24 should be rejected, got %v", res)
		}
	}
}
