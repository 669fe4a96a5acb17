package p2p

import (
	"context"
	"errors"
	"testing"
	"time"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/peer"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

func TestDiscoverPeers_Union(t *testing.T) {
	hub := transport.NewHub()
	shared := proto.PeerInfo{ID: proto.RandomNodeID(), Address: "10.0.0.1:1"}
	only := proto.PeerInfo{ID: proto.RandomNodeID(), Address: "10.0.0.2:1"}

	d1 := &fakeDiscovery{name: "one", peers: []proto.PeerInfo{shared}}
	d2 := &fakeDiscovery{name: "two", peers: []proto.PeerInfo{shared, only}}
	n := newTestNode(t, hub, WithDiscovery(d1, d2))

	// the node's own entry is filtered out
	d2.peers = append(d2.peers, n.LocalInfo())

	got, err := n.DiscoverPeers(context.Background())
	if err != nil {
		t.Fatalf("DiscoverPeers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d peers, want 3 with the duplicate kept: %+v", len(got), got)
	}
	if n.PeerCount() != 2 {
		t.Fatalf("registry has %d peers, want 2", n.PeerCount())
	}
	snap, ok := n.Peer(only.ID)
	if !ok || snap.Status != peer.Disconnected {
		t.Fatalf("discovered peer should be registered disconnected: %+v", snap)
	}
}

func TestDiscoverPeers_FirstErrorAborts(t *testing.T) {
	hub := transport.NewHub()
	boom := errors.New("socket gone")
	good := &fakeDiscovery{name: "good", peers: []proto.PeerInfo{{ID: proto.RandomNodeID(), Address: "10.0.0.3:1"}}}
	bad := &fakeDiscovery{name: "bad", err: boom}
	n := newTestNode(t, hub, WithDiscovery(good, bad))

	_, err := n.DiscoverPeers(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if errs.KindOf(err) != errs.KindDiscovery {
		t.Fatalf("kind = %s, want discovery", errs.KindOf(err))
	}
	if n.PeerCount() != 0 {
		t.Fatalf("aborted round must not register peers")
	}
}

func TestDiscoverPeers_ThroughDHT(t *testing.T) {
	hub := transport.NewHub()
	a := newTestNode(t, hub, WithDHT())
	b := newTestNode(t, hub, WithDHT())
	c := newTestNode(t, hub, WithDHT())

	// a -> b -> c: a can only learn c through b's routing table.
	a.AddPeer(b.LocalInfo())
	b.AddPeer(c.LocalInfo())

	got, err := a.DiscoverPeers(context.Background())
	if err != nil {
		t.Fatalf("DiscoverPeers: %v", err)
	}
	found := false
	for _, p := range got {
		if p.ID == c.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("c not discovered through b: %+v", got)
	}
	if _, ok := a.Peer(c.ID()); !ok {
		t.Fatalf("c not registered at a")
	}
}

func TestRunDiscovery_StopsOnCancel(t *testing.T) {
	hub := transport.NewHub()
	fd := &fakeDiscovery{name: "tick"}
	n := newTestNode(t, hub, WithDiscovery(fd))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.RunDiscovery(ctx, 10*time.Millisecond)
		close(done)
	}()

	waitFor(t, 2*time.Second, "repeated discovery rounds", func() bool { return fd.discoverCalls() >= 3 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunDiscovery did not return after cancel")
	}
}

func TestRunDiscovery_StopsOnClose(t *testing.T) {
	hub := transport.NewHub()
	fd := &fakeDiscovery{name: "failing", err: errors.New("down")}
	n := newTestNode(t, hub, WithDiscovery(fd))

	done := make(chan struct{})
	go func() {
		n.RunDiscovery(context.Background(), 20*time.Millisecond)
		close(done)
	}()
	waitFor(t, 2*time.Second, "a retry after failure", func() bool { return fd.discoverCalls() >= 2 })
	_ = n.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunDiscovery did not return after Close")
	}
}
