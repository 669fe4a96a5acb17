package p2p

import (
	"bytes"
	"context"
	"testing"
	"time"

	"p2p-overlay/internal/transport"
)

func TestDHT_FindNodeChain(t *testing.T) {
	hub := transport.NewHub()
	a := newTestNode(t, hub, WithDHT())
	b := newTestNode(t, hub, WithDHT())
	c := newTestNode(t, hub, WithDHT())

	a.AddPeer(b.LocalInfo())
	b.AddPeer(c.LocalInfo())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	nodes, err := a.DHT().FindNodes(ctx, c.ID())
	if err != nil {
		t.Fatalf("FindNodes: %v", err)
	}
	if len(nodes) == 0 || nodes[0].ID != c.ID() {
		t.Fatalf("expected c first; nodes=%+v", nodes)
	}
	if !a.DHT().Routing().Contains(c.ID()) {
		t.Fatalf("a's routing table did not learn c")
	}
	if !c.DHT().Routing().Contains(a.ID()) {
		t.Fatalf("c's routing table did not learn a from its query")
	}
}

func TestDHT_PublishAndLookup(t *testing.T) {
	hub := transport.NewHub()
	a := newTestNode(t, hub, WithDHT())
	b := newTestNode(t, hub, WithDHT())
	c := newTestNode(t, hub, WithDHT())
	introduce(a, b, c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key, val := []byte("greeting"), []byte("hello overlay")
	acks, err := a.DHT().Publish(ctx, key, val)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if acks != 2 {
		t.Fatalf("acks = %d, want 2", acks)
	}
	got, err := c.DHT().FindValue(key)
	if err != nil || !bytes.Equal(got, val) {
		t.Fatalf("c local value = %q, %v", got, err)
	}

	d := newTestNode(t, hub, WithDHT())
	d.AddPeer(b.LocalInfo())
	got, err = d.DHT().LookupValue(ctx, key)
	if err != nil || !bytes.Equal(got, val) {
		t.Fatalf("network lookup = %q, %v", got, err)
	}
}

func TestDHT_PingThroughNode(t *testing.T) {
	hub := transport.NewHub()
	a := newTestNode(t, hub, WithDHT())
	b := newTestNode(t, hub, WithDHT())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.DHT().Ping(ctx, b.LocalInfo()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	// a was never told about b; the reply registered it.
	waitFor(t, time.Second, "b registered at a", func() bool {
		_, ok := a.Peer(b.ID())
		return ok
	})
}
