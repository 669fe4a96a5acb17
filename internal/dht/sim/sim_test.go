package sim_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"p2p-overlay/internal/dht"
	sim "p2p-overlay/internal/dht/sim"
	"p2p-overlay/internal/proto"
)

func starNetwork(t *testing.T, n int) (*sim.Network, []*sim.Node) {
	t.Helper()
	nw := sim.NewNetwork(1)

	nodes := make([]*sim.Node, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, sim.NewNode(nw, proto.RandomNodeID(), fmt.Sprintf("10.0.%d.%d:4000", i/250, i%250)))
	}

	// Star bootstrap: everyone knows node0, node0 knows everyone.
	for i := 1; i < n; i++ {
		nodes[i].DHT().AddPeer(nodes[0].LocalInfo())
		nodes[0].DHT().AddPeer(nodes[i].LocalInfo())
	}
	return nw, nodes
}

func TestSim_FindNode_StarBootstrap(t *testing.T) {
	// Small enough that node0's reply holds its whole table.
	const N = 16
	_, nodes := starNetwork(t, N)

	target := nodes[N-1].LocalInfo().ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := nodes[1].DHT().FindNodes(ctx, target)
	if err != nil {
		t.Fatalf("find nodes: %v", err)
	}

	// True global k-closest, excluding the querying node.
	all := make([]proto.NodeID, 0, N)
	for _, n := range nodes[2:] {
		all = append(all, n.LocalInfo().ID)
	}
	all = append(all, nodes[0].LocalInfo().ID)
	sort.Slice(all, func(i, j int) bool { return proto.DistanceLess(all[i], all[j], target) })

	k := dht.DefaultK
	if k > len(all) {
		k = len(all)
	}

	got := make(map[proto.NodeID]bool, len(resp))
	for _, nd := range resp {
		got[nd.ID] = true
	}
	for _, id := range all[:k] {
		if !got[id] {
			t.Fatalf("expected response to include globally closest peer %s (k=%d)", id, k)
		}
	}
	if resp[0].ID != target {
		t.Fatalf("target should rank first, got %s", resp[0].ID)
	}
}

func TestSim_PublishAndLookup(t *testing.T) {
	const N = 20
	_, nodes := starNetwork(t, N)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acks, err := nodes[3].DHT().Publish(ctx, []byte("greeting"), []byte("hello"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if acks == 0 {
		t.Fatalf("expected at least one remote store ack")
	}

	got, err := nodes[N-1].DHT().LookupValue(ctx, []byte("greeting"))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
}

func TestSim_PingDeadPeerFails(t *testing.T) {
	nw, nodes := starNetwork(t, 3)
	dead := nodes[2].LocalInfo()
	nw.Remove(dead.Address)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := nodes[0].DHT().Ping(ctx, dead); err == nil {
		t.Fatalf("expected ping to an offline node to fail")
	}
	if err := nodes[0].DHT().Ping(ctx, nodes[1].LocalInfo()); err != nil {
		t.Fatalf("ping live node: %v", err)
	}
}

func TestSim_LookupMissingValue(t *testing.T) {
	_, nodes := starNetwork(t, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := nodes[4].DHT().LookupValue(ctx, []byte("nope")); !errors.Is(err, dht.ErrValueNotFound) {
		t.Fatalf("expected ErrValueNotFound, got %v", err)
	}
}
