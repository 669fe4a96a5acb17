package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"p2p-overlay/internal/proto"
)

func newTestPeer(t *testing.T) (*Peer, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	info := proto.PeerInfo{ID: proto.RandomNodeID(), Address: "127.0.0.1:4001", Protocols: []string{"tcp"}}
	return NewWithClock(info, clk), clk
}

func TestNew_InitialState(t *testing.T) {
	p, clk := newTestPeer(t)

	if p.Status() != Disconnected {
		t.Fatalf("expected Disconnected, got %s", p.Status())
	}
	if p.FailedAttempts() != 0 {
		t.Fatalf("expected 0 failures")
	}
	if !p.FirstSeen().Equal(clk.Now()) || !p.LastSeen().Equal(clk.Now()) {
		t.Fatalf("first/last seen should equal creation time")
	}
}

func TestSetStatusConnected_ResetsFailures(t *testing.T) {
	p, _ := newTestPeer(t)

	p.IncrementFailedAttempts()
	p.IncrementFailedAttempts()
	p.IncrementFailedAttempts()
	if got := p.FailedAttempts(); got != 3 {
		t.Fatalf("expected 3 failures, got %d", got)
	}

	p.SetStatus(Connecting)
	if got := p.FailedAttempts(); got != 3 {
		t.Fatalf("Connecting must not reset failures, got %d", got)
	}

	p.SetStatus(Connected)
	if got := p.FailedAttempts(); got != 0 {
		t.Fatalf("expected failures reset, got %d", got)
	}
}

func TestIsStale(t *testing.T) {
	p, clk := newTestPeer(t)

	clk.Add(30 * time.Second)
	if p.IsStale(30 * time.Second) {
		t.Fatalf("exactly at timeout is not stale")
	}
	clk.Add(time.Millisecond)
	if !p.IsStale(30 * time.Second) {
		t.Fatalf("expected stale after timeout")
	}

	p.UpdateLastSeen()
	if p.IsStale(30 * time.Second) {
		t.Fatalf("UpdateLastSeen should refresh staleness")
	}
	if !p.LastSeen().After(p.FirstSeen()) {
		t.Fatalf("last seen should move forward")
	}
}

func TestSetInfo_KeepsID(t *testing.T) {
	p, _ := newTestPeer(t)
	id := p.ID()

	p.SetInfo(proto.PeerInfo{ID: proto.RandomNodeID(), Address: "10.0.0.1:9000"})

	if p.ID() != id {
		t.Fatalf("id changed")
	}
	if p.Info().Address != "10.0.0.1:9000" {
		t.Fatalf("address not updated")
	}
}

// TestPeerRaceHarness exercises the accessors under `go test -race`.
func TestPeerRaceHarness(t *testing.T) {
	p := New(proto.PeerInfo{ID: proto.RandomNodeID()})

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			p.UpdateLastSeen()
			p.IncrementFailedAttempts()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = p.IsStale(time.Second)
			_ = p.Info()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			p.SetStatus(Status(i % 4))
		}
	}()
	wg.Wait()
}
