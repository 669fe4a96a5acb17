package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"p2p-overlay/internal/transport"
)

// TestNodeRaceHarness exercises concurrent sends, broadcasts and registry
// reads under -race; it asserts little on purpose.
func TestNodeRaceHarness(t *testing.T) {
	hub := transport.NewHub()
	n1 := newTestNode(t, hub, WithDHT())
	n2 := newTestNode(t, hub, WithDHT())
	introduce(n1, n2)

	done := make(chan struct{})
	defer close(done)
	for _, n := range []*Node{n1, n2} {
		sub := n.Incoming()
		go func() {
			for {
				select {
				case <-done:
					return
				case _, ok := <-sub.C():
					if !ok {
						return
					}
				}
			}
		}()
	}

	const loops = 100
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(5)

	go func() {
		defer wg.Done()
		for range loops {
			_ = n1.Broadcast(ctx, []byte("from n1"))
		}
	}()
	go func() {
		defer wg.Done()
		for range loops {
			_ = n2.SendTo(ctx, n1.ID(), []byte("from n2"))
		}
	}()
	go func() {
		defer wg.Done()
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			_ = n1.Peers()
			_ = n2.StalePeers(time.Minute)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for range 10 {
			_, _ = n1.DiscoverPeers(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for range 10 {
			_ = n2.Announce(ctx)
		}
	}()
	wg.Wait()
}
