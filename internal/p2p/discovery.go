package p2p

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
)

// DiscoverPeers asks every discovery mechanism and then the DHT for
// peers. The first failure aborts the round. Unknown ids are registered
// as Disconnected peers. The returned slice is the union of all answers
// with duplicates kept and the local node left out.
func (n *Node) DiscoverPeers(ctx context.Context) ([]proto.PeerInfo, error) {
	results := make([][]proto.PeerInfo, len(n.discovery))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range n.discovery {
		g.Go(func() error {
			found, err := d.Discover(gctx)
			if err != nil {
				return errs.E(errs.KindDiscovery, d.Name(), err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []proto.PeerInfo
	for _, found := range results {
		for _, info := range found {
			if info.ID == n.self {
				continue
			}
			n.register(info)
			out = append(out, info)
		}
	}

	if n.dht != nil {
		found, err := n.dht.FindNodes(ctx, n.self)
		if err != nil {
			return nil, err
		}
		for _, info := range found {
			if info.ID == n.self {
				continue
			}
			n.register(info)
			out = append(out, info)
		}
	}
	n.Logf("discovered %d peers", len(out))
	return out, nil
}

// RunDiscovery calls DiscoverPeers every interval until ctx ends or the
// node closes. Failed rounds back off exponentially up to interval.
func (n *Node) RunDiscovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval / 8
	bo.MaxInterval = interval
	bo.MaxElapsedTime = 0
	bo.Clock = n.clk

	for {
		wait := interval
		if _, err := n.DiscoverPeers(ctx); err != nil {
			n.Logf("discovery round: %v", err)
			wait = bo.NextBackOff()
		} else {
			bo.Reset()
		}

		t := n.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-n.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
