package dht

import (
	"context"
	"slices"

	"p2p-overlay/internal/proto"
)

// queryFunc asks one peer about the lookup target. A found value ends the
// lookup; otherwise nodes feed the candidate set.
type queryFunc func(ctx context.Context, p proto.PeerInfo) (nodes []proto.PeerInfo, value []byte, found bool, err error)

type lookupResult struct {
	closest []proto.PeerInfo
	value   []byte
	found   bool
	queries int
}

const (
	stUnqueried = iota
	stQuerying
	stDone
	stFailed
)

type cand struct {
	info  proto.PeerInfo
	state int
}

// lookup runs an alpha-parallel iterative Kademlia lookup seeded from the
// routing table. It stops when every one of the K closest live candidates
// has been queried, a value is found, or MaxRounds is reached.
func (d *DHT) lookup(ctx context.Context, kind string, target proto.NodeID, query queryFunc) (res lookupResult, err error) {
	start := d.clk.Now()
	defer func() {
		ok := err == nil && (res.found || len(res.closest) > 0)
		d.metrics.ObserveLookup(kind, res.queries, d.clk.Since(start), ok)
	}()

	seen := make(map[proto.NodeID]*cand)
	for _, p := range d.rt.Closest(target, d.cfg.K) {
		seen[p.ID] = &cand{info: p}
	}

	sorted := func() []*cand {
		out := make([]*cand, 0, len(seen))
		for _, c := range seen {
			out = append(out, c)
		}
		slices.SortFunc(out, func(a, b *cand) int {
			switch {
			case proto.DistanceLess(a.info.ID, b.info.ID, target):
				return -1
			case proto.DistanceLess(b.info.ID, a.info.ID, target):
				return 1
			}
			return 0
		})
		return out
	}

	for round := 0; round < d.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Window: the K closest candidates that have not failed.
		toQuery := make([]*cand, 0, d.cfg.Alpha)
		live := 0
		for _, c := range sorted() {
			if c.state == stFailed {
				continue
			}
			if live++; live > d.cfg.K {
				break
			}
			if c.state == stUnqueried && len(toQuery) < d.cfg.Alpha {
				c.state = stQuerying
				toQuery = append(toQuery, c)
			}
		}
		if len(toQuery) == 0 {
			break
		}

		type result struct {
			c     *cand
			nodes []proto.PeerInfo
			value []byte
			found bool
			err   error
		}
		res.queries += len(toQuery)
		resCh := make(chan result, len(toQuery))

		for _, c := range toQuery {
			go func(c *cand) {
				nodes, value, found, err := query(ctx, c.info)
				resCh <- result{c: c, nodes: nodes, value: value, found: found, err: err}
			}(c)
		}

		for i := 0; i < len(toQuery); i++ {
			r := <-resCh
			if r.err != nil {
				r.c.state = stFailed
				continue
			}
			r.c.state = stDone

			if r.found && !res.found {
				res.found = true
				res.value = r.value
			}

			nodes := r.nodes
			if len(nodes) > d.cfg.K*2 {
				nodes = nodes[:d.cfg.K*2]
			}
			for _, nd := range nodes {
				if nd.ID == d.self || nd.ID.IsZero() || !nd.HasAddress() {
					continue
				}
				if _, ok := seen[nd.ID]; ok {
					continue
				}
				d.AddPeer(nd)
				seen[nd.ID] = &cand{info: nd.Clone()}
			}
		}

		if res.found {
			break
		}
	}

	for _, c := range sorted() {
		if c.state == stFailed {
			continue
		}
		res.closest = append(res.closest, c.info)
		if len(res.closest) == d.cfg.K {
			break
		}
	}
	return res, nil
}

func (d *DHT) findNodeQuery(target proto.NodeID) queryFunc {
	return func(ctx context.Context, p proto.PeerInfo) ([]proto.PeerInfo, []byte, bool, error) {
		nodes, err := d.findNode(ctx, p, target)
		return nodes, nil, false, err
	}
}

func (d *DHT) getValueQuery(key []byte) queryFunc {
	return func(ctx context.Context, p proto.PeerInfo) ([]proto.PeerInfo, []byte, bool, error) {
		w, err := d.getValue(ctx, p, key)
		if err != nil {
			return nil, nil, false, err
		}
		return w.Nodes, w.Value, w.Found, nil
	}
}
