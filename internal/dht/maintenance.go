package dht

import (
	"context"

	"github.com/benbjohnson/clock"

	"p2p-overlay/internal/proto"
)

func (d *DHT) maintenanceLoop(ctx context.Context, t *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.Maintain(ctx)
		}
	}
}

// Maintain runs one maintenance cycle: sweep expired values, refresh the
// routing table with a random-id lookup when networked, publish gauges.
// Failures are logged; the cycle always completes.
func (d *DHT) Maintain(ctx context.Context) {
	n, err := d.values.Sweep()
	if err != nil {
		d.logf("value sweep: %v", err)
	} else if n > 0 {
		d.logf("swept %d expired values", n)
	}

	if d.sender != nil && d.rt.Size() > 0 {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		if _, err := d.FindNodes(rctx, proto.RandomNodeID()); err != nil && ctx.Err() == nil {
			d.logf("refresh: %v", err)
		}
		cancel()
	}

	d.publishMetrics()
	d.metrics.IncMaintenance()
	d.cycles.Add(1)
}

// MaintenanceCycles counts completed Maintain calls.
func (d *DHT) MaintenanceCycles() uint64 { return d.cycles.Load() }

func (d *DHT) publishMetrics() {
	d.metrics.SetRoutingTableSize(d.rt.Size())
	for i := 0; i < numBuckets; i++ {
		if n := d.rt.BucketSize(i); n > 0 {
			d.metrics.SetBucketOccupancy(i, n)
		}
	}
}
