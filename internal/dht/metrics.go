package dht

import "time"

// Metrics is intentionally tiny. Implementations must be thread-safe;
// telemetry.Metrics is the Prometheus one.
type Metrics interface {
	IncRPC(kind string, ok bool)
	ObserveLookup(kind string, queries int, duration time.Duration, ok bool)
	SetRoutingTableSize(n int)
	SetBucketOccupancy(bucket int, n int)
	IncMaintenance()
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) IncRPC(kind string, ok bool)                                      {}
func (NoopMetrics) ObserveLookup(kind string, queries int, d time.Duration, ok bool) {}
func (NoopMetrics) SetRoutingTableSize(n int)                                        {}
func (NoopMetrics) SetBucketOccupancy(bucket int, n int)                             {}
func (NoopMetrics) IncMaintenance()                                                  {}
