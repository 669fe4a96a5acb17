package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports DHT and node counters to Prometheus. It satisfies
// dht.Metrics and p2p.Metrics.
type Metrics struct {
	rpcs          *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	lookupQueries *prometheus.HistogramVec
	lookupTime    *prometheus.HistogramVec
	rtSize        prometheus.Gauge
	bucketFill    *prometheus.GaugeVec
	maintenance   prometheus.Counter

	peers     prometheus.Gauge
	sent      *prometheus.CounterVec
	received  *prometheus.CounterVec
	dropped   prometheus.Counter
	subMissed prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "rpcs_total",
			Help: "DHT RPCs by kind and outcome.",
		}, []string{"kind", "ok"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "lookups_total",
			Help: "Iterative lookups by kind and outcome.",
		}, []string{"kind", "ok"}),
		lookupQueries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "lookup_queries",
			Help:    "RPCs issued per lookup.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}, []string{"kind"}),
		lookupTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "lookup_seconds",
			Help:    "Lookup latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		rtSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "routing_table_size",
			Help: "Contacts in the routing table.",
		}),
		bucketFill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "bucket_occupancy",
			Help: "Contacts per non-empty bucket.",
		}, []string{"bucket"}),
		maintenance: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "dht", Name: "maintenance_cycles_total",
			Help: "Completed maintenance cycles.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overlay", Subsystem: "node", Name: "peers",
			Help: "Peers in the registry.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "node", Name: "messages_sent_total",
			Help: "Outbound messages by transport and outcome.",
		}, []string{"transport", "ok"}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "node", Name: "messages_received_total",
			Help: "Inbound messages by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "node", Name: "inbound_dropped_total",
			Help: "Inbound buffers that failed to decode or were duplicates.",
		}),
		subMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay", Subsystem: "node", Name: "subscriber_missed_total",
			Help: "Messages dropped for slow subscribers.",
		}),
	}
	reg.MustRegister(
		m.rpcs, m.lookups, m.lookupQueries, m.lookupTime, m.rtSize, m.bucketFill, m.maintenance,
		m.peers, m.sent, m.received, m.dropped, m.subMissed,
	)
	return m
}

func (m *Metrics) IncRPC(kind string, ok bool) {
	m.rpcs.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) ObserveLookup(kind string, queries int, d time.Duration, ok bool) {
	m.lookups.WithLabelValues(kind, strconv.FormatBool(ok)).Inc()
	m.lookupQueries.WithLabelValues(kind).Observe(float64(queries))
	m.lookupTime.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) SetRoutingTableSize(n int) { m.rtSize.Set(float64(n)) }

func (m *Metrics) SetBucketOccupancy(bucket int, n int) {
	m.bucketFill.WithLabelValues(strconv.Itoa(bucket)).Set(float64(n))
}

func (m *Metrics) IncMaintenance() { m.maintenance.Inc() }

func (m *Metrics) SetPeerCount(n int) { m.peers.Set(float64(n)) }

func (m *Metrics) IncSent(transport string, ok bool) {
	m.sent.WithLabelValues(transport, strconv.FormatBool(ok)).Inc()
}

func (m *Metrics) IncReceived(typ string) { m.received.WithLabelValues(typ).Inc() }

func (m *Metrics) IncDropped() { m.dropped.Inc() }

func (m *Metrics) IncSubscriberMissed() { m.subMissed.Inc() }
