package telemetry_test

import (
	"bytes"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/p2p"
	"p2p-overlay/internal/telemetry"
)

var (
	_ dht.Metrics      = (*telemetry.Metrics)(nil)
	_ p2p.Metrics      = (*telemetry.Metrics)(nil)
	_ telemetry.Logger = (*log.Logger)(nil)
	_ telemetry.Logger = telemetry.Discard{}
)

func TestMetrics_Export(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.IncRPC("ping", true)
	m.IncRPC("ping", false)
	m.ObserveLookup("find_node", 4, 20*time.Millisecond, true)
	m.SetRoutingTableSize(7)
	m.SetBucketOccupancy(255, 3)
	m.IncMaintenance()
	m.SetPeerCount(2)
	m.IncSent("tcp", true)
	m.IncReceived("Data")
	m.IncDropped()
	m.IncDropped()
	m.IncSubscriberMissed()

	expected := `
# HELP overlay_node_inbound_dropped_total Inbound buffers that failed to decode or were duplicates.
# TYPE overlay_node_inbound_dropped_total counter
overlay_node_inbound_dropped_total 2
# HELP overlay_dht_routing_table_size Contacts in the routing table.
# TYPE overlay_dht_routing_table_size gauge
overlay_dht_routing_table_size 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"overlay_node_inbound_dropped_total", "overlay_dht_routing_table_size"))

	n, err := testutil.GatherAndCount(reg, "overlay_dht_rpcs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per outcome")
}

func TestMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	telemetry.NewMetrics(reg)
	assert.Panics(t, func() { telemetry.NewMetrics(reg) })
}

func TestFromZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := telemetry.FromZap(zap.New(core))
	l.Printf("[node %s] hello %d", "abcd", 3)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[node abcd] hello 3", logs.All()[0].Message)
}

func TestNewZap(t *testing.T) {
	l, err := telemetry.NewZap("debug", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = telemetry.NewZap("loud", false)
	assert.Error(t, err)
}

func TestStdLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	var l telemetry.Logger = log.New(&buf, "", 0)
	l.Printf("x=%d", 1)
	assert.Equal(t, "x=1\n", buf.String())
}
