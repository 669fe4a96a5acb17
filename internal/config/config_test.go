package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/transport"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1", cfg.Node.ListenAddr)
	assert.Equal(t, 0, cfg.Node.Port)
	assert.True(t, cfg.DHT.Enabled)
	assert.Equal(t, 20, cfg.DHT.K)
	assert.Equal(t, 30*time.Second, cfg.Discovery.Announce)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", FileName)
	cfg := Default()
	cfg.Node.Transports = []string{"ws", "tcp"}
	cfg.Node.Ports = map[string]int{"ws": 8080}
	cfg.Discovery.Seeds = []string{"tcp://" + proto.RandomNodeID().Hex() + "@10.0.0.1:4001"}
	cfg.DHT.RPCTimeout = 2 * time.Second
	cfg.Storage.Backend = "leveldb"
	cfg.Metrics.Addr = ":9100"

	require.NoError(t, Save(path, cfg))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "rpc_timeout: 2s")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("node:\n  port: 4100\nlog:\n  level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Node.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"tcp"}, cfg.Node.Transports)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("node:\n  transports: [tcp, carrier-pigeon]\n"), 0o644))
	_, err := Load(path)
	assert.True(t, errors.Is(err, ErrInvalid))

	require.NoError(t, os.WriteFile(path, []byte("node: [\n"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Node.Transports = []string{"tcp", "tcp"}
	cfg.Node.Port = 70000
	cfg.Discovery.Seeds = []string{"not a seed"}
	cfg.Storage.Backend = "tape"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"listed twice", "out of range", "seed", "tape"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestHelpers(t *testing.T) {
	cfg := Default()
	cfg.Node.DataDir = "/var/lib/overlay"
	assert.Equal(t, "/var/lib/overlay/overlay.db", cfg.Resolve(cfg.Storage.Path))
	assert.Equal(t, "/etc/key", cfg.Resolve("/etc/key"))

	cfg.Node.Transports = []string{"quic", "tcp"}
	cfg.Node.Ports = map[string]int{"quic": 4433}
	assert.Equal(t, []transport.Kind{transport.KindQUIC, transport.KindTCP}, cfg.TransportKinds())
	assert.Equal(t, map[transport.Kind]int{transport.KindQUIC: 4433}, cfg.PortMap())

	d := cfg.DHTEngineConfig()
	assert.Equal(t, cfg.DHT.K, d.K)
	assert.Equal(t, cfg.DHT.ValueTTL, d.ValueTTL)
}
