// Package config holds the overlay node's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"p2p-overlay/internal/dht"
	"p2p-overlay/internal/discovery"
	"p2p-overlay/internal/paths"
	"p2p-overlay/internal/transport"
)

const FileName = "config.yaml"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	DHT       DHTConfig       `yaml:"dht"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type NodeConfig struct {
	DataDir string `yaml:"data_dir"`
	// KeyFile is relative to DataDir unless absolute.
	KeyFile    string         `yaml:"key_file"`
	ListenAddr string         `yaml:"listen_addr"`
	Port       int            `yaml:"port"`
	Transports []string       `yaml:"transports"` // send preference order
	Ports      map[string]int `yaml:"ports,omitempty"`
}

type DiscoveryConfig struct {
	Seeds     []string      `yaml:"seeds"` // scheme://<hex id>@host:port
	LAN       bool          `yaml:"lan"`
	LANPort   int           `yaml:"lan_port"`
	MDNS      bool          `yaml:"mdns"`
	Service   string        `yaml:"mdns_service"`
	Announce  time.Duration `yaml:"mdns_announce_interval"`
	PeerStore bool          `yaml:"peerstore"`
	Interval  time.Duration `yaml:"interval"`
}

type DHTConfig struct {
	Enabled             bool          `yaml:"enabled"`
	K                   int           `yaml:"k"`
	Alpha               int           `yaml:"alpha"`
	RPCTimeout          time.Duration `yaml:"rpc_timeout"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	ValueTTL            time.Duration `yaml:"value_ttl"`
	// Persist stores DHT values in the node's storage backend.
	Persist bool `yaml:"persist"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, bolt or leveldb
	Path    string `yaml:"path"`    // relative to DataDir unless absolute
	// SealKey, hex encoded, encrypts stored values at rest when set.
	SealKey string `yaml:"seal_key,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Debug bool   `yaml:"debug"` // node and DHT trace lines
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables /metrics
}

func Default() *Config {
	d := dht.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			DataDir:    paths.DefaultDataDir(),
			KeyFile:    "node.key",
			ListenAddr: "127.0.0.1",
			Transports: []string{string(transport.KindTCP)},
		},
		Discovery: DiscoveryConfig{
			Seeds:     append([]string(nil), discovery.DefaultSeeds...),
			LANPort:   discovery.DefaultLANPort,
			Service:   discovery.DefaultMDNSService,
			Announce:  discovery.DefaultMDNSInterval,
			PeerStore: true,
			Interval:  30 * time.Second,
		},
		DHT: DHTConfig{
			Enabled:             true,
			K:                   d.K,
			Alpha:               d.Alpha,
			RPCTimeout:          d.RPCTimeout,
			MaintenanceInterval: d.MaintenanceInterval,
			ValueTTL:            d.ValueTTL,
		},
		Storage: StorageConfig{
			Backend: "bolt",
			Path:    "overlay.db",
		},
		Log: LogConfig{Level: "info"},
	}
}

// DefaultPath is config.yaml inside the default data directory.
func DefaultPath() string {
	return filepath.Join(paths.DefaultDataDir(), FileName)
}

// Load reads path over the defaults. A missing file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	bad := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Node.Transports) == 0 {
		bad("node.transports is empty")
	}
	seen := map[string]bool{}
	for _, k := range c.Node.Transports {
		switch transport.Kind(k) {
		case transport.KindTCP, transport.KindWebSocket, transport.KindQUIC, transport.KindZMQ, transport.KindMemory:
		default:
			bad("unknown transport %q", k)
		}
		if seen[k] {
			bad("transport %q listed twice", k)
		}
		seen[k] = true
	}
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		bad("node.port %d out of range", c.Node.Port)
	}
	for k, p := range c.Node.Ports {
		if !seen[k] {
			bad("port given for unused transport %q", k)
		}
		if p < 0 || p > 65535 {
			bad("port %d for %s out of range", p, k)
		}
	}

	for _, s := range c.Discovery.Seeds {
		if _, perr := discovery.ParsePeerURL(s); perr != nil {
			bad("seed: %v", perr)
		}
	}
	if c.Discovery.Interval < 0 {
		bad("discovery.interval is negative")
	}

	if c.DHT.K < 0 || c.DHT.Alpha < 0 {
		bad("dht.k and dht.alpha must not be negative")
	}
	if c.DHT.Alpha > c.DHT.K && c.DHT.K > 0 {
		bad("dht.alpha %d exceeds k %d", c.DHT.Alpha, c.DHT.K)
	}

	switch c.Storage.Backend {
	case "memory", "bolt", "leveldb":
	default:
		bad("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != "memory" && c.Storage.Path == "" {
		bad("storage.path is required for %s", c.Storage.Backend)
	}
	return err
}

// Resolve joins p onto the data directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Node.DataDir, p)
}

// DHTEngineConfig converts to the engine's configuration.
func (c *Config) DHTEngineConfig() dht.Config {
	return dht.Config{
		K:                   c.DHT.K,
		Alpha:               c.DHT.Alpha,
		RPCTimeout:          c.DHT.RPCTimeout,
		MaintenanceInterval: c.DHT.MaintenanceInterval,
		ValueTTL:            c.DHT.ValueTTL,
	}
}

// TransportKinds returns the configured kinds in order.
func (c *Config) TransportKinds() []transport.Kind {
	out := make([]transport.Kind, 0, len(c.Node.Transports))
	for _, k := range c.Node.Transports {
		out = append(out, transport.Kind(k))
	}
	return out
}

// PortMap converts Ports to transport kinds.
func (c *Config) PortMap() map[transport.Kind]int {
	if len(c.Node.Ports) == 0 {
		return nil
	}
	out := make(map[transport.Kind]int, len(c.Node.Ports))
	for k, p := range c.Node.Ports {
		out[transport.Kind(k)] = p
	}
	return out
}
