// Package overlaynode is the interactive application on top of a p2p.Node:
// signed chat, encrypted channels and DHT put/get from a terminal.
package overlaynode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"p2p-overlay/internal/config"
	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/discovery"
	"p2p-overlay/internal/p2p"
	"p2p-overlay/internal/paths"
	"p2p-overlay/internal/storage"
	"p2p-overlay/internal/telemetry"
	"p2p-overlay/internal/transport"
)

type App struct {
	cfg    *config.Config
	name   string
	ui     Printer
	logger telemetry.Logger

	Node  *p2p.Node
	Keys  *crypto.KeyPair
	db    storage.Storage
	Peers *discovery.PeerStore

	reg        *prometheus.Registry
	metricsSrv *http.Server

	// inbox is subscribed in Start so nothing is missed before Run.
	inboxMu sync.Mutex
	inbox   *p2p.Subscription

	// Encrypted channels
	encMu       sync.RWMutex
	encChannels map[string]crypto.SealKey

	closeOnce sync.Once
}

type Options struct {
	Name   string
	Logger telemetry.Logger
	UI     Printer
	// NoColor selects a plain printer when UI is nil.
	NoColor bool
	// Hub attaches memory transports to a private hub.
	Hub *transport.Hub
}

// New assembles the node described by cfg: identity, storage, transports,
// discovery and metrics. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = telemetry.Discard{}
	}
	if opts.UI == nil {
		if opts.NoColor {
			opts.UI = NewPlainPrinter(os.Stdout)
		} else {
			opts.UI = NewStdPrinter(os.Stdout)
		}
	}
	if _, err := paths.EnsureDir(cfg.Node.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	keys, created, err := crypto.LoadOrCreateKeyFile(cfg.Resolve(cfg.Node.KeyFile))
	if err != nil {
		return nil, err
	}
	if created {
		opts.Logger.Printf("created identity %s", keys.NodeID().Hex())
	}
	if opts.Name == "" {
		opts.Name = keys.NodeID().String()
	}

	db, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:         cfg,
		name:        opts.Name,
		ui:          opts.UI,
		logger:      opts.Logger,
		Keys:        keys,
		db:          db,
		reg:         prometheus.NewRegistry(),
		encChannels: make(map[string]crypto.SealKey),
	}
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(a.reg)

	var trs []transport.Transport
	for _, kind := range cfg.TransportKinds() {
		tr, err := transport.New(kind, opts.Hub)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		trs = append(trs, tr)
	}

	ds, err := a.buildDiscovery()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	id := keys.NodeID()
	ncfg := p2p.NodeConfig{
		ID:         &id,
		ListenAddr: cfg.Node.ListenAddr,
		Port:       cfg.Node.Port,
		Ports:      cfg.PortMap(),
		Transports: trs,
		Discovery:  ds,
		EnableDHT:  cfg.DHT.Enabled,
		DHT:        cfg.DHTEngineConfig(),
		DHTMetrics: metrics,
		PeerStore:  a.Peers,
		Logger:     opts.Logger,
		Debug:      cfg.Log.Debug,
		Metrics:    metrics,
	}
	if cfg.DHT.Persist {
		ncfg.DHTBackend = db
	}
	n, err := p2p.NewNode(ncfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.Node = n
	return a, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	db, err := storage.Open(cfg.Storage.Backend, cfg.Resolve(cfg.Storage.Path))
	if err != nil {
		return nil, err
	}
	if cfg.Storage.SealKey == "" {
		return db, nil
	}
	key, err := crypto.ParseSealKeyHex(cfg.Storage.SealKey)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage.NewSealed(db, key), nil
}

func (a *App) buildDiscovery() ([]discovery.Discovery, error) {
	dc := a.cfg.Discovery
	var out []discovery.Discovery
	if len(dc.Seeds) > 0 {
		s, err := discovery.NewStatic("seeds", dc.Seeds)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if dc.PeerStore {
		a.Peers = discovery.NewPeerStore(a.db)
		out = append(out, a.Peers)
	}
	if dc.LAN {
		out = append(out, discovery.NewLAN(discovery.LANConfig{Port: dc.LANPort}, a.logger))
	}
	if dc.MDNS {
		out = append(out, discovery.NewMDNS(discovery.MDNSConfig{
			Service:          dc.Service,
			AnnounceInterval: dc.Announce,
		}, a.logger))
	}
	return out, nil
}

// Start connects the node, serves metrics, runs a first discovery round,
// greets the network and keeps discovering in the background.
func (a *App) Start(ctx context.Context) error {
	a.inboxMu.Lock()
	if a.inbox == nil {
		a.inbox = a.Node.Incoming()
	}
	a.inboxMu.Unlock()

	if err := a.Node.Connect(ctx); err != nil {
		return err
	}
	if addr := a.cfg.Metrics.Addr; addr != "" {
		a.serveMetrics(addr)
	}

	if _, err := a.Node.DiscoverPeers(ctx); err != nil {
		a.logf("initial discovery: %v", err)
	}
	if err := a.Node.Announce(ctx); err != nil {
		a.logf("announce: %v", err)
	}
	a.say(fmt.Sprintf("hello from %s", a.name))

	go a.Node.RunDiscovery(ctx, a.cfg.Discovery.Interval)
	return nil
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logf("metrics on http://%s/metrics", addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logf("metrics server: %v", err)
		}
	}()
}

// Run prints events and inbound messages until ctx ends or the node
// closes. Stdin commands are read when interactive is set.
func (a *App) Run(ctx context.Context, interactive bool) error {
	a.PrintBanner()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if interactive {
		go a.readStdin(ctx, cancel)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-a.Node.Events():
				switch ev.Type {
				case p2p.EventPeerConnected:
					a.ui.Printf("[NET] peer connected: %s (%s)\n", shortID(ev.PeerID), ev.PeerAddr)
				case p2p.EventPeerDisconnected:
					a.ui.Printf("[NET] peer disconnected: %s: %s\n", shortID(ev.PeerID), ev.Err)
				}
			}
		}
	}()

	sub := a.takeInbox()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			a.handleMessage(msg)
		}
	}
}

// Close stops the node and releases storage. Safe to call twice.
// takeInbox hands the subscription made in Start to the caller, or makes
// one if Start was skipped.
func (a *App) takeInbox() *p2p.Subscription {
	a.inboxMu.Lock()
	defer a.inboxMu.Unlock()
	sub := a.inbox
	a.inbox = nil
	if sub == nil {
		sub = a.Node.Incoming()
	}
	return sub
}

func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.inboxMu.Lock()
		if a.inbox != nil {
			a.inbox.Close()
			a.inbox = nil
		}
		a.inboxMu.Unlock()
		err = multierr.Append(err, a.Node.Close())
		if a.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = multierr.Append(err, a.metricsSrv.Shutdown(ctx))
			cancel()
		}
		err = multierr.Append(err, a.db.Close())
	})
	return err
}

func (a *App) logf(format string, args ...any) {
	a.logger.Printf(format, args...)
}
