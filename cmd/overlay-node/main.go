// Command overlay-node runs a single overlay node from a YAML config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"p2p-overlay/internal/config"
	"p2p-overlay/internal/crypto"
	"p2p-overlay/internal/overlaynode"
	"p2p-overlay/internal/paths"
	"p2p-overlay/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "overlay-node",
	Short: "Kademlia overlay node",
	Long: `overlay-node joins a peer-to-peer overlay: it listens on the configured
transports, finds peers through seeds, LAN, mDNS and the DHT, and exchanges
signed messages with them.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the node key",
	RunE:  runInit,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the node",
	RunE:  runNode,
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the node id",
	RunE:  runID,
}

var (
	configPath string
	debug      bool

	name       string
	listenAddr string
	port       int
	transports []string
	seeds      []string
	metrics    string
	lan        bool
	mdns       bool
	noStdin    bool
	noColor    bool
	duration   time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	f := runCmd.Flags()
	f.StringVar(&name, "name", "", "display name")
	f.StringVarP(&listenAddr, "listen", "l", "", "override listen address")
	f.IntVarP(&port, "port", "p", -1, "override listen port (0 picks one)")
	f.StringSliceVarP(&transports, "transport", "t", nil, "transports in preference order (tcp, ws, quic, zmq)")
	f.StringSliceVar(&seeds, "seed", nil, "extra seed, scheme://<hex id>@host:port")
	f.StringVar(&metrics, "metrics", "", "serve Prometheus metrics on this address")
	f.BoolVar(&lan, "lan", false, "enable LAN broadcast discovery")
	f.BoolVar(&mdns, "mdns", false, "enable mDNS discovery")
	f.BoolVar(&noStdin, "no-stdin", false, "do not read commands from stdin")
	f.BoolVar(&noColor, "no-color", false, "print without ANSI colors")
	f.DurationVar(&duration, "duration", 0, "exit after this long (0 runs until interrupted)")

	rootCmd.AddCommand(initCmd, runCmd, idCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
		cfg.Log.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return telemetry.NewZap(cfg.Log.Level, cfg.Log.JSON)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	cfg := config.Default()
	if _, err := paths.EnsureDir(cfg.Node.DataDir); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	keys, _, err := crypto.LoadOrCreateKeyFile(cfg.Resolve(cfg.Node.KeyFile))
	if err != nil {
		return err
	}
	fmt.Printf("Config:  %s\n", path)
	fmt.Printf("Data:    %s\n", cfg.Node.DataDir)
	fmt.Printf("Node ID: %s\n", keys.NodeID().Hex())
	return nil
}

func runID(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := paths.EnsureDir(cfg.Node.DataDir); err != nil {
		return err
	}
	keys, _, err := crypto.LoadOrCreateKeyFile(cfg.Resolve(cfg.Node.KeyFile))
	if err != nil {
		return err
	}
	id := keys.NodeID()
	fmt.Println(id.Hex())
	fmt.Println(id.Base58())
	return nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	zl, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := telemetry.FromZap(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	app, err := overlaynode.New(cfg, overlaynode.Options{Name: name, Logger: logger, NoColor: noColor})
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			zl.Warn("shutdown", zap.Error(err))
		}
	}()

	zl.Info("starting node", zap.String("id", app.Node.ID().Hex()))
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	return app.Run(ctx, !noStdin)
}

// applyFlags overrides file values with flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Node.ListenAddr = listenAddr
	}
	if f.Changed("port") {
		cfg.Node.Port = port
	}
	if f.Changed("transport") {
		cfg.Node.Transports = transports
	}
	if f.Changed("seed") {
		cfg.Discovery.Seeds = append(cfg.Discovery.Seeds, seeds...)
	}
	if f.Changed("metrics") {
		cfg.Metrics.Addr = metrics
	}
	if f.Changed("lan") {
		cfg.Discovery.LAN = lan
	}
	if f.Changed("mdns") {
		cfg.Discovery.MDNS = mdns
	}
}
