package dht

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"p2p-overlay/internal/errs"
	"p2p-overlay/internal/proto"
	"p2p-overlay/internal/telemetry"
)

const (
	DefaultK                   = 20
	DefaultAlpha               = 3
	DefaultRPCTimeout          = 1200 * time.Millisecond
	DefaultMaxRounds           = 32
	DefaultMaintenanceInterval = 60 * time.Second

	pingTimeout    = 800 * time.Millisecond
	refreshTimeout = 10 * time.Second

	// maxBackgroundTasks caps concurrent replies and eviction pings.
	maxBackgroundTasks = 64
)

// Sender is the DHT's view of the network. The node orchestrator implements
// it; so does the in-process sim network.
type Sender interface {
	LocalInfo() proto.PeerInfo
	SendMessage(ctx context.Context, to proto.PeerInfo, msg proto.Message) error
	Logf(format string, args ...any)
}

type Config struct {
	K                   int
	Alpha               int
	RPCTimeout          time.Duration
	MaxRounds           int
	MaintenanceInterval time.Duration
	ValueTTL            time.Duration
}

func DefaultConfig() Config {
	return Config{
		K:                   DefaultK,
		Alpha:               DefaultAlpha,
		RPCTimeout:          DefaultRPCTimeout,
		MaxRounds:           DefaultMaxRounds,
		MaintenanceInterval: DefaultMaintenanceInterval,
		ValueTTL:            DefaultValueTTL,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.K <= 0 {
		c.K = def.K
	}
	if c.Alpha <= 0 {
		c.Alpha = def.Alpha
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = def.RPCTimeout
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = def.MaintenanceInterval
	}
	if c.ValueTTL <= 0 {
		c.ValueTTL = def.ValueTTL
	}
	return c
}

// DHT is the package's primary engine.
// It owns routing, the value store, pending RPCs, and lookup behavior.
type DHT struct {
	self proto.NodeID
	cfg  Config

	rt      *RoutingTable
	values  *ValueStore
	limiter *senderLimiter

	sender  Sender
	logger  telemetry.Logger
	clk     clock.Clock
	metrics Metrics
	backend ValueBackend

	pendingMu sync.Mutex
	pending   map[string]chan rpcReply

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	tasks       *semaphore.Weighted
	tasksMu     sync.Mutex
	tasksCtx    context.Context
	tasksCancel context.CancelFunc
	tasksWG     *sync.WaitGroup
	evicting    map[int]struct{}

	cycles atomic.Uint64
}

type Option func(*DHT)

// WithSender enables network operations: iterative lookups, replies,
// ping-and-replace eviction and routing refresh.
func WithSender(s Sender) Option { return func(d *DHT) { d.sender = s } }

func WithLogger(l telemetry.Logger) Option { return func(d *DHT) { d.logger = l } }

func WithClock(c clock.Clock) Option { return func(d *DHT) { d.clk = c } }

func WithMetrics(m Metrics) Option { return func(d *DHT) { d.metrics = m } }

func WithConfig(c Config) Option { return func(d *DHT) { d.cfg = c } }

func WithValueBackend(b ValueBackend) Option { return func(d *DHT) { d.backend = b } }

func WithDiversityPolicy(p DiversityPolicy) Option {
	return func(d *DHT) { d.rt.diversity = p }
}

func New(self proto.NodeID, opts ...Option) *DHT {
	d := &DHT{
		self:    self,
		cfg:     DefaultConfig(),
		rt:      NewRoutingTable(self, DefaultK),
		limiter: newSenderLimiter(),
		clk:     clock.New(),
		metrics: NoopMetrics{},
		pending: make(map[string]chan rpcReply),
		tasks:   semaphore.NewWeighted(maxBackgroundTasks),
		tasksWG: new(sync.WaitGroup),

		evicting: make(map[int]struct{}),
	}
	d.tasksCtx, d.tasksCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(d)
	}
	d.cfg = d.cfg.withDefaults()
	d.rt.k = d.cfg.K
	d.rt.now = d.clk.Now
	d.values = NewValueStore(d.clk, d.cfg.ValueTTL, d.backend)
	return d
}

func (d *DHT) Self() proto.NodeID     { return d.self }
func (d *DHT) Routing() *RoutingTable { return d.rt }
func (d *DHT) Values() *ValueStore    { return d.values }
func (d *DHT) Networked() bool        { return d.sender != nil }

// Start launches the maintenance loop. Calling it again while running is a
// no-op.
func (d *DHT) Start() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	// Ticker is created here, not in the goroutine, so a mock clock
	// advanced right after Start still fires it.
	t := d.clk.Ticker(d.cfg.MaintenanceInterval)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.maintenanceLoop(ctx, t, d.done)
	d.logf("started (k=%d alpha=%d networked=%v)", d.cfg.K, d.cfg.Alpha, d.sender != nil)
}

// Stop cancels the maintenance loop and any in-flight replies or eviction
// pings, and waits for them to exit.
func (d *DHT) Stop() {
	defer d.drainTasks()

	d.lifeMu.Lock()
	if d.cancel == nil {
		d.lifeMu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.cancel = nil
	d.done = nil
	d.lifeMu.Unlock()

	<-done
	d.logf("stopped")
}

func (d *DHT) Running() bool {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	return d.cancel != nil
}

// AddPeer records info in the routing table. With a sender configured, a
// full bucket triggers ping-and-replace in the background; without one the
// newcomer is dropped.
func (d *DHT) AddPeer(info proto.PeerInfo) UpsertResult {
	if info.ID == d.self || info.ID.IsZero() {
		return Rejected
	}
	res := d.rt.Upsert(info)
	if res == BucketFull && d.sender != nil {
		d.evictInBackground(info)
	}
	return res
}

// evictInBackground runs at most one tail ping per bucket. Newcomers that
// arrive while it is in flight, or when the task pool is full, wait in the
// replacement cache.
func (d *DHT) evictInBackground(info proto.PeerInfo) {
	bi := proto.BucketIndex(d.self, info.ID)

	d.tasksMu.Lock()
	if _, busy := d.evicting[bi]; busy {
		d.tasksMu.Unlock()
		d.rt.AddReplacement(info)
		return
	}
	d.evicting[bi] = struct{}{}
	d.tasksMu.Unlock()

	started := d.spawn(func(ctx context.Context) {
		defer d.doneEvicting(bi)
		d.rt.UpsertWithEviction(info, func(c Contact) bool {
			return d.pingContact(ctx, c)
		})
	})
	if !started {
		d.doneEvicting(bi)
		d.rt.AddReplacement(info)
	}
}

func (d *DHT) doneEvicting(bi int) {
	d.tasksMu.Lock()
	delete(d.evicting, bi)
	d.tasksMu.Unlock()
}

// spawn runs f in the background if the task pool has room. f's context is
// cancelled by Stop.
func (d *DHT) spawn(f func(ctx context.Context)) bool {
	if !d.tasks.TryAcquire(1) {
		return false
	}
	d.tasksMu.Lock()
	ctx, wg := d.tasksCtx, d.tasksWG
	wg.Add(1)
	d.tasksMu.Unlock()

	go func() {
		defer wg.Done()
		defer d.tasks.Release(1)
		f(ctx)
	}()
	return true
}

// drainTasks cancels running background tasks, waits for them, and leaves a
// fresh task context so the DHT stays usable after Stop.
func (d *DHT) drainTasks() {
	d.tasksMu.Lock()
	cancel, wg := d.tasksCancel, d.tasksWG
	d.tasksCtx, d.tasksCancel = context.WithCancel(context.Background())
	d.tasksWG = new(sync.WaitGroup)
	d.tasksMu.Unlock()

	cancel()
	wg.Wait()
}

func (d *DHT) RemovePeer(id proto.NodeID) bool {
	return d.rt.Remove(id)
}

// GetClosestPeers answers from the local routing table only.
func (d *DHT) GetClosestPeers(target proto.NodeID, limit int) []proto.PeerInfo {
	return d.rt.Closest(target, limit)
}

// FindNodes returns the K closest known peers to target, refined by an
// iterative network lookup when a sender is configured.
func (d *DHT) FindNodes(ctx context.Context, target proto.NodeID) ([]proto.PeerInfo, error) {
	if d.sender == nil {
		return d.rt.Closest(target, d.cfg.K), nil
	}
	res, err := d.lookup(ctx, "find_node", target, d.findNodeQuery(target))
	if err != nil {
		return nil, dhtErr("find_node", err)
	}
	return res.closest, nil
}

// FindValue checks the local store only.
func (d *DHT) FindValue(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, dhtErr("find_value", ErrEmptyKey)
	}
	v, ok := d.values.Get(key)
	if !ok {
		return nil, dhtErr("find_value", ErrValueNotFound)
	}
	return v, nil
}

// Store inserts or overwrites key locally.
func (d *DHT) Store(key, value []byte) error {
	return dhtErr("store", d.values.Put(key, value))
}

// Publish stores locally, then asks the K closest peers to KeyTarget(key)
// to store it too. Remote failures are logged, not returned; acks counts
// the peers that confirmed.
func (d *DHT) Publish(ctx context.Context, key, value []byte) (int, error) {
	if err := d.Store(key, value); err != nil {
		return 0, err
	}
	if d.sender == nil {
		return 0, nil
	}

	targets, err := d.FindNodes(ctx, KeyTarget(key))
	if err != nil {
		return 0, err
	}

	var acks atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Alpha)
	for _, p := range targets {
		g.Go(func() error {
			if err := d.storeValue(gctx, p, key, value); err != nil {
				d.logf("publish to %s failed: %v", p.ID, err)
				return nil
			}
			acks.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(acks.Load()), nil
}

// LookupValue tries the local store, then the network.
func (d *DHT) LookupValue(ctx context.Context, key []byte) ([]byte, error) {
	v, err := d.FindValue(key)
	if err == nil || d.sender == nil || errors.Is(err, ErrEmptyKey) {
		return v, err
	}
	res, err := d.lookup(ctx, "get", KeyTarget(key), d.getValueQuery(key))
	if err != nil {
		return nil, dhtErr("lookup_value", err)
	}
	if !res.found {
		return nil, dhtErr("lookup_value", ErrValueNotFound)
	}
	// cache the hit
	_ = d.values.Put(key, res.value)
	return res.value, nil
}

func (d *DHT) pingContact(ctx context.Context, c Contact) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return d.Ping(ctx, c.Info) == nil
}

// dhtErr classifies err as a DHT failure unless it already is one.
func dhtErr(op string, err error) error {
	if err == nil || errs.KindOf(err) == errs.KindDHT {
		return err
	}
	return errs.E(errs.KindDHT, op, err)
}

func (d *DHT) logf(format string, args ...any) {
	if d.sender != nil {
		d.sender.Logf("dht: "+format, args...)
		return
	}
	if d.logger != nil {
		d.logger.Printf("[dht %s] "+format, append([]any{d.self}, args...)...)
	}
}
