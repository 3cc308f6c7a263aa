package knncache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/nats-io/nats.go"

	"github.com/hupe1980/knncache/blobstore"
	"github.com/hupe1980/knncache/blobstore/minio"
	"github.com/hupe1980/knncache/blobstore/s3"
	"github.com/hupe1980/knncache/breaker"
	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/cluster"
	"github.com/hupe1980/knncache/cluster/natscluster"
	"github.com/hupe1980/knncache/config"
	"github.com/hupe1980/knncache/internal/resource"
	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/native/flat"
	"github.com/hupe1980/knncache/promstats"
	"github.com/hupe1980/knncache/query"
	"github.com/hupe1980/knncache/shard"
	"github.com/hupe1980/knncache/watcher"
)

const breakerReadTimeout = 2 * time.Second

// Node wires the graph cache, the native engines, the deletion watcher, the
// circuit breaker and the cluster backend of one process. Open initializes it
// and Close tears it down; there is no global instance.
type Node struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	logger   *Logger
	basic    *BasicMetricsCollector
	registry *native.Registry
	rc       *resource.Controller
	watcher  *watcher.Watcher
	cache    *cache.Manager
	executor *query.Executor
	resolver *shard.Resolver
	fetcher  *blobstore.Fetcher

	local      cluster.Node
	membership cluster.Membership
	settings   cluster.SettingsStore
	stats      cluster.StatsCollector

	coordMu     sync.Mutex
	coordinator *breaker.Coordinator
	runCtx      context.Context
	cancel      context.CancelFunc

	indicesMu sync.RWMutex
	indices   map[string]map[string]native.SpaceType

	closers []func() error
	closed  atomic.Bool
}

// NodeStats is a point-in-time view of a node.
type NodeStats struct {
	NodeID           string            `json:"node_id"`
	Coordinator      bool              `json:"coordinator"`
	BreakerTriggered bool              `json:"breaker_triggered"`
	Cache            cache.Stats       `json:"cache"`
	Queries          query.Stats       `json:"queries"`
	Events           BasicMetricsStats `json:"events"`
	Indices          map[string]int    `json:"indices"`
}

// SearchRequest is a k-NN query over every graph of a warmed index.
type SearchRequest struct {
	Index    string
	Vector   []float32
	K        int
	EfSearch int
	Filter   *roaring.Bitmap
}

// Open builds a node from cfg. A nil cfg uses config.Default.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NewLoggerFromConfig(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	}

	n := &Node{
		cfg:     cfg,
		logger:  o.logger.WithNode(cfg.Node.ID),
		basic:   &BasicMetricsCollector{},
		local:   cfg.LocalNode(),
		indices: make(map[string]map[string]native.SpaceType),
	}
	n.runCtx, n.cancel = context.WithCancel(context.Background())

	if err := n.init(ctx, cfg, &o); err != nil {
		_ = n.Close()
		return nil, err
	}

	n.logger.Info("node opened",
		"roles", cfg.Node.Roles,
		"cluster_mode", cfg.Cluster.Mode,
		"cache_limit", config.FormatKB(n.cache.Settings().LimitKB),
		"engines", n.registry.Names(),
	)
	return n, nil
}

func (n *Node) init(ctx context.Context, cfg *config.Config, o *options) error {
	l := n.logger.Logger

	ioLimit, err := cfg.Resources.IOLimitBytes()
	if err != nil {
		return err
	}
	n.rc = resource.NewController(resource.Config{
		MaxBackgroundWorkers: cfg.Resources.MaxBackgroundWorkers,
		IOLimitBytesPerSec:   ioLimit,
	})

	engines := append([]native.Engine{flat.New(flat.WithLogger(l)).Engine()}, o.engines...)
	if n.registry, err = native.NewRegistry(engines...); err != nil {
		return err
	}

	observers := MultiObserver{n.basic, &logObserver{l: n.logger}}
	observers = append(observers, o.observers...)
	if o.registerer != nil {
		observers = append(observers, promstats.NewObserver(o.namespace, o.registerer))
	}

	var mgr atomic.Pointer[cache.Manager]
	n.watcher, err = watcher.New(func(path string) {
		if m := mgr.Load(); m != nil {
			m.HandleFileDeleted(path)
		}
	}, watcher.WithLogger(l))
	if err != nil {
		return err
	}

	settings, err := cfg.CacheSettings()
	if err != nil {
		return err
	}
	n.cache, err = cache.NewManager(n.registry, settings,
		cache.WithLogger(l),
		cache.WithMetricsObserver(observers),
		cache.WithFileWatcher(n.watcher),
		cache.WithResourceController(n.rc),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
		cache.WithDefaultEfSearch(cfg.Cache.EfSearch),
	)
	if err != nil {
		return err
	}
	mgr.Store(n.cache)

	if err := n.initCluster(ctx, cfg, o); err != nil {
		return err
	}

	if err := n.startCoordinator(cfg.BreakerSettings()); err != nil {
		return err
	}

	n.executor = query.NewExecutor(n.cache,
		query.WithMetricsObserver(observers),
		query.WithLogger(l),
		query.WithConcurrency(n.rc.MaxBackgroundWorkers()),
	)
	n.resolver = shard.NewResolver(n.registry, shard.WithLogger(l))

	store := o.store
	if store == nil {
		if store, err = openStore(ctx, cfg.Source); err != nil {
			return err
		}
	}
	if store != nil {
		n.fetcher = blobstore.NewFetcher(store,
			blobstore.WithConcurrency(cfg.Source.Concurrency),
			blobstore.WithResourceController(n.rc),
			blobstore.WithExtensions(n.extensions()...),
			blobstore.WithLogger(l),
		)
	}

	if o.registerer != nil {
		if err := o.registerer.Register(promstats.NewCollector(o.namespace, n.cache, n.breakerTriggered)); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) initCluster(ctx context.Context, cfg *config.Config, o *options) error {
	switch cfg.Cluster.Mode {
	case config.ModeNATS:
		nc := o.natsConn
		if nc == nil {
			var err error
			nc, err = nats.Connect(cfg.Cluster.NATSURL, nats.Name("knncache-"+n.local.ID))
			if err != nil {
				return fmt.Errorf("knncache: connect nats: %w", err)
			}
			n.closers = append(n.closers, func() error { nc.Close(); return nil })
		}

		settings, err := natscluster.NewSettings(ctx, nc, cfg.Cluster.SettingsBucket)
		if err != nil {
			return err
		}
		membership, err := natscluster.NewMembership(ctx, nc, n.local, natscluster.MembershipConfig{
			Bucket:    cfg.Cluster.NodesBucket,
			Heartbeat: cfg.Cluster.Heartbeat,
			Logger:    n.logger.Logger,
		})
		if err != nil {
			return err
		}
		n.closers = append(n.closers, membership.Close)

		responder, err := natscluster.NewResponder(nc, cfg.Cluster.StatsSubject, n.local.ID, n.capacity, n.logger.Logger)
		if err != nil {
			return err
		}
		n.closers = append(n.closers, responder.Close)

		n.settings = settings
		n.membership = membership
		n.stats = natscluster.NewCollector(nc, cfg.Cluster.StatsSubject, membership)
	default:
		stats := cluster.NewLocalStats()
		stats.Register(n.local.ID, n.capacity)

		n.settings = &cluster.MemorySettings{}
		n.membership = cluster.NewStatic(n.local)
		n.stats = stats
	}
	return nil
}

func (n *Node) startCoordinator(bc breaker.Config) error {
	coord, err := breaker.New(n.cache, n.membership, n.settings, n.stats, bc, breaker.WithLogger(n.logger.Logger))
	if err != nil {
		return err
	}

	n.coordMu.Lock()
	old := n.coordinator
	n.coordinator = coord
	n.coordMu.Unlock()

	n.cache.SetBreakerTrigger(coord)
	if old != nil {
		_ = old.Stop()
	}
	coord.Start(n.runCtx)
	return nil
}

func openStore(ctx context.Context, sc config.SourceConfig) (blobstore.BlobStore, error) {
	switch sc.Type {
	case config.SourceLocal:
		return blobstore.NewLocalStore(sc.Root), nil
	case config.SourceS3:
		opts := []s3.Option{s3.WithPrefix(sc.Prefix)}
		if sc.Region != "" {
			opts = append(opts, s3.WithRegion(sc.Region))
		}
		if sc.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(sc.Endpoint))
		}
		return s3.New(ctx, sc.Bucket, opts...)
	case config.SourceMinio:
		return minio.Dial(sc.Endpoint, sc.AccessKey, sc.SecretKey, sc.Secure, sc.Bucket, sc.Prefix)
	default:
		return nil, nil
	}
}

func (n *Node) extensions() []string {
	var exts []string
	for _, name := range n.registry.Names() {
		if e, err := n.registry.Engine(name); err == nil {
			exts = append(exts, e.Extensions...)
		}
	}
	return exts
}

func (n *Node) capacity() cluster.NodeCapacity {
	return cluster.NodeCapacity{
		NodeID:          n.local.ID,
		CapacityReached: n.cache.IsCapacityReached(),
		WeightKB:        n.cache.WeightInKB(),
		LimitKB:         n.cache.Settings().LimitKB,
	}
}

func (n *Node) breakerTriggered() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), breakerReadTimeout)
	defer cancel()
	return n.settings.BreakerTriggered(ctx)
}

// Cache returns the graph cache.
func (n *Node) Cache() *cache.Manager { return n.cache }

// Registry returns the native engine registry.
func (n *Node) Registry() *native.Registry { return n.registry }

// Coordinator returns the active circuit breaker coordinator.
func (n *Node) Coordinator() *breaker.Coordinator {
	n.coordMu.Lock()
	defer n.coordMu.Unlock()
	return n.coordinator
}

// Config returns the active configuration.
func (n *Node) Config() *config.Config {
	n.cfgMu.RLock()
	defer n.cfgMu.RUnlock()
	return n.cfg
}

// Warmup warms every configured index. Failures of one index do not stop the others.
func (n *Node) Warmup(ctx context.Context) error {
	var errs []error
	for _, idx := range n.Config().Indices {
		if _, err := n.WarmIndex(ctx, idx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WarmIndex fetches the index from the graph repository when one is
// configured, resolves its graph files and loads them into the cache. It
// returns the number of graphs found.
func (n *Node) WarmIndex(ctx context.Context, idx config.IndexConfig) (int, error) {
	if n.closed.Load() {
		return 0, ErrNodeClosed
	}
	start := time.Now()

	space := native.SpaceL2
	if idx.Space != "" {
		var err error
		if space, err = native.ParseSpaceType(idx.Space); err != nil {
			return 0, err
		}
	}

	if n.fetcher != nil && idx.Prefix != "" {
		if _, err := n.fetcher.Fetch(ctx, idx.Prefix, idx.Dir); err != nil {
			n.logger.LogWarmup(ctx, idx.Name, 0, time.Since(start), err)
			return 0, err
		}
	}

	s, err := shard.FromDirectory(idx.Name, idx.Dir, space, n.registry)
	if err != nil {
		n.logger.LogWarmup(ctx, idx.Name, 0, time.Since(start), err)
		return 0, err
	}

	keys, err := n.resolver.Warmup(ctx, s, n.cache)
	n.indicesMu.Lock()
	n.indices[idx.Name] = keys
	n.indicesMu.Unlock()

	n.logger.LogWarmup(ctx, idx.Name, len(keys), time.Since(start), err)
	return len(keys), err
}

// Indices returns the names of warmed indices.
func (n *Node) Indices() []string {
	n.indicesMu.RLock()
	defer n.indicesMu.RUnlock()

	names := make([]string, 0, len(n.indices))
	for name := range n.indices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Search runs a query against a single graph file.
func (n *Node) Search(ctx context.Context, req query.Request) ([]query.Hit, error) {
	if n.closed.Load() {
		return nil, ErrNodeClosed
	}
	return n.executor.Search(ctx, req)
}

// SearchIndex queries every graph of a warmed index and merges the top K.
func (n *Node) SearchIndex(ctx context.Context, req SearchRequest) ([]query.Hit, error) {
	if n.closed.Load() {
		return nil, ErrNodeClosed
	}

	n.indicesMu.RLock()
	keys, ok := n.indices[req.Index]
	n.indicesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, req.Index)
	}

	return n.executor.SearchAll(ctx, keys, query.Request{
		IndexName: req.Index,
		Vector:    req.Vector,
		K:         req.K,
		EfSearch:  req.EfSearch,
		Filter:    req.Filter,
	})
}

// ApplySettings applies a reloaded configuration. A changed cache limit or
// expiry rebuilds the cache; changed breaker tuning restarts the coordinator.
// Node identity, cluster and source settings only take effect on restart.
func (n *Node) ApplySettings(ctx context.Context, cfg *config.Config) error {
	if n.closed.Load() {
		return ErrNodeClosed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	settings, err := cfg.CacheSettings()
	if err != nil {
		return err
	}
	rebuilt := false
	if settings != n.cache.Settings() {
		if err := n.cache.Rebuild(settings); err != nil {
			return err
		}
		rebuilt = true
	}
	n.logger.LogSettings(ctx, settings, rebuilt)

	bc := cfg.BreakerSettings()
	if bc != n.Coordinator().Config() {
		if err := n.startCoordinator(bc); err != nil {
			return err
		}
	}

	n.cfgMu.Lock()
	n.cfg = cfg
	n.cfgMu.Unlock()
	return nil
}

// Stats returns a snapshot of the node.
func (n *Node) Stats(ctx context.Context) (NodeStats, error) {
	triggered, err := n.settings.BreakerTriggered(ctx)
	if err != nil {
		return NodeStats{}, err
	}

	n.indicesMu.RLock()
	indices := make(map[string]int, len(n.indices))
	for name, keys := range n.indices {
		indices[name] = len(keys)
	}
	n.indicesMu.RUnlock()

	return NodeStats{
		NodeID:           n.local.ID,
		Coordinator:      n.membership.IsElectedCoordinator(),
		BreakerTriggered: triggered,
		Cache:            n.cache.Stats(),
		Queries:          n.executor.Stats(),
		Events:           n.basic.GetStats(),
		Indices:          indices,
	}, nil
}

// Close stops the coordinator, frees every cached graph and releases the
// cluster resources. It is idempotent.
func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.cancel()

	var errs []error
	if c := n.Coordinator(); c != nil {
		if err := c.Stop(); err != nil && !errors.Is(err, breaker.ErrNotStarted) {
			errs = append(errs, err)
		}
	}
	if n.cache != nil {
		errs = append(errs, n.cache.Close())
	}
	if n.watcher != nil {
		errs = append(errs, n.watcher.Close())
	}
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}

	n.logger.Info("node closed")
	return errors.Join(errs...)
}
