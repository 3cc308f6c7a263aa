package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knncache/internal/fs"
	"github.com/hupe1980/knncache/internal/resource"
	"github.com/hupe1980/knncache/native"
)

// FileWatcher watches graph files for deletion. Watch and Unwatch calls for
// the same path are balanced by the cache.
type FileWatcher interface {
	Watch(path string) error
	Unwatch(path string)
}

// BreakerTrigger is notified when an entry is evicted for exceeding the
// weight limit. TriggerBreaker must not block.
type BreakerTrigger interface {
	TriggerBreaker()
}

// QueryRequest is a single k-NN query against one graph.
type QueryRequest struct {
	Key       string
	IndexName string
	Space     native.SpaceType
	// Engine, if set, must match the engine that loaded the graph.
	Engine string
	Vector []float32
	K      int
	Params native.QueryParams
}

// Manager is the node-wide graph cache. It is safe for concurrent use.
type Manager struct {
	registry      *native.Registry
	fsys          fs.FileSystem
	watcher       FileWatcher
	metrics       MetricsObserver
	logger        *slog.Logger
	rc            *resource.Controller
	now           func() time.Time
	sweepInterval time.Duration
	efSearch      int

	cur       atomic.Pointer[graphCache]
	rebuildMu sync.Mutex

	capacityReached atomic.Bool

	triggerMu sync.RWMutex
	trigger   BreakerTrigger

	freer *freer

	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewManager creates a cache manager that loads graphs through registry.
func NewManager(registry *native.Registry, settings Settings, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("cache: registry is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		registry:      registry,
		fsys:          fs.Default,
		metrics:       &NoopMetricsObserver{},
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
		sweepInterval: 30 * time.Second,
		closeCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rc == nil {
		m.rc = resource.NewController(resource.Config{MaxBackgroundWorkers: int64(runtime.GOMAXPROCS(0))})
	}

	m.freer = newFreer(func(depth int) { m.metrics.OnQueueDepth("native_free", depth) })
	m.cur.Store(newGraphCache(m, settings))

	if m.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}

	return m, nil
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			if n := m.cur.Load().sweep(m.now()); n > 0 {
				m.logger.Debug("expired graphs swept", "count", n)
			}
		}
	}
}

// Get returns the entry for key, loading it on first access. Concurrent
// callers for the same missing key share a single load.
func (m *Manager) Get(ctx context.Context, key, indexName string, space native.SpaceType) (*Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if key == "" {
		return nil, &LoadError{Key: key, Err: ErrEmptyKey}
	}
	return m.cur.Load().get(ctx, key, indexName, space)
}

// Query resolves the graph for req.Key, loading it if needed, and runs a
// native query while holding the entry's read lock.
func (m *Manager) Query(ctx context.Context, req QueryRequest) ([]native.Result, error) {
	e, err := m.Get(ctx, req.Key, req.IndexName, req.Space)
	if err != nil {
		return nil, err
	}
	if req.Engine != "" && req.Engine != e.EngineName() {
		return nil, fmt.Errorf("%w: graph %q was loaded by %q, query names %q", ErrEngineMismatch, req.Key, e.EngineName(), req.Engine)
	}
	return e.Query(req.Vector, req.K, req.Params)
}

// LoadIndices warms the cache with every graph in keys. Each key is loaded
// independently; failures are logged and returned joined.
func (m *Manager) LoadIndices(ctx context.Context, keys map[string]native.SpaceType, indexName string) error {
	paths := make([]string, 0, len(keys))
	for p := range keys {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, path := range paths {
		if err := m.rc.AcquireBackground(ctx); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(path string, space native.SpaceType) {
			defer wg.Done()
			defer m.rc.ReleaseBackground()

			if _, err := m.Get(ctx, path, indexName, space); err != nil {
				m.logger.Warn("graph warm-up failed", "index", indexName, "key", path, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(path, keys[path])
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Evict invalidates one entry. It reports whether key was cached.
func (m *Manager) Evict(key string) bool {
	return m.cur.Load().invalidate(key, CauseExplicit)
}

// EvictAll invalidates every entry. Weight drops to zero before it returns;
// native frees complete in the background.
func (m *Manager) EvictAll() int {
	n := m.cur.Load().invalidateAll(CauseExplicit, false)
	m.logger.Info("evicted all graphs", "count", n)
	return n
}

// HandleFileDeleted invalidates the entry backed by path.
func (m *Manager) HandleFileDeleted(path string) {
	if m.cur.Load().invalidate(path, CauseDeleted) {
		m.logger.Info("graph file deleted, entry invalidated", "key", path)
	}
}

// Rebuild swaps in an empty cache configured with settings. Entries of the
// previous instance are invalidated; queries already holding them finish first.
func (m *Manager) Rebuild(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	if m.closed.Load() {
		return ErrClosed
	}
	old := m.cur.Swap(newGraphCache(m, settings))
	n := old.invalidateAll(CauseExplicit, true)

	m.logger.Info("graph cache rebuilt",
		"limit_kb", settings.LimitKB,
		"expire_after", settings.ExpireAfter,
		"invalidated", n,
	)
	return nil
}

// Settings returns the settings of the current cache instance.
func (m *Manager) Settings() Settings {
	return m.cur.Load().settings
}

// Contains reports whether key is resident without touching its recency.
func (m *Manager) Contains(key string) bool {
	return m.cur.Load().contains(key)
}

// IsCapacityReached reports whether an entry was evicted for size since the
// flag was last cleared.
func (m *Manager) IsCapacityReached() bool {
	return m.capacityReached.Load()
}

// SetCapacityReached sets the capacity flag.
func (m *Manager) SetCapacityReached(v bool) {
	m.capacityReached.Store(v)
}

// SetBreakerTrigger installs the trigger notified on size evictions.
func (m *Manager) SetBreakerTrigger(t BreakerTrigger) {
	m.triggerMu.Lock()
	m.trigger = t
	m.triggerMu.Unlock()
}

// PendingFrees returns the number of native frees not yet executed.
func (m *Manager) PendingFrees() int {
	return m.freer.len()
}

// Close invalidates every entry and waits until all native frees have run.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.closeCh)
	m.wg.Wait()

	m.rebuildMu.Lock()
	m.cur.Load().invalidateAll(CauseExplicit, true)
	m.rebuildMu.Unlock()

	m.freer.close()
	return nil
}

// load probes, loads and watches one graph file.
func (m *Manager) load(key, indexName string, space native.SpaceType, s Settings) (*Entry, error) {
	start := time.Now()
	e, err := m.loadEntry(key, indexName, space, s)

	var sizeKB int64
	if e != nil {
		sizeKB = e.sizeKB
	}
	m.metrics.OnLoad(indexName, time.Since(start), sizeKB, err)

	if err != nil {
		m.logger.Error("graph load failed", "index", indexName, "key", key, "error", err)
		return nil, err
	}
	m.logger.Debug("graph loaded",
		"index", indexName,
		"key", key,
		"engine", e.engineName,
		"size_kb", sizeKB,
		"duration", time.Since(start),
	)
	return e, nil
}

func (m *Manager) loadEntry(key, indexName string, space native.SpaceType, s Settings) (*Entry, error) {
	if !space.Valid() {
		return nil, &LoadError{Key: key, Err: fmt.Errorf("%w: %q", native.ErrUnknownSpace, string(space))}
	}
	eng, err := m.registry.ForPath(key)
	if err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}

	sizeKB, err := fs.SizeInKB(m.fsys, key)
	if err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}
	if s.LimitKB > 0 && sizeKB > s.LimitKB {
		m.raiseCapacity(key, "graph larger than limit")
		return nil, &LoadError{Key: key, Err: fmt.Errorf("%w: %d KB > %d KB", ErrGraphTooLarge, sizeKB, s.LimitKB)}
	}

	h, err := eng.Library.Load(key, native.LoadParams{Space: space, EfSearch: m.efSearch})
	if err != nil {
		return nil, &LoadError{Key: key, Err: err}
	}

	// The watch is registered only once the graph is resident.
	if m.watcher != nil {
		if err := m.watcher.Watch(key); err != nil {
			if ferr := eng.Library.Free(h); ferr != nil {
				m.logger.Error("native free failed", "key", key, "engine", eng.Name, "error", ferr)
			}
			return nil, &LoadError{Key: key, Err: fmt.Errorf("watch: %w", err)}
		}
	}

	return newEntry(key, indexName, eng, space, sizeKB, h, m.now()), nil
}

// admit inserts a loaded entry into the current cache instance. Entries
// loaded by a retired instance move to its successor.
func (m *Manager) admit(c *graphCache, e *Entry) (*Entry, error) {
	for {
		if got, ok, err := c.insert(e); ok {
			return got, err
		}
		next := m.cur.Load()
		if next == c {
			// Only Close retires the current instance.
			m.discard(e)
			return nil, ErrClosed
		}
		c = next
	}
}

// discard releases an entry that never became visible.
func (m *Manager) discard(e *Entry) {
	if m.watcher != nil {
		m.watcher.Unwatch(e.key)
	}
	m.freer.submit(func() { m.free(e) })
}

// handleRemovals runs outside every cache lock.
func (m *Manager) handleRemovals(rs []removal) {
	for _, r := range rs {
		e := r.entry
		if m.watcher != nil {
			m.watcher.Unwatch(e.key)
		}
		m.metrics.OnEviction(e.indexName, r.cause, e.sizeKB)
		m.logger.Debug("graph removed",
			"index", e.indexName,
			"key", e.key,
			"cause", r.cause.String(),
			"size_kb", e.sizeKB,
		)

		m.freer.submit(func() { m.free(e) })

		if r.cause == CauseSize {
			m.raiseCapacity(e.key, "evicted for size")
		}
	}
}

func (m *Manager) free(e *Entry) {
	freed, err := e.close()
	if !freed {
		return
	}
	m.metrics.OnFree(e.engineName, err)
	if err != nil {
		m.logger.Error("native free failed", "key", e.key, "engine", e.engineName, "error", err)
	}
}

func (m *Manager) raiseCapacity(key, reason string) {
	if !m.capacityReached.Swap(true) {
		m.logger.Warn("graph cache capacity reached", "key", key, "reason", reason)
	}

	m.triggerMu.RLock()
	t := m.trigger
	m.triggerMu.RUnlock()
	if t != nil {
		t.TriggerBreaker()
	}
}
