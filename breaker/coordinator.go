package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/cluster"
)

const (
	DefaultPollInterval    = 2 * time.Minute
	DefaultUnsetPercentage = 75.0
	DefaultStatsTimeout    = 10 * time.Second
)

// CacheView is the part of the graph cache the breaker reads and resets.
type CacheView interface {
	IsCapacityReached() bool
	SetCapacityReached(bool)
	WeightInKB() int64
	Settings() cache.Settings
}

// Config configures a Coordinator.
type Config struct {
	// PollInterval is the delay between the end of one tick and the next.
	PollInterval time.Duration
	// UnsetPercentage of the limit at or below which the local flag clears.
	UnsetPercentage float64
	// StatsTimeout bounds the cross-node capacity collection.
	StatsTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.UnsetPercentage <= 0 || c.UnsetPercentage > 100 {
		c.UnsetPercentage = DefaultUnsetPercentage
	}
	if c.StatsTimeout <= 0 {
		c.StatsTimeout = DefaultStatsTimeout
	}
	return c
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Coordinator drives the breaker tick and applies breaker triggers.
type Coordinator struct {
	cache      CacheView
	membership cluster.Membership
	settings   cluster.SettingsStore
	stats      cluster.StatsCollector
	cfg        Config
	logger     *slog.Logger

	triggerCh chan struct{}
	triggers  atomic.Int64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a coordinator. It does nothing until Start.
func New(cv CacheView, membership cluster.Membership, settings cluster.SettingsStore, stats cluster.StatsCollector, cfg Config, opts ...Option) (*Coordinator, error) {
	if cv == nil || membership == nil || settings == nil || stats == nil {
		return nil, errors.New("breaker: cache, membership, settings and stats are required")
	}

	c := &Coordinator{
		cache:      cv,
		membership: membership,
		settings:   settings,
		stats:      stats,
		cfg:        cfg.withDefaults(),
		logger:     slog.New(slog.DiscardHandler),
		triggerCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Start launches the periodic tick and the trigger worker.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go c.tickLoop(ctx)
	go c.triggerLoop(ctx)

	c.logger.Info("circuit breaker started",
		"poll_interval", c.cfg.PollInterval,
		"unset_percentage", c.cfg.UnsetPercentage,
	)
}

// Stop halts both loops and waits for them.
func (c *Coordinator) Stop() error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

// TriggerBreaker requests the cluster-wide flag be set. It never blocks;
// requests made while one is pending are coalesced.
func (c *Coordinator) TriggerBreaker() {
	c.triggers.Add(1)
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// Triggers returns how many times TriggerBreaker was called.
func (c *Coordinator) Triggers() int64 { return c.triggers.Load() }

func (c *Coordinator) tickLoop(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// Errors are logged inside Tick.
			_ = c.Tick(ctx)
			timer.Reset(c.cfg.PollInterval)
		}
	}
}

func (c *Coordinator) triggerLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.triggerCh:
			c.setTriggered(ctx)
		}
	}
}

func (c *Coordinator) setTriggered(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.StatsTimeout)
	defer cancel()

	if err := c.settings.SetBreakerTriggered(sctx, true); err != nil {
		c.logger.Error("failed to trigger circuit breaker", "error", err)
		return
	}
	c.logger.Warn("circuit breaker triggered", "node", c.membership.LocalNode().ID)
}

// Tick runs one breaker round: the local unset check, then, on the elected
// coordinator, the cluster-wide check.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.unsetLocal()

	triggered, rev, err := c.settings.BreakerState(ctx)
	if err != nil {
		return c.abandon(&CoordinationError{Op: "read breaker setting", Err: err})
	}
	if !triggered || !c.membership.IsElectedCoordinator() {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, c.cfg.StatsTimeout)
	caps, err := c.stats.CollectCapacity(sctx)
	cancel()
	if err != nil {
		return c.abandon(&CoordinationError{Op: "collect node stats", Err: err})
	}

	var atCapacity []string
	for _, nc := range caps {
		if nc.CapacityReached {
			atCapacity = append(atCapacity, nc.NodeID)
		}
	}
	if len(atCapacity) > 0 {
		c.logger.Info("circuit breaker stays triggered", "nodes_at_capacity", atCapacity)
		return nil
	}

	// A node may have set the flag again while stats were collected.
	if err := c.settings.ClearBreaker(ctx, rev); err != nil {
		if errors.Is(err, cluster.ErrBreakerChanged) {
			c.logger.Info("circuit breaker rewritten during check, keeping it", "revision", rev)
			return nil
		}
		return c.abandon(&CoordinationError{Op: "clear breaker setting", Err: err})
	}
	c.logger.Info("circuit breaker cleared", "nodes", len(caps))
	return nil
}

// unsetLocal clears the local flag once weight is back under the unset threshold.
// Nodes without the data role never hold graphs and are left alone.
func (c *Coordinator) unsetLocal() {
	if !c.cache.IsCapacityReached() {
		return
	}
	if !c.membership.LocalNode().HasRole(cluster.RoleData) {
		return
	}

	limitKB := c.cache.Settings().LimitKB
	weightKB := c.cache.WeightInKB()
	unsetKB := c.cfg.UnsetPercentage / 100 * float64(limitKB)
	if limitKB > 0 && float64(weightKB) > unsetKB {
		return
	}

	c.cache.SetCapacityReached(false)
	c.logger.Info("graph cache capacity flag cleared",
		"weight_kb", weightKB,
		"unset_kb", unsetKB,
	)
}

func (c *Coordinator) abandon(err *CoordinationError) error {
	c.logger.Error("circuit breaker tick abandoned", "op", err.Op, "error", err.Err)
	return err
}
