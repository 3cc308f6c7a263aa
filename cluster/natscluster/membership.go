package natscluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hupe1980/knncache/cluster"
)

const (
	// DefaultMembersBucket holds one heartbeat key per live node.
	DefaultMembersBucket = "knncache_nodes"
	// DefaultHeartbeat is how often a node refreshes its key.
	DefaultHeartbeat = 5 * time.Second
)

var _ cluster.Membership = (*Membership)(nil)

// MembershipConfig configures a Membership.
type MembershipConfig struct {
	Bucket    string
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Membership tracks live nodes through a TTL'd KV bucket.
type Membership struct {
	kv        jetstream.KeyValue
	local     cluster.Node
	heartbeat time.Duration
	logger    *slog.Logger

	elected atomic.Bool

	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewMembership registers local and starts heartbeating.
func NewMembership(ctx context.Context, nc *nats.Conn, local cluster.Node, cfg MembershipConfig) (*Membership, error) {
	if local.ID == "" {
		return nil, errors.New("natscluster: node id is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultMembersBucket
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	kv, err := bucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "knncache live nodes",
		TTL:         3 * cfg.Heartbeat,
	})
	if err != nil {
		return nil, err
	}

	m := &Membership{
		kv:        kv,
		local:     local,
		heartbeat: cfg.Heartbeat,
		logger:    cfg.Logger,
		closeCh:   make(chan struct{}),
	}
	if err := m.beat(ctx); err != nil {
		return nil, err
	}
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *Membership) LocalNode() cluster.Node { return m.local }

// IsElectedCoordinator reflects the view from the last heartbeat.
func (m *Membership) IsElectedCoordinator() bool { return m.elected.Load() }

// Nodes lists the live nodes.
func (m *Membership) Nodes(ctx context.Context) ([]cluster.Node, error) {
	keys, err := m.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("natscluster: list nodes: %w", err)
	}

	nodes := make([]cluster.Node, 0, len(keys))
	for _, k := range keys {
		entry, err := m.kv.Get(ctx, k)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("natscluster: read node %s: %w", k, err)
		}
		var n cluster.Node
		if err := json.Unmarshal(entry.Value(), &n); err != nil {
			m.logger.Warn("skipping malformed node entry", "key", k, "error", err)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Refresh re-reads the membership and re-runs the election.
func (m *Membership) Refresh(ctx context.Context) error {
	return m.refresh(ctx)
}

func (m *Membership) refresh(ctx context.Context) error {
	nodes, err := m.Nodes(ctx)
	if err != nil {
		return err
	}
	c, ok := cluster.ElectCoordinator(nodes)
	elected := ok && c.ID == m.local.ID
	if m.elected.Swap(elected) != elected {
		m.logger.Info("coordinator election changed", "node", m.local.ID, "elected", elected)
	}
	return nil
}

func (m *Membership) beat(ctx context.Context) error {
	data, err := json.Marshal(m.local)
	if err != nil {
		return err
	}
	if _, err := m.kv.Put(ctx, m.local.ID, data); err != nil {
		return fmt.Errorf("natscluster: heartbeat: %w", err)
	}
	return nil
}

func (m *Membership) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.heartbeat)
			if err := m.beat(ctx); err != nil {
				m.logger.Warn("heartbeat failed", "node", m.local.ID, "error", err)
			} else if err := m.refresh(ctx); err != nil {
				m.logger.Warn("membership refresh failed", "node", m.local.ID, "error", err)
			}
			cancel()
		}
	}
}

// Close stops heartbeating and removes the local node's key.
func (m *Membership) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.closeCh)
	m.wg.Wait()
	m.elected.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), m.heartbeat)
	defer cancel()
	return m.kv.Delete(ctx, m.local.ID)
}
