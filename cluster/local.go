package cluster

import (
	"context"
	"fmt"
	"sync"
)

// Static is a fixed membership.
type Static struct {
	local Node
	nodes []Node
}

// NewStatic creates a membership of local plus peers.
func NewStatic(local Node, peers ...Node) *Static {
	nodes := append([]Node{local}, peers...)
	return &Static{local: local, nodes: nodes}
}

func (s *Static) LocalNode() Node { return s.local }

// IsElectedCoordinator reports whether the local node wins ElectCoordinator.
func (s *Static) IsElectedCoordinator() bool {
	c, ok := ElectCoordinator(s.nodes)
	return ok && c.ID == s.local.ID
}

func (s *Static) Nodes(context.Context) ([]Node, error) {
	return append([]Node(nil), s.nodes...), nil
}

// MemorySettings keeps the breaker flag in process memory. Every write bumps
// the revision.
type MemorySettings struct {
	mu        sync.Mutex
	triggered bool
	rev       uint64
}

func (m *MemorySettings) BreakerTriggered(ctx context.Context) (bool, error) {
	v, _, err := m.BreakerState(ctx)
	return v, err
}

func (m *MemorySettings) SetBreakerTriggered(_ context.Context, v bool) error {
	m.mu.Lock()
	m.triggered = v
	m.rev++
	m.mu.Unlock()
	return nil
}

func (m *MemorySettings) BreakerState(context.Context) (bool, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered, m.rev, nil
}

func (m *MemorySettings) ClearBreaker(_ context.Context, rev uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rev != rev {
		return fmt.Errorf("%w: revision %d, expected %d", ErrBreakerChanged, m.rev, rev)
	}
	m.triggered = false
	m.rev++
	return nil
}

// LocalStats collects capacity from in-process reporters keyed by node ID.
type LocalStats struct {
	mu        sync.RWMutex
	reporters map[string]CapacityFunc
}

// NewLocalStats creates a collector with no reporters.
func NewLocalStats() *LocalStats {
	return &LocalStats{reporters: make(map[string]CapacityFunc)}
}

// Register adds or replaces the reporter for nodeID.
func (l *LocalStats) Register(nodeID string, fn CapacityFunc) {
	l.mu.Lock()
	l.reporters[nodeID] = fn
	l.mu.Unlock()
}

// CollectCapacity calls every reporter. A nil reporter counts as a missing node.
func (l *LocalStats) CollectCapacity(ctx context.Context) ([]NodeCapacity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteStats, err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]NodeCapacity, 0, len(l.reporters))
	for id, fn := range l.reporters {
		if fn == nil {
			return nil, fmt.Errorf("%w: node %s has no reporter", ErrIncompleteStats, id)
		}
		c := fn()
		c.NodeID = id
		out = append(out, c)
	}
	return out, nil
}
