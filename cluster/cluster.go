package cluster

import (
	"context"
	"errors"
	"slices"
)

// ErrIncompleteStats is returned when not every expected node answered a
// capacity collection.
var ErrIncompleteStats = errors.New("cluster: incomplete node stats")

// ErrBreakerChanged is returned by ClearBreaker when the flag was written
// after the revision passed to it was read.
var ErrBreakerChanged = errors.New("cluster: breaker flag changed")

// Role is a responsibility a node takes in the cluster.
type Role string

const (
	// RoleData nodes hold shards and load graphs.
	RoleData Role = "data"
	// RoleClusterManager nodes are eligible to coordinate.
	RoleClusterManager Role = "cluster_manager"
)

// Node identifies one cluster member.
type Node struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether n carries r.
func (n Node) HasRole(r Role) bool {
	return slices.Contains(n.Roles, r)
}

// NodeCapacity is the capacity state one node reports.
type NodeCapacity struct {
	NodeID          string `json:"node_id"`
	CapacityReached bool   `json:"capacity_reached"`
	WeightKB        int64  `json:"weight_kb"`
	LimitKB         int64  `json:"limit_kb"`
}

// CapacityFunc reports the local node's capacity.
type CapacityFunc func() NodeCapacity

// Membership knows the live nodes and the elected coordinator.
type Membership interface {
	LocalNode() Node
	IsElectedCoordinator() bool
	Nodes(ctx context.Context) ([]Node, error)
}

// SettingsStore persists the cluster-wide breaker flag.
type SettingsStore interface {
	BreakerTriggered(ctx context.Context) (bool, error)
	SetBreakerTriggered(ctx context.Context, triggered bool) error
	// BreakerState returns the flag and the revision of its last write.
	BreakerState(ctx context.Context) (triggered bool, rev uint64, err error)
	// ClearBreaker clears the flag only if it is still at rev.
	ClearBreaker(ctx context.Context, rev uint64) error
}

// StatsCollector gathers the capacity of every node. Implementations return
// ErrIncompleteStats rather than a partial answer.
type StatsCollector interface {
	CollectCapacity(ctx context.Context) ([]NodeCapacity, error)
}

// ElectCoordinator returns the cluster-manager-eligible node with the lowest ID.
func ElectCoordinator(nodes []Node) (Node, bool) {
	var (
		best  Node
		found bool
	)
	for _, n := range nodes {
		if !n.HasRole(RoleClusterManager) {
			continue
		}
		if !found || n.ID < best.ID {
			best, found = n, true
		}
	}
	return best, found
}
