package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElectCoordinator(t *testing.T) {
	nodes := []Node{
		{ID: "n3", Roles: []Role{RoleClusterManager}},
		{ID: "n1", Roles: []Role{RoleData}},
		{ID: "n2", Roles: []Role{RoleData, RoleClusterManager}},
	}
	c, ok := ElectCoordinator(nodes)
	require.True(t, ok)
	assert.Equal(t, "n2", c.ID)

	_, ok = ElectCoordinator([]Node{{ID: "n1", Roles: []Role{RoleData}}})
	assert.False(t, ok)
}

func TestStatic(t *testing.T) {
	local := Node{ID: "a", Roles: []Role{RoleData, RoleClusterManager}}
	s := NewStatic(local, Node{ID: "b", Roles: []Role{RoleClusterManager}})
	assert.True(t, s.IsElectedCoordinator())
	assert.True(t, s.LocalNode().HasRole(RoleData))

	nodes, err := s.Nodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	s = NewStatic(Node{ID: "c", Roles: []Role{RoleClusterManager}}, Node{ID: "b", Roles: []Role{RoleClusterManager}})
	assert.False(t, s.IsElectedCoordinator())
}

func TestMemorySettings(t *testing.T) {
	var m MemorySettings
	ctx := context.Background()

	v, err := m.BreakerTriggered(ctx)
	require.NoError(t, err)
	assert.False(t, v)

	require.NoError(t, m.SetBreakerTriggered(ctx, true))
	v, err = m.BreakerTriggered(ctx)
	require.NoError(t, err)
	assert.True(t, v)

	_, rev, err := m.BreakerState(ctx)
	require.NoError(t, err)
	require.NoError(t, m.SetBreakerTriggered(ctx, true))
	assert.ErrorIs(t, m.ClearBreaker(ctx, rev), ErrBreakerChanged)

	v, rev, err = m.BreakerState(ctx)
	require.NoError(t, err)
	assert.True(t, v)
	require.NoError(t, m.ClearBreaker(ctx, rev))
	v, err = m.BreakerTriggered(ctx)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestLocalStats(t *testing.T) {
	l := NewLocalStats()
	l.Register("a", func() NodeCapacity { return NodeCapacity{CapacityReached: true, WeightKB: 5} })
	l.Register("b", func() NodeCapacity { return NodeCapacity{} })

	caps, err := l.CollectCapacity(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 2)

	byID := map[string]NodeCapacity{}
	for _, c := range caps {
		byID[c.NodeID] = c
	}
	assert.True(t, byID["a"].CapacityReached)
	assert.False(t, byID["b"].CapacityReached)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.CollectCapacity(ctx)
	assert.ErrorIs(t, err, ErrIncompleteStats)

	l.Register("c", nil)
	_, err = l.CollectCapacity(context.Background())
	assert.ErrorIs(t, err, ErrIncompleteStats)
}
