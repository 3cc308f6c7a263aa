package promstats

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/cache"
)

type staticSource cache.Stats

func (s staticSource) Stats() cache.Stats { return cache.Stats(s) }

func TestCollector(t *testing.T) {
	src := staticSource{
		LimitKB:          1000,
		WeightKB:         300,
		WeightPercentage: 30,
		CapacityReached:  true,
		GraphCount:       3,
		Indices: map[string]cache.IndexStats{
			"a": {GraphCount: 2, WeightKB: 200, WeightPercentage: 20},
			"b": {GraphCount: 1, WeightKB: 100, WeightPercentage: 10},
		},
	}
	c := NewCollector("knn", src, func() (bool, error) { return true, nil })

	expected := `
# HELP knn_graph_cache_index_graphs Resident graphs per index.
# TYPE knn_graph_cache_index_graphs gauge
knn_graph_cache_index_graphs{index="a"} 2
knn_graph_cache_index_graphs{index="b"} 1
# HELP knn_graph_cache_weight_kb Total weight of resident graphs in KB.
# TYPE knn_graph_cache_weight_kb gauge
knn_graph_cache_weight_kb 300
# HELP knn_graph_cache_capacity_reached 1 when the local capacity flag is set.
# TYPE knn_graph_cache_capacity_reached gauge
knn_graph_cache_capacity_reached 1
# HELP knn_circuit_breaker_triggered 1 when the cluster-wide circuit breaker is set.
# TYPE knn_circuit_breaker_triggered gauge
knn_circuit_breaker_triggered 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"knn_graph_cache_index_graphs",
		"knn_graph_cache_weight_kb",
		"knn_graph_cache_capacity_reached",
		"knn_circuit_breaker_triggered",
	))

	// 6 node-level gauges, 3 per index, 1 breaker.
	assert.Equal(t, 13, testutil.CollectAndCount(c))
}

func TestCollector_WithoutBreaker(t *testing.T) {
	c := NewCollector("knn", staticSource{}, nil)
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
}

func TestCollector_BreakerError(t *testing.T) {
	c := NewCollector("knn", staticSource{}, func() (bool, error) { return false, errors.New("kv unavailable") })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	_, err := reg.Gather()
	assert.Error(t, err)
}

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver("knn", reg)

	o.OnLoad("docs", 10*time.Millisecond, 64, nil)
	o.OnLoad("docs", time.Millisecond, 0, errors.New("boom"))
	o.OnQuery("docs", time.Millisecond, 5, nil)
	o.OnQuery("docs", time.Millisecond, 0, errors.New("boom"))
	o.OnQuery("docs", time.Millisecond, 0, errors.New("boom"))
	o.OnEviction("docs", cache.CauseSize, 64)
	o.OnFree("flat", nil)
	o.OnQueueDepth("free", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.loads.WithLabelValues("docs", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.loads.WithLabelValues("docs", "error")))
	assert.Equal(t, 64.0, testutil.ToFloat64(o.loadedKB.WithLabelValues("docs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.queries.WithLabelValues("docs", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.evictions.WithLabelValues("docs", "size")))
	assert.Equal(t, 64.0, testutil.ToFloat64(o.evictedKB.WithLabelValues("size")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.frees.WithLabelValues("flat", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(o.queueDepth.WithLabelValues("free")))

	assert.Equal(t, 1, testutil.CollectAndCount(o.loadDuration))
}
