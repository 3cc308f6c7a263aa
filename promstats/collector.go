package promstats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/knncache/cache"
)

// StatsSource provides cache snapshots.
type StatsSource interface {
	Stats() cache.Stats
}

// BreakerFunc reports the cluster-wide breaker flag.
type BreakerFunc func() (bool, error)

// Collector is a prometheus.Collector over a StatsSource.
type Collector struct {
	source  StatsSource
	breaker BreakerFunc

	limit            *prometheus.Desc
	weight           *prometheus.Desc
	weightPct        *prometheus.Desc
	graphs           *prometheus.Desc
	capacity         *prometheus.Desc
	pendingFrees     *prometheus.Desc
	indexWeight      *prometheus.Desc
	indexWeightPct   *prometheus.Desc
	indexGraphs      *prometheus.Desc
	breakerTriggered *prometheus.Desc
}

// NewCollector creates a collector. breaker may be nil.
func NewCollector(namespace string, source StatsSource, breaker BreakerFunc) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "graph_cache", n) }
	idx := []string{"index"}

	return &Collector{
		source:           source,
		breaker:          breaker,
		limit:            prometheus.NewDesc(name("limit_kb"), "Configured weight limit in KB, 0 when unlimited.", nil, nil),
		weight:           prometheus.NewDesc(name("weight_kb"), "Total weight of resident graphs in KB.", nil, nil),
		weightPct:        prometheus.NewDesc(name("weight_percentage"), "Resident weight as a percentage of the limit.", nil, nil),
		graphs:           prometheus.NewDesc(name("graphs"), "Number of resident graphs.", nil, nil),
		capacity:         prometheus.NewDesc(name("capacity_reached"), "1 when the local capacity flag is set.", nil, nil),
		pendingFrees:     prometheus.NewDesc(name("pending_frees"), "Native frees waiting on the free worker.", nil, nil),
		indexWeight:      prometheus.NewDesc(name("index_weight_kb"), "Weight of resident graphs per index in KB.", idx, nil),
		indexWeightPct:   prometheus.NewDesc(name("index_weight_percentage"), "Index weight as a percentage of the limit.", idx, nil),
		indexGraphs:      prometheus.NewDesc(name("index_graphs"), "Resident graphs per index.", idx, nil),
		breakerTriggered: prometheus.NewDesc(prometheus.BuildFQName(namespace, "circuit_breaker", "triggered"), "1 when the cluster-wide circuit breaker is set.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.limit
	ch <- c.weight
	ch <- c.weightPct
	ch <- c.graphs
	ch <- c.capacity
	ch <- c.pendingFrees
	ch <- c.indexWeight
	ch <- c.indexWeightPct
	ch <- c.indexGraphs
	if c.breaker != nil {
		ch <- c.breakerTriggered
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(s.LimitKB))
	ch <- prometheus.MustNewConstMetric(c.weight, prometheus.GaugeValue, float64(s.WeightKB))
	ch <- prometheus.MustNewConstMetric(c.weightPct, prometheus.GaugeValue, s.WeightPercentage)
	ch <- prometheus.MustNewConstMetric(c.graphs, prometheus.GaugeValue, float64(s.GraphCount))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, boolToFloat(s.CapacityReached))
	ch <- prometheus.MustNewConstMetric(c.pendingFrees, prometheus.GaugeValue, float64(s.PendingFrees))

	for name, is := range s.Indices {
		ch <- prometheus.MustNewConstMetric(c.indexWeight, prometheus.GaugeValue, float64(is.WeightKB), name)
		ch <- prometheus.MustNewConstMetric(c.indexWeightPct, prometheus.GaugeValue, is.WeightPercentage, name)
		ch <- prometheus.MustNewConstMetric(c.indexGraphs, prometheus.GaugeValue, float64(is.GraphCount), name)
	}

	if c.breaker != nil {
		triggered, err := c.breaker()
		if err != nil {
			ch <- prometheus.NewInvalidMetric(c.breakerTriggered, err)
			return
		}
		ch <- prometheus.MustNewConstMetric(c.breakerTriggered, prometheus.GaugeValue, boolToFloat(triggered))
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
