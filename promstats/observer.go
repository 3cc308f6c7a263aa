package promstats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/knncache/cache"
)

// Observer implements cache.MetricsObserver with Prometheus metrics.
type Observer struct {
	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	loadedKB      *prometheus.CounterVec
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	evictions     *prometheus.CounterVec
	evictedKB     *prometheus.CounterVec
	frees         *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
}

var _ cache.MetricsObserver = (*Observer)(nil)

// NewObserver registers the event metrics with reg.
func NewObserver(namespace string, reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "loads_total",
			Help: "Graph load attempts by index and result.",
		}, []string{"index", "result"}),
		loadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "load_duration_seconds",
			Help:    "Time spent loading graphs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"index"}),
		loadedKB: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "loaded_kb_total",
			Help: "KB of graphs loaded.",
		}, []string{"index"}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "knn", Name: "queries_total",
			Help: "k-NN queries by index and result.",
		}, []string{"index", "result"}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "knn", Name: "query_duration_seconds",
			Help:    "Native query latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"index"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "evictions_total",
			Help: "Entries removed from the cache by index and cause.",
		}, []string{"index", "cause"}),
		evictedKB: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "evicted_kb_total",
			Help: "KB removed from the cache by cause.",
		}, []string{"cause"}),
		frees: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "frees_total",
			Help: "Native frees by engine and result.",
		}, []string{"engine", "result"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "graph_cache", Name: "queue_depth",
			Help: "Pending work per queue.",
		}, []string{"queue"}),
	}
}

func (o *Observer) OnLoad(index string, d time.Duration, sizeKB int64, err error) {
	o.loads.WithLabelValues(index, result(err)).Inc()
	o.loadDuration.WithLabelValues(index).Observe(d.Seconds())
	if err == nil {
		o.loadedKB.WithLabelValues(index).Add(float64(sizeKB))
	}
}

func (o *Observer) OnQuery(index string, d time.Duration, _ int, err error) {
	o.queries.WithLabelValues(index, result(err)).Inc()
	o.queryDuration.WithLabelValues(index).Observe(d.Seconds())
}

func (o *Observer) OnEviction(index string, cause cache.RemovalCause, sizeKB int64) {
	o.evictions.WithLabelValues(index, cause.String()).Inc()
	o.evictedKB.WithLabelValues(cause.String()).Add(float64(sizeKB))
}

func (o *Observer) OnFree(engine string, err error) {
	o.frees.WithLabelValues(engine, result(err)).Inc()
}

func (o *Observer) OnQueueDepth(name string, depth int) {
	o.queueDepth.WithLabelValues(name).Set(float64(depth))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
