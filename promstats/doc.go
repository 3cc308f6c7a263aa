// Package promstats exports graph cache state and events to Prometheus.
//
// Collector reads a cache snapshot on every scrape. Observer implements
// cache.MetricsObserver and records loads, queries, evictions and frees.
package promstats
