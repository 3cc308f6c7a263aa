package knncache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/knncache/cache"
)

// MetricsObserver is the cache event interface. Implement it to integrate
// with monitoring systems; promstats.Observer is the Prometheus binding.
type MetricsObserver = cache.MetricsObserver

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LoadCount       atomic.Int64
	LoadErrors      atomic.Int64
	LoadTotalNanos  atomic.Int64
	LoadedKB        atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryTotalNanos atomic.Int64
	Evictions       atomic.Int64
	SizeEvictions   atomic.Int64
	Expirations     atomic.Int64
	Deletions       atomic.Int64
	FreeCount       atomic.Int64
	FreeErrors      atomic.Int64
	QueueDepth      atomic.Int64
}

var _ cache.MetricsObserver = (*BasicMetricsCollector)(nil)

// OnLoad implements cache.MetricsObserver.
func (b *BasicMetricsCollector) OnLoad(_ string, d time.Duration, sizeKB int64, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadedKB.Add(sizeKB)
}

// OnQuery implements cache.MetricsObserver.
func (b *BasicMetricsCollector) OnQuery(_ string, d time.Duration, _ int, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// OnEviction implements cache.MetricsObserver.
func (b *BasicMetricsCollector) OnEviction(_ string, cause cache.RemovalCause, _ int64) {
	b.Evictions.Add(1)
	switch cause {
	case cache.CauseSize:
		b.SizeEvictions.Add(1)
	case cache.CauseExpired:
		b.Expirations.Add(1)
	case cache.CauseDeleted:
		b.Deletions.Add(1)
	}
}

// OnFree implements cache.MetricsObserver.
func (b *BasicMetricsCollector) OnFree(_ string, err error) {
	b.FreeCount.Add(1)
	if err != nil {
		b.FreeErrors.Add(1)
	}
}

// OnQueueDepth implements cache.MetricsObserver.
func (b *BasicMetricsCollector) OnQueueDepth(_ string, depth int) {
	b.QueueDepth.Store(int64(depth))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		LoadCount:     b.LoadCount.Load(),
		LoadErrors:    b.LoadErrors.Load(),
		LoadAvgNanos:  avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		LoadedKB:      b.LoadedKB.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		Evictions:     b.Evictions.Load(),
		SizeEvictions: b.SizeEvictions.Load(),
		Expirations:   b.Expirations.Load(),
		Deletions:     b.Deletions.Load(),
		FreeCount:     b.FreeCount.Load(),
		FreeErrors:    b.FreeErrors.Load(),
		QueueDepth:    b.QueueDepth.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	LoadCount     int64 `json:"load_count"`
	LoadErrors    int64 `json:"load_errors"`
	LoadAvgNanos  int64 `json:"load_avg_nanos"`
	LoadedKB      int64 `json:"loaded_kb"`
	QueryCount    int64 `json:"query_count"`
	QueryErrors   int64 `json:"query_errors"`
	QueryAvgNanos int64 `json:"query_avg_nanos"`
	Evictions     int64 `json:"evictions"`
	SizeEvictions int64 `json:"size_evictions"`
	Expirations   int64 `json:"expirations"`
	Deletions     int64 `json:"deletions"`
	FreeCount     int64 `json:"free_count"`
	FreeErrors    int64 `json:"free_errors"`
	QueueDepth    int64 `json:"queue_depth"`
}

// MultiObserver fans every event out to all observers.
type MultiObserver []cache.MetricsObserver

func (m MultiObserver) OnLoad(index string, d time.Duration, sizeKB int64, err error) {
	for _, o := range m {
		o.OnLoad(index, d, sizeKB, err)
	}
}

func (m MultiObserver) OnQuery(index string, d time.Duration, results int, err error) {
	for _, o := range m {
		o.OnQuery(index, d, results, err)
	}
}

func (m MultiObserver) OnEviction(index string, cause cache.RemovalCause, sizeKB int64) {
	for _, o := range m {
		o.OnEviction(index, cause, sizeKB)
	}
}

func (m MultiObserver) OnFree(engine string, err error) {
	for _, o := range m {
		o.OnFree(engine, err)
	}
}

func (m MultiObserver) OnQueueDepth(name string, depth int) {
	for _, o := range m {
		o.OnQueueDepth(name, depth)
	}
}
