package cache

import "time"

// MetricsObserver defines the interface for observing cache events.
type MetricsObserver interface {
	// OnLoad is called after every load attempt.
	OnLoad(indexName string, duration time.Duration, sizeKB int64, err error)

	// OnQuery is called by query layers after a native query.
	OnQuery(indexName string, duration time.Duration, results int, err error)

	// OnEviction is called when an entry leaves the cache.
	OnEviction(indexName string, cause RemovalCause, sizeKB int64)

	// OnFree is called after the native free of an entry.
	OnFree(engineName string, err error)

	// OnQueueDepth reports the number of pending frees.
	OnQueueDepth(name string, depth int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnLoad(string, time.Duration, int64, error) {}
func (o *NoopMetricsObserver) OnQuery(string, time.Duration, int, error)  {}
func (o *NoopMetricsObserver) OnEviction(string, RemovalCause, int64)     {}
func (o *NoopMetricsObserver) OnFree(string, error)                       {}
func (o *NoopMetricsObserver) OnQueueDepth(string, int)                   {}
