package cache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/knncache/internal/fs"
	"github.com/hupe1980/knncache/internal/resource"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(o MetricsObserver) Option {
	return func(m *Manager) {
		if o != nil {
			m.metrics = o
		}
	}
}

// WithFileSystem sets the file system used to probe graph sizes.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(m *Manager) {
		if fsys != nil {
			m.fsys = fsys
		}
	}
}

// WithFileWatcher registers a deletion watch for every resident graph.
func WithFileWatcher(w FileWatcher) Option {
	return func(m *Manager) {
		m.watcher = w
	}
}

// WithBreakerTrigger sets the trigger notified on size evictions.
func WithBreakerTrigger(t BreakerTrigger) Option {
	return func(m *Manager) {
		m.trigger = t
	}
}

// WithResourceController bounds warm-up concurrency.
func WithResourceController(rc *resource.Controller) Option {
	return func(m *Manager) {
		m.rc = rc
	}
}

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithSweepInterval sets how often expired entries are swept.
// Zero disables the sweeper; expiry is then enforced on access only.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.sweepInterval = d
	}
}

// WithDefaultEfSearch sets the search breadth passed to every native load.
func WithDefaultEfSearch(ef int) Option {
	return func(m *Manager) {
		m.efSearch = ef
	}
}
