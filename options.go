package knncache

import (
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/knncache/blobstore"
	"github.com/hupe1980/knncache/native"
)

type options struct {
	logger     *Logger
	observers  []MetricsObserver
	registerer prometheus.Registerer
	namespace  string
	engines    []native.Engine
	store      blobstore.BlobStore
	natsConn   *nats.Conn
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Defaults to the log section of the config.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsObserver adds an observer for cache and query events.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.observers = append(o.observers, m)
		}
	}
}

// WithPrometheus registers cache gauges and event metrics with reg.
func WithPrometheus(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// WithEngine registers an additional native engine next to the flat engine.
func WithEngine(e native.Engine) Option {
	return func(o *options) {
		o.engines = append(o.engines, e)
	}
}

// WithBlobStore overrides the graph repository configured in the source section.
func WithBlobStore(s blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithNATSConn uses an existing connection in nats cluster mode. The node
// does not close it.
func WithNATSConn(nc *nats.Conn) Option {
	return func(o *options) {
		o.natsConn = nc
	}
}
