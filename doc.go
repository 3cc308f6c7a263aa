// Package knncache keeps native k-NN graph files resident in memory for a
// search node and protects the node from running out of memory doing so.
//
// A [Node] wires the pieces together:
//
//   - the graph cache ([cache.Manager]) that loads each graph file once,
//     weighs it by file size and evicts by size limit or idle time
//   - the native engines ([native.Registry]) that own the off-heap graphs
//   - a file watcher that drops cached graphs whose files are deleted
//   - the cluster circuit breaker ([breaker.Coordinator]) that flips a
//     cluster-wide flag when any data node hits its cache limit
//   - the graph repository ([blobstore.Fetcher]) that downloads graph files
//     from local disk, S3 or MinIO before warm-up
//
// # Quick Start
//
//	cfg, _ := config.Load("knncache.yaml")
//	node, _ := knncache.Open(ctx, cfg)
//	defer node.Close()
//
//	_ = node.Warmup(ctx)
//	hits, _ := node.SearchIndex(ctx, knncache.SearchRequest{
//		Index:  "products",
//		Vector: []float32{0.1, 0.2, 0.3},
//		K:      10,
//	})
//
// # Cluster Modes
//
// In static mode the node is its own cluster: it always coordinates and the
// breaker flag lives in memory. In nats mode membership, the breaker flag and
// capacity reports travel over NATS JetStream key-value buckets and a
// request/reply subject.
//
// # Observability
//
// Cache and query events go to every [MetricsObserver]. [BasicMetricsCollector]
// keeps in-process counters; [WithPrometheus] exports gauges and histograms.
// Logging uses log/slog through [Logger].
//
// # Reloading Settings
//
// [Node.ApplySettings] applies a changed cache limit, expiry or breaker tuning
// at runtime. Changing the limit or expiry rebuilds the cache; graphs that are
// still loading on the old instance are carried over.
package knncache
