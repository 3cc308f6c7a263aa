// Package breaker runs the native memory circuit breaker.
//
// Each node keeps a local capacity flag in its graph cache. The cache raises
// it when an entry is evicted for size; the Coordinator lowers it once the
// cache weight has fallen to UnsetPercentage of the limit. Separately, a
// cluster-wide "triggered" setting blocks vector ingestion everywhere. Any
// node may set it. Only the elected coordinator clears it, and only after
// every live node reports that it is below capacity.
//
// A failed or incomplete stats collection never clears the cluster flag.
package breaker
