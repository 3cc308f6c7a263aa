// Package cache keeps serialized ANN graphs resident in native memory.
//
// A Manager maps a graph file path (the key) to an Entry that owns exactly one
// native.Handle. Entries are loaded on first access with at most one load per
// key in flight, weighted by their on-disk size in kilobytes, and evicted in
// least-recently-used order once the total weight exceeds the configured
// limit. Entries may also expire after a period without access.
//
// # Lifetimes
//
// Queries borrow an entry's handle under the entry's read lock. Closing an
// entry takes the write lock, so the native free never runs while a query is
// using the handle, and a query that starts after close fails with
// ErrEntryClosed instead of touching freed memory. Frees run on a dedicated
// background worker; weight accounting happens synchronously on removal.
//
// # Capacity
//
// An eviction caused by exceeding the weight limit sets the capacity-reached
// flag and notifies the BreakerTrigger, if one is configured. The flag is
// cleared by the circuit breaker once the weight has dropped far enough.
//
// # Rebuild
//
// Rebuild swaps in an empty cache configured with new Settings. The previous
// instance is retired and all of its entries are invalidated. Loads that were
// in flight on the retired instance are handed over to the new one.
package cache
