// Package native defines the boundary between the graph cache and the ANN
// libraries that own off-heap graph memory.
//
// A Library loads a serialized graph file and returns an opaque Handle. The
// handle is only meaningful to the library that produced it: queries and the
// final Free must go back through the same Library. Free is not required to be
// idempotent, so callers (the cache) guarantee at-most-once release.
//
// Engines are registered in a Registry that maps an engine name and its graph
// file extensions to the Library implementation. Dispatch is resolved once at
// lookup time.
package native
