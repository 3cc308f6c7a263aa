// Package query runs k-NN queries against graphs held by the cache.
//
// The Executor borrows a loaded graph for the duration of one native call,
// counts successes and failures, and returns raw engine distances. Turning a
// distance into a relevance score is left to the caller.
package query
