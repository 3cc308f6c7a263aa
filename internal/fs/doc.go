// Package fs abstracts the file system calls made by the graph cache.
//
// [LocalFS] is backed by the os package. [FaultyFS] injects stat failures and
// fake file sizes in tests.
//
// # Size Probe
//
// [SizeInKB] computes the cache weight of a serialized graph file:
//
//	kb, err := fs.SizeInKB(fs.Default, "/data/idx/_0_vec.knnf")
//
// Weights are the file size rounded up to the next whole kilobyte.
package fs
