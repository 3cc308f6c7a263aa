// Package mmap provides memory mappings that live outside the Go heap.
//
// # Overview
//
// Native graph handles own their memory through a Mapping. A file-backed
// mapping exposes a serialized graph file read-only; an anonymous mapping holds
// data decoded at load time (for example a decompressed vector block). In both
// cases the garbage collector never sees the memory and it is released only by
// an explicit Close.
//
// # Usage
//
//	m, err := mmap.Open("segment_0.knnf")
//	if err != nil { ... }
//	defer m.Close()
//
//	data := m.Bytes() // zero-copy view of the file
//
//	anon, err := mmap.MapAnon(1 << 20) // 1 MiB off-heap, read-write
//
// # Thread Safety
//
// Close is idempotent and protected by an atomic flag. Callers must make sure
// no goroutine still reads Bytes() when Close is called; the graph cache does
// this with a per-entry read/write lock.
package mmap
