// Package flat is an exact-search engine that keeps graph payloads in
// off-heap memory.
//
// A flat graph file holds a header, a doc-id table and a vector block. The
// vector block is either stored raw, in which case it is served directly from
// a read-only file mapping, or compressed with LZ4 or ZSTD, in which case it is
// decoded once at load time into an anonymous mapping. Either way the vectors
// never live on the Go heap and are released only by Library.Free.
//
// Query is a brute-force scan with a bounded max-heap and an optional roaring
// bitmap filter over doc IDs.
package flat
