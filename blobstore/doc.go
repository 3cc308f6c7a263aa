// Package blobstore reads graph files from a remote repository.
//
// A BlobStore lists and downloads immutable blobs. The Fetcher materializes
// them into a local shard directory so native libraries can map them from
// disk, bounding parallelism and throttling throughput through the resource
// controller.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system (mmap-backed reads)
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with parallel ranged downloads
//   - minio.Store: MinIO and other S3-compatible storage
//
// # Usage
//
//	f := blobstore.NewFetcher(store,
//	    blobstore.WithConcurrency(8),
//	    blobstore.WithExtensions(".knnf"),
//	)
//	paths, err := f.Fetch(ctx, "products/shard-0/", "/var/lib/knncache/products/0")
package blobstore
