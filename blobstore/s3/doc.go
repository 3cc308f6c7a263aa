// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("graphs/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	f := blobstore.NewFetcher(store)
//	paths, err := f.Fetch(ctx, "products/0/", dir)
//
// # Features
//
//   - Parallel ranged GETs through the SDK download manager
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Custom endpoints for S3-compatible services
package s3
