// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. This package uses the
// official MinIO Go client, which also works against Ceph, SeaweedFS and Garage.
//
// # Basic Usage
//
//	store, err := minioblob.Dial("localhost:9000", "minioadmin", "minioadmin", false, "graphs", "prod/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	paths, err := blobstore.NewFetcher(store).Fetch(ctx, "products/0/", dir)
package minio
