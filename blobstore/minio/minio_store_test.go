package minio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/blobstore"
)

func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(minio.ErrorResponse{Code: "NoSuchKey"}), blobstore.ErrNotFound)
	assert.ErrorIs(t, mapError(minio.ErrorResponse{Code: "NotFound"}), blobstore.ErrNotFound)
	assert.ErrorIs(t, mapError(assert.AnError), assert.AnError)
}

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	bucket := "test-knncache"

	store, err := Dial("localhost:9000", "minioadmin", "minioadmin", false, bucket, "test-prefix/")
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Check if MinIO is reachable
	if _, err := store.client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := store.client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio graph")
	require.NoError(t, store.Put(ctx, "idx/0/seg.knnf", data))
	t.Cleanup(func() {
		_ = store.client.RemoveObject(context.Background(), bucket, store.key("idx/0/seg.knnf"), minio.RemoveObjectOptions{})
	})

	names, err := store.List(ctx, "idx/")
	require.NoError(t, err)
	assert.Contains(t, names, "idx/0/seg.knnf")

	dir := t.TempDir()
	paths, err := blobstore.NewFetcher(store).Fetch(ctx, "idx/0/", dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "seg.knnf")}, paths)

	got, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Download(ctx, "idx/0/missing.knnf", &discardWriterAt{})
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

type discardWriterAt struct{}

func (discardWriterAt) WriteAt(p []byte, _ int64) (int, error) { return len(p), nil }
