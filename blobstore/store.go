package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is a read-only view of a graph repository.
//
// Names are slash-separated and relative to the store root.
type BlobStore interface {
	// List returns the sorted names of all blobs under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Download writes the blob into w starting at offset 0 and returns the
	// number of bytes written.
	Download(ctx context.Context, name string, w io.WriterAt) (int64, error)
}
