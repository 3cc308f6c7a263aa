package native

import (
	"errors"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrUnknownSpace is returned for unsupported similarity metrics.
	ErrUnknownSpace = errors.New("native: unknown space type")
	// ErrUnknownEngine is returned when no engine is registered under a name.
	ErrUnknownEngine = errors.New("native: unknown engine")
	// ErrUnknownHandle is returned when a handle was never loaded or was already freed.
	ErrUnknownHandle = errors.New("native: unknown handle")
	// ErrDimensionMismatch is returned when a query vector does not match the graph.
	ErrDimensionMismatch = errors.New("native: dimension mismatch")
)

// LoadParams are passed to Library.Load.
type LoadParams struct {
	Space SpaceType
	// EfSearch is the default search breadth used when a query does not set one.
	EfSearch int
}

// QueryParams are passed to Library.Query.
type QueryParams struct {
	EfSearch int
	// Filter restricts results to these doc IDs when non-nil.
	Filter *roaring.Bitmap
}

// Result is a single neighbor returned by a query.
type Result struct {
	DocID    uint32
	Distance float32
}

// Library is the function table of one native ANN backend.
type Library interface {
	// Load reads the graph file at path into native memory.
	Load(path string, params LoadParams) (Handle, error)
	// Query returns up to k results ordered by ascending raw distance.
	Query(h Handle, vector []float32, k int, params QueryParams) ([]Result, error)
	// Free releases the native memory behind h. Calling it twice is undefined.
	Free(h Handle) error
}
