package resource

import (
	"context"
	"io"
)

// RateLimitedWriterAt wraps an io.WriterAt with IO rate limiting.
// Parallel downloaders (S3 multipart) write through it concurrently.
type RateLimitedWriterAt struct {
	ctx context.Context
	w   io.WriterAt
	rc  *Controller
}

// NewRateLimitedWriterAt creates a new RateLimitedWriterAt.
func NewRateLimitedWriterAt(ctx context.Context, w io.WriterAt, rc *Controller) *RateLimitedWriterAt {
	return &RateLimitedWriterAt{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if err := w.rc.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.WriteAt(p, off)
}
