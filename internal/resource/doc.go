// Package resource implements the Controller for background work governance.
//
// The Controller bounds two resources:
//
//   - Concurrency: how many background jobs (graph warm-up loads, remote
//     downloads) run at once
//   - IO: a token bucket limiting background download throughput so warm-up
//     does not starve foreground queries
//
// # Background Worker Limits
//
//	rc := resource.NewController(resource.Config{
//	    MaxBackgroundWorkers: 4,
//	})
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	w := resource.NewRateLimitedWriterAt(ctx, file, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
package resource
