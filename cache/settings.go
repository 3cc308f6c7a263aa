package cache

import (
	"fmt"
	"time"
)

// Settings shape one cache instance. Changing them requires Rebuild.
type Settings struct {
	// LimitKB bounds the total weight. Zero disables the weight limit.
	LimitKB int64
	// ExpireAfter evicts entries not accessed for this long. Zero disables expiry.
	ExpireAfter time.Duration
}

// Validate checks that limits and durations are non-negative.
func (s Settings) Validate() error {
	if s.LimitKB < 0 {
		return fmt.Errorf("%w: negative limit %d KB", ErrInvalidSettings, s.LimitKB)
	}
	if s.ExpireAfter < 0 {
		return fmt.Errorf("%w: negative expiry %s", ErrInvalidSettings, s.ExpireAfter)
	}
	return nil
}

// RemovalCause says why an entry left the cache.
type RemovalCause int

const (
	// CauseExplicit covers Evict, EvictAll, Rebuild and Close.
	CauseExplicit RemovalCause = iota
	// CauseSize is an eviction because the weight limit was exceeded.
	CauseSize
	// CauseExpired is an eviction after the access timeout.
	CauseExpired
	// CauseDeleted is an invalidation because the backing file was removed.
	CauseDeleted
)

func (c RemovalCause) String() string {
	switch c {
	case CauseExplicit:
		return "explicit"
	case CauseSize:
		return "size"
	case CauseExpired:
		return "expired"
	case CauseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}
