package knncache

import (
	"errors"

	"github.com/hupe1980/knncache/breaker"
	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/query"
)

var (
	// ErrUnknownIndex is returned when searching an index that was never warmed.
	ErrUnknownIndex = errors.New("knncache: unknown index")
	// ErrNodeClosed is returned by operations on a closed Node.
	ErrNodeClosed = errors.New("knncache: node is closed")

	ErrEmptyKey       = cache.ErrEmptyKey
	ErrEntryClosed    = cache.ErrEntryClosed
	ErrGraphTooLarge  = cache.ErrGraphTooLarge
	ErrEngineMismatch = cache.ErrEngineMismatch
	ErrCacheClosed    = cache.ErrClosed
	ErrUnknownSpace   = native.ErrUnknownSpace
	ErrUnknownEngine  = native.ErrUnknownEngine
	ErrInvalidK       = query.ErrInvalidK
	ErrEmptyVector    = query.ErrEmptyVector
)

// LoadError reports a failed graph load. The cause is available via errors.Unwrap.
type LoadError = cache.LoadError

// QueryError reports a failed native query.
type QueryError = cache.QueryError

// CoordinationError reports an abandoned breaker tick.
type CoordinationError = breaker.CoordinationError
