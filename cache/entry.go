package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knncache/native"
)

// Entry is one graph resident in native memory.
type Entry struct {
	key        string
	indexName  string
	engineName string
	space      native.SpaceType
	sizeKB     int64
	lib        native.Library

	mu     sync.RWMutex
	handle native.Handle
	closed bool

	// lastAccess is unix nanoseconds.
	lastAccess atomic.Int64
}

func newEntry(key, indexName string, eng native.Engine, space native.SpaceType, sizeKB int64, h native.Handle, now time.Time) *Entry {
	e := &Entry{
		key:        key,
		indexName:  indexName,
		engineName: eng.Name,
		space:      space,
		sizeKB:     sizeKB,
		lib:        eng.Library,
		handle:     h,
	}
	e.touch(now)
	return e
}

func (e *Entry) Key() string             { return e.key }
func (e *Entry) IndexName() string       { return e.indexName }
func (e *Entry) EngineName() string      { return e.engineName }
func (e *Entry) Space() native.SpaceType { return e.space }

// SizeKB is the weight of the entry, fixed at load time.
func (e *Entry) SizeKB() int64 { return e.sizeKB }

// LastAccess returns when the entry was last returned by the cache.
func (e *Entry) LastAccess() time.Time {
	return time.Unix(0, e.lastAccess.Load())
}

func (e *Entry) touch(now time.Time) {
	e.lastAccess.Store(now.UnixNano())
}

// Closed reports whether the native memory has been or is about to be freed.
func (e *Entry) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// WithHandle runs fn with the native handle while holding the read lock.
// fn must not retain the handle.
func (e *Entry) WithHandle(fn func(native.Handle) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEntryClosed
	}
	return fn(e.handle)
}

// Query issues a native query against the entry.
func (e *Entry) Query(vector []float32, k int, params native.QueryParams) ([]native.Result, error) {
	var results []native.Result
	err := e.WithHandle(func(h native.Handle) error {
		var qerr error
		results, qerr = e.lib.Query(h, vector, k, params)
		if qerr != nil {
			return &QueryError{Key: e.key, Engine: e.engineName, Err: qerr}
		}
		return nil
	})
	return results, err
}

// close marks the entry closed and frees the handle. It waits for in-flight
// queries and frees at most once; later calls return false.
func (e *Entry) close() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false, nil
	}
	e.closed = true
	h := e.handle
	e.handle = native.Handle{}
	return true, e.lib.Free(h)
}
