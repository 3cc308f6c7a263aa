package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyKey is returned when a graph key is empty.
	ErrEmptyKey = errors.New("cache: graph key is empty")
	// ErrEntryClosed is returned when a query reaches an entry that was already closed.
	ErrEntryClosed = errors.New("cache: entry is closed")
	// ErrGraphTooLarge is returned when a single graph exceeds the whole weight limit.
	ErrGraphTooLarge = errors.New("cache: graph exceeds cache weight limit")
	// ErrEngineMismatch is returned when a query names a different engine than the one that loaded the graph.
	ErrEngineMismatch = errors.New("cache: engine mismatch")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("cache: manager is closed")
	// ErrInvalidSettings is returned for negative limits or durations.
	ErrInvalidSettings = errors.New("cache: invalid settings")
)

// LoadError is returned when a graph could not be loaded into native memory.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("unable to load graph %q: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// QueryError is returned when the native library fails a query on a loaded graph.
type QueryError struct {
	Key    string
	Engine string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query on graph %q failed: %v", e.Engine, e.Key, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
