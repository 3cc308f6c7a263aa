package breaker

import (
	"errors"
	"fmt"
)

// ErrNotStarted is returned by Stop before Start.
var ErrNotStarted = errors.New("breaker: coordinator not started")

// CoordinationError is a tick that was abandoned because cluster state could
// not be read or written. The cluster flag is left unchanged.
type CoordinationError struct {
	Op  string
	Err error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("breaker: %s: %v", e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}
