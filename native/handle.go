package native

import "strconv"

// Handle is an opaque reference to a graph resident in native memory.
// The zero Handle is invalid.
type Handle struct {
	v uint64
}

// NewHandle wraps a library-assigned identifier. Only Library implementations
// should call it.
func NewHandle(v uint64) Handle { return Handle{v: v} }

// Valid reports whether h refers to a loaded graph.
func (h Handle) Valid() bool { return h.v != 0 }

// Value returns the library-assigned identifier. Only the owning Library
// should interpret it.
func (h Handle) Value() uint64 { return h.v }

func (h Handle) String() string {
	if h.v == 0 {
		return "handle(invalid)"
	}
	return "handle(" + strconv.FormatUint(h.v, 10) + ")"
}
