package native

import (
	"fmt"
	"strings"

	"github.com/hupe1980/knncache/distance"
)

// SpaceType identifies the similarity metric a graph was built with.
type SpaceType string

const (
	SpaceL2           SpaceType = "l2"
	SpaceCosine       SpaceType = "cosinesimil"
	SpaceInnerProduct SpaceType = "innerproduct"
	SpaceL1           SpaceType = "l1"
	SpaceLInf         SpaceType = "linf"
)

// spaceTable maps a metric to its raw distance function.
var spaceTable = map[SpaceType]distance.Func{
	SpaceL2:           distance.SquaredL2,
	SpaceCosine:       distance.CosineDistance,
	SpaceInnerProduct: distance.NegativeDot,
	SpaceL1:           distance.L1,
	SpaceLInf:         distance.LInf,
}

// ParseSpaceType parses a metric name. Matching is case-insensitive.
func ParseSpaceType(s string) (SpaceType, error) {
	st := SpaceType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := spaceTable[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpace, s)
	}
	return st, nil
}

// Valid reports whether s is a known metric.
func (s SpaceType) Valid() bool {
	_, ok := spaceTable[s]
	return ok
}

// DistanceFunc returns the raw distance function for s.
// Smaller values always mean closer.
func (s SpaceType) DistanceFunc() (distance.Func, error) {
	fn, ok := spaceTable[s]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpace, string(s))
	}
	return fn, nil
}

func (s SpaceType) String() string { return string(s) }
