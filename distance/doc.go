// Package distance provides the raw vector distance functions used by the
// reference native engine.
//
// All functions return raw distances where smaller means closer, so that a
// single bounded max-heap can collect the k nearest results for every space.
//
// # Supported Functions
//
//   - SquaredL2: squared Euclidean distance
//   - L1: Manhattan distance
//   - LInf: Chebyshev (maximum coordinate) distance
//   - CosineDistance: 1 - cosine similarity
//   - NegativeDot: negated inner product
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
package distance
