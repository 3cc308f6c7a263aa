// Package testutil provides testing utilities for knncache.
//
// This package is intended for use in tests only.
//
// # Fake Native Library
//
// FakeLibrary implements native.Library and records every call. It flags
// queries that reach a freed handle and handles freed twice, which are the
// two lifetime violations the cache must rule out.
//
//	lib := testutil.NewFakeLibrary()
//	lib.SetQueryDelay(5 * time.Millisecond)
//	...
//	require.Zero(t, lib.UseAfterFree())
//
// # Graph Files
//
//	path, err := testutil.GraphFile(dir, "seg_0.knnf", 800) // 800 KB on disk
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(100, 16)
package testutil
