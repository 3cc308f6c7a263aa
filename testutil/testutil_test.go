package testutil

import (
	"math"
	"os"
	"testing"

	"github.com/hupe1980/knncache/native"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(42)
	vecs := rng.UniformVectors(10, 8)
	require.Len(t, vecs, 10)
	for _, v := range vecs {
		require.Len(t, v, 8)
		for _, x := range v {
			assert.GreaterOrEqual(t, x, float32(0))
			assert.Less(t, x, float32(1))
		}
	}
	assert.Equal(t, int64(42), rng.Seed())
}

func TestUnitVector(t *testing.T) {
	v := NewRNG(1).UnitVector(16)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestGraphFile(t *testing.T) {
	path, err := GraphFile(t.TempDir(), "a.knnf", 3)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3*1024), fi.Size())
}

func TestFakeLibrary(t *testing.T) {
	lib := NewFakeLibrary()

	h, err := lib.Load("a", native.LoadParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, lib.Live())
	assert.Equal(t, 1, lib.LoadsOf("a"))

	res, err := lib.Query(h, []float32{1}, 1, native.QueryParams{})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	require.NoError(t, lib.Free(h))
	assert.Error(t, lib.Free(h))
	assert.Equal(t, 1, lib.DoubleFrees())

	_, err = lib.Query(h, []float32{1}, 1, native.QueryParams{})
	assert.ErrorIs(t, err, native.ErrUnknownHandle)
	assert.Equal(t, 1, lib.UseAfterFree())

	lib.FailLoad("b", nil)
	_, err = lib.Load("b", native.LoadParams{})
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 2, lib.Loads())
}
