package shard

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/cache"
	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/testutil"
)

func newRegistry(t *testing.T) (*native.Registry, *testutil.FakeLibrary) {
	t.Helper()
	lib := testutil.NewFakeLibrary()
	reg, err := native.NewRegistry(
		lib.Engine("faiss", ".faiss"),
		lib.Engine("nmslib", ".hnsw"),
	)
	require.NoError(t, err)
	return reg, lib
}

func testShard() Shard {
	return Shard{
		IndexName: "products",
		Dir:       "/data/products/0",
		Segments: []Segment{
			{
				Name: "_0",
				Files: []string{
					"_0.cfs",
					"_0_165_embedding.faiss",
					"_0_165_title_vec.hnsw",
					"_0_165_other.faiss",
				},
				Fields: []Field{
					{Name: "embedding", Attributes: map[string]string{AttrEngine: "faiss", AttrSpaceType: "innerproduct"}},
					{Name: "title_vec", Attributes: map[string]string{AttrEngine: "nmslib", AttrSpaceType: "cosinesimil"}},
					{Name: "price"},
				},
			},
			{
				Name:  "_1",
				Files: []string{"_1_165_embedding.faiss", "_1_165_embedding.hnsw"},
				Fields: []Field{
					{Name: "embedding", Attributes: map[string]string{AttrEngine: "faiss"}},
				},
			},
		},
	}
}

func TestResolver_Resolve(t *testing.T) {
	reg, _ := newRegistry(t)
	r := NewResolver(reg)

	keys, err := r.Resolve(testShard())
	require.NoError(t, err)

	assert.Equal(t, map[string]native.SpaceType{
		filepath.Join("/data/products/0", "_0_165_embedding.faiss"): native.SpaceInnerProduct,
		filepath.Join("/data/products/0", "_0_165_title_vec.hnsw"):  native.SpaceCosine,
		filepath.Join("/data/products/0", "_1_165_embedding.faiss"): native.SpaceL2,
	}, keys)
}

func TestResolver_DefaultSpace(t *testing.T) {
	reg, _ := newRegistry(t)
	r := NewResolver(reg, WithDefaultSpace(native.SpaceL1))

	keys, err := r.Resolve(testShard())
	require.NoError(t, err)
	assert.Equal(t, native.SpaceL1, keys[filepath.Join("/data/products/0", "_1_165_embedding.faiss")])
}

func TestResolver_PartialErrors(t *testing.T) {
	reg, _ := newRegistry(t)
	r := NewResolver(reg)

	s := Shard{
		IndexName: "idx",
		Dir:       "/d",
		Segments: []Segment{{
			Name:  "_0",
			Files: []string{"_0_a.faiss", "_0_b.faiss", "_0_c.faiss"},
			Fields: []Field{
				{Name: "a", Attributes: map[string]string{AttrEngine: "lucene"}},
				{Name: "b", Attributes: map[string]string{AttrEngine: "faiss", AttrSpaceType: "hamming"}},
				{Name: "c", Attributes: map[string]string{AttrEngine: "faiss", AttrSpaceType: "L2"}},
			},
		}},
	}

	keys, err := r.Resolve(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, native.ErrUnknownEngine)
	assert.ErrorIs(t, err, native.ErrUnknownSpace)
	assert.Equal(t, map[string]native.SpaceType{filepath.Join("/d", "_0_c.faiss"): native.SpaceL2}, keys)
}

type recordingLoader struct {
	mu    sync.Mutex
	index string
	keys  map[string]native.SpaceType
	err   error
}

func (l *recordingLoader) LoadIndices(_ context.Context, keys map[string]native.SpaceType, indexName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index = indexName
	l.keys = keys
	return l.err
}

func TestResolver_Warmup(t *testing.T) {
	reg, _ := newRegistry(t)
	r := NewResolver(reg)
	loader := &recordingLoader{}

	keys, err := r.Warmup(context.Background(), testShard(), loader)
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.Equal(t, "products", loader.index)
	assert.Len(t, loader.keys, 3)

	loader.err = assert.AnError
	_, err = r.Warmup(context.Background(), testShard(), loader)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestResolver_WarmupReportsResolveErrorsOnce(t *testing.T) {
	reg, _ := newRegistry(t)
	loader := &recordingLoader{}

	s := Shard{
		IndexName: "idx",
		Dir:       "/d",
		Segments: []Segment{{
			Name:  "_0",
			Files: []string{"_0_a.faiss", "_0_c.faiss"},
			Fields: []Field{
				{Name: "a", Attributes: map[string]string{AttrEngine: "lucene"}},
				{Name: "c", Attributes: map[string]string{AttrEngine: "faiss"}},
			},
		}},
	}

	keys, err := NewResolver(reg).Warmup(context.Background(), s, loader)
	require.ErrorIs(t, err, native.ErrUnknownEngine)
	assert.Equal(t, 1, strings.Count(err.Error(), "lucene"))
	assert.Equal(t, map[string]native.SpaceType{filepath.Join("/d", "_0_c.faiss"): native.SpaceL2}, keys)
	assert.Equal(t, keys, loader.keys)
}

func TestResolver_WarmupNothingToLoad(t *testing.T) {
	reg, _ := newRegistry(t)
	loader := &recordingLoader{}

	keys, err := NewResolver(reg).Warmup(context.Background(), Shard{IndexName: "empty"}, loader)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, loader.index)
}

func TestFromDirectory_WarmsCache(t *testing.T) {
	reg, lib := newRegistry(t)
	dir := t.TempDir()

	for _, name := range []string{"seg_b.faiss", "seg_a.hnsw", "notes.txt"} {
		_, err := testutil.GraphFile(dir, name, 4)
		require.NoError(t, err)
	}

	s, err := FromDirectory("docs", dir, native.SpaceCosine, reg)
	require.NoError(t, err)
	require.Len(t, s.Segments, 2)
	assert.Equal(t, "seg_a", s.Segments[0].Name)
	assert.Equal(t, "nmslib", s.Segments[0].Fields[0].Engine())

	m, err := cache.NewManager(reg, cache.Settings{LimitKB: 1024}, cache.WithSweepInterval(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	keys, err := NewResolver(reg).Warmup(context.Background(), s, m)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
	assert.Equal(t, 2, lib.Loads())
	assert.True(t, m.Contains(filepath.Join(dir, "seg_b.faiss")))
	assert.Equal(t, 2, m.IndexGraphCount("docs"))
	assert.Equal(t, int64(8), m.IndexWeightInKB("docs"))
}

func TestFromDirectory_Errors(t *testing.T) {
	reg, _ := newRegistry(t)

	_, err := FromDirectory("docs", t.TempDir(), native.SpaceL2, reg)
	assert.ErrorIs(t, err, ErrNoGraphs)

	_, err = FromDirectory("docs", t.TempDir(), native.SpaceType("hamming"), reg)
	assert.ErrorIs(t, err, native.ErrUnknownSpace)

	_, err = FromDirectory("docs", filepath.Join(t.TempDir(), "missing"), native.SpaceL2, reg)
	assert.Error(t, err)
}
