package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.knnf")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	info, err := LocalFS{}.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	_, err = LocalFS{}.Stat(path + ".missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBytesToKB(t *testing.T) {
	tests := []struct {
		bytes int64
		want  int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{1023, 1},
		{1024, 1},
		{1025, 2},
		{800 * 1024, 800},
		{800*1024 + 1, 801},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BytesToKB(tt.bytes), "bytes=%d", tt.bytes)
	}
}

func TestSizeInKB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.knnf")
	require.NoError(t, os.WriteFile(path, make([]byte, 3*1024+10), 0o600))

	kb, err := SizeInKB(nil, path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), kb)

	_, err = SizeInKB(Default, filepath.Join(dir, "missing.knnf"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = SizeInKB(Default, dir)
	assert.Error(t, err, "directories have no graph weight")
}

func TestFaultyFS_Stat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.knnf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	boom := errors.New("boom")
	ffs := NewFaultyFS(nil)
	ffs.AddRule("bad", Fault{Err: boom})

	_, err := SizeInKB(ffs, path)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ffs.StatCalls())

	good := filepath.Join(dir, "good.knnf")
	require.NoError(t, os.WriteFile(good, []byte("x"), 0o600))
	kb, err := SizeInKB(ffs, good)
	require.NoError(t, err)
	assert.Equal(t, int64(1), kb)
}

func TestFaultyFS_Size(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.knnf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	ffs := NewFaultyFS(nil)
	ffs.AddRule("huge", Fault{Size: 10 << 20})

	kb, err := SizeInKB(ffs, path)
	require.NoError(t, err)
	assert.Equal(t, int64(10<<10), kb)

	ffs.AddRule("huge", Fault{})
	_, err = SizeInKB(ffs, path)
	assert.ErrorIs(t, err, errInjected)
}
