package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/testutil"
)

func loadedEntry(t *testing.T) (*Entry, *testutil.FakeLibrary) {
	t.Helper()
	lib := testutil.NewFakeLibrary()
	h, err := lib.Load("/g.graph", native.LoadParams{})
	require.NoError(t, err)
	return newEntry("/g.graph", "idx", lib.Engine("fake", ".graph"), native.SpaceL2, 12, h, time.Unix(5, 0)), lib
}

func TestEntry_Accessors(t *testing.T) {
	e, _ := loadedEntry(t)
	assert.Equal(t, "/g.graph", e.Key())
	assert.Equal(t, "idx", e.IndexName())
	assert.Equal(t, "fake", e.EngineName())
	assert.Equal(t, native.SpaceL2, e.Space())
	assert.Equal(t, int64(12), e.SizeKB())
	assert.Equal(t, time.Unix(5, 0), e.LastAccess())
	assert.False(t, e.Closed())
}

func TestEntry_IdempotentClose(t *testing.T) {
	e, lib := loadedEntry(t)

	var wg sync.WaitGroup
	freed := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.close()
			assert.NoError(t, err)
			freed <- ok
		}()
	}
	wg.Wait()
	close(freed)

	n := 0
	for ok := range freed {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, lib.Frees())
	assert.Zero(t, lib.DoubleFrees())
}

func TestEntry_CloseWaitsForQueries(t *testing.T) {
	e, lib := loadedEntry(t)
	lib.SetQueryDelay(20 * time.Millisecond)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- e.WithHandle(func(h native.Handle) error {
			close(started)
			_, err := lib.Query(h, []float32{1}, 1, native.QueryParams{})
			return err
		})
	}()

	<-started
	ok, err := e.close()
	require.True(t, ok)
	require.NoError(t, err)
	require.NoError(t, <-done)

	assert.Zero(t, lib.UseAfterFree())

	err = e.WithHandle(func(native.Handle) error { return nil })
	assert.ErrorIs(t, err, ErrEntryClosed)
}
