package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knncache/internal/fs"
	"github.com/hupe1980/knncache/native"
	"github.com/hupe1980/knncache/testutil"
)

const testExt = ".graph"

type fixture struct {
	m   *Manager
	lib *testutil.FakeLibrary
	dir string
}

func newFixture(t *testing.T, s Settings, opts ...Option) *fixture {
	t.Helper()

	lib := testutil.NewFakeLibrary()
	reg, err := native.NewRegistry(lib.Engine("fake", testExt))
	require.NoError(t, err)

	opts = append([]Option{WithSweepInterval(0)}, opts...)
	m, err := NewManager(reg, s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{m: m, lib: lib, dir: t.TempDir()}
}

func (f *fixture) graph(t *testing.T, name string, sizeKB int64) string {
	t.Helper()
	path, err := testutil.GraphFile(f.dir, name+testExt, sizeKB)
	require.NoError(t, err)
	return path
}

type countingTrigger struct{ n atomic.Int64 }

func (c *countingTrigger) TriggerBreaker() { c.n.Add(1) }

type recordingWatcher struct {
	mu      sync.Mutex
	watched map[string]int
	err     error
}

func newRecordingWatcher() *recordingWatcher {
	return &recordingWatcher{watched: make(map[string]int)}
}

func (w *recordingWatcher) Watch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.watched[path]++
	return nil
}

func (w *recordingWatcher) Unwatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[path]--
	if w.watched[path] == 0 {
		delete(w.watched, path)
	}
}

func (w *recordingWatcher) count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watched[path]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestManager_AtMostOneLoad(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 4)

	release := f.lib.GateLoads()

	const callers = 16
	entries := make([]*Entry, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], errs[i] = f.m.Get(context.Background(), path, "idx", native.SpaceL2)
		}(i)
	}

	require.Eventually(t, func() bool { return f.lib.LoadsStarted() == 1 }, time.Second, time.Millisecond)
	release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, entries[0], entries[i])
	}
	assert.Equal(t, 1, f.lib.Loads())
	assert.Equal(t, int64(4), f.m.WeightInKB())
}

func TestManager_EmptyKeyRejectedBeforeIO(t *testing.T) {
	faulty := fs.NewFaultyFS(fs.Default)
	f := newFixture(t, Settings{}, WithFileSystem(faulty))

	_, err := f.m.Get(context.Background(), "", "idx", native.SpaceL2)
	require.ErrorIs(t, err, ErrEmptyKey)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Zero(t, faulty.StatCalls())
	assert.Zero(t, f.lib.LoadsStarted())
}

func TestManager_LoadFailureNotCached(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "bad", 1)
	f.lib.FailLoad(path, nil)

	for i := 0; i < 2; i++ {
		_, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, path, le.Key)
		assert.ErrorIs(t, err, testutil.ErrInjected)
	}

	assert.Equal(t, 2, f.lib.Loads(), "failures are not cached")
	assert.False(t, f.m.Contains(path))
	assert.Zero(t, f.m.WeightInKB())
}

func TestManager_LoadErrors(t *testing.T) {
	f := newFixture(t, Settings{})

	_, err := f.m.Get(context.Background(), f.dir+"/missing"+testExt, "idx", native.SpaceL2)
	var le *LoadError
	require.ErrorAs(t, err, &le)

	_, err = f.m.Get(context.Background(), f.graph(t, "x", 1)+".unknown", "idx", native.SpaceL2)
	require.ErrorIs(t, err, native.ErrUnknownEngine)

	_, err = f.m.Get(context.Background(), f.graph(t, "y", 1), "idx", "hamming")
	require.ErrorIs(t, err, native.ErrUnknownSpace)

	assert.Zero(t, f.lib.LoadsStarted())
}

func TestManager_WeightIsSumOfProbedSizes(t *testing.T) {
	f := newFixture(t, Settings{})
	sizes := []int64{1, 7, 300}

	var want int64
	for i, kb := range sizes {
		path := f.graph(t, fmt.Sprintf("g%d", i), kb)
		_, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
		require.NoError(t, err)
		want += kb
	}

	assert.Equal(t, want, f.m.WeightInKB())
	assert.Equal(t, want, f.m.IndexWeightInKB("idx"))
	assert.Equal(t, 3, f.m.IndexGraphCount("idx"))
	assert.Zero(t, f.m.WeightAsPercentage(), "no limit configured")
}

func TestManager_SizeEvictionSetsCapacity(t *testing.T) {
	trigger := &countingTrigger{}
	f := newFixture(t, Settings{LimitKB: 1000}, WithBreakerTrigger(trigger))

	a := f.graph(t, "a", 800)
	b := f.graph(t, "b", 900)

	_, err := f.m.Get(context.Background(), a, "idx", native.SpaceL2)
	require.NoError(t, err)
	assert.False(t, f.m.IsCapacityReached())

	_, err = f.m.Get(context.Background(), b, "idx", native.SpaceL2)
	require.NoError(t, err)

	assert.Equal(t, int64(900), f.m.WeightInKB())
	assert.False(t, f.m.Contains(a))
	assert.True(t, f.m.Contains(b))
	assert.True(t, f.m.IsCapacityReached())
	assert.Equal(t, int64(1), trigger.n.Load())
	assert.InDelta(t, 90.0, f.m.WeightAsPercentage(), 1e-9)

	require.Eventually(t, func() bool { return f.lib.Frees() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, f.lib.Live())
}

func TestManager_ExplicitRemovalKeepsCapacityFlag(t *testing.T) {
	trigger := &countingTrigger{}
	f := newFixture(t, Settings{LimitKB: 1000}, WithBreakerTrigger(trigger))

	path := f.graph(t, "a", 10)
	_, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
	require.NoError(t, err)

	assert.True(t, f.m.Evict(path))
	assert.False(t, f.m.Evict(path))
	assert.False(t, f.m.IsCapacityReached())
	assert.Zero(t, trigger.n.Load())
}

func TestManager_GraphLargerThanLimit(t *testing.T) {
	trigger := &countingTrigger{}
	f := newFixture(t, Settings{LimitKB: 100}, WithBreakerTrigger(trigger))

	_, err := f.m.Get(context.Background(), f.graph(t, "huge", 101), "idx", native.SpaceL2)
	require.ErrorIs(t, err, ErrGraphTooLarge)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, f.m.IsCapacityReached())
	assert.Equal(t, int64(1), trigger.n.Load())
	assert.Zero(t, f.lib.LoadsStarted())
}

func TestManager_EvictAllWeightIsSynchronous(t *testing.T) {
	f := newFixture(t, Settings{})
	for i := 0; i < 3; i++ {
		_, err := f.m.Get(context.Background(), f.graph(t, fmt.Sprintf("g%d", i), 5), "idx", native.SpaceL2)
		require.NoError(t, err)
	}
	require.Equal(t, int64(15), f.m.WeightInKB())

	assert.Equal(t, 3, f.m.EvictAll())
	assert.Zero(t, f.m.WeightInKB())
	assert.Zero(t, f.m.IndexGraphCount("idx"))

	require.Eventually(t, func() bool { return f.lib.Frees() == 3 }, time.Second, time.Millisecond)
	assert.Zero(t, f.lib.Live())
	assert.Zero(t, f.lib.DoubleFrees())
}

func TestManager_QueryLoadsOnce(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 2)

	req := QueryRequest{Key: path, IndexName: "idx", Space: native.SpaceL2, Vector: []float32{1, 2}, K: 1}
	res, err := f.m.Query(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, f.lib.Loads())
	assert.Equal(t, 1, f.lib.Queries())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Query(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.lib.Loads())
	assert.Equal(t, 9, f.lib.Queries())
}

func TestManager_ConcurrentFirstQueriesShareLoad(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 2)
	f.lib.SetLoadDelay(20 * time.Millisecond)

	req := QueryRequest{Key: path, IndexName: "idx", Space: native.SpaceL2, Vector: []float32{1}, K: 1}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Query(context.Background(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.lib.Loads())
	assert.Equal(t, 2, f.lib.Queries())
}

func TestManager_QueryError(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 1)
	boom := errors.New("boom")
	f.lib.FailQueries(boom)

	_, err := f.m.Query(context.Background(), QueryRequest{Key: path, IndexName: "idx", Space: native.SpaceL2, Vector: []float32{1}, K: 1})
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "fake", qe.Engine)
	assert.ErrorIs(t, err, boom)
}

func TestManager_EngineMismatch(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 1)

	_, err := f.m.Query(context.Background(), QueryRequest{Key: path, IndexName: "idx", Space: native.SpaceL2, Engine: "faiss", Vector: []float32{1}, K: 1})
	assert.ErrorIs(t, err, ErrEngineMismatch)
}

func TestManager_NoUseAfterFree(t *testing.T) {
	f := newFixture(t, Settings{LimitKB: 10})
	f.lib.SetQueryDelay(200 * time.Microsecond)

	paths := []string{f.graph(t, "a", 6), f.graph(t, "b", 6)}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for ctx.Err() == nil {
				path := paths[i%len(paths)]
				_, err := f.m.Query(context.Background(), QueryRequest{Key: path, IndexName: "idx", Space: native.SpaceL2, Vector: []float32{1}, K: 1})
				if err != nil {
					assert.ErrorIs(t, err, ErrEntryClosed)
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			f.m.Evict(paths[0])
			f.m.HandleFileDeleted(paths[1])
			time.Sleep(50 * time.Microsecond)
		}
	}()
	wg.Wait()

	require.NoError(t, f.m.Close())
	assert.Zero(t, f.lib.UseAfterFree())
	assert.Zero(t, f.lib.DoubleFrees())
	assert.Zero(t, f.lib.Live())
}

func TestManager_ExpiryOnAccessAndSweep(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	f := newFixture(t, Settings{ExpireAfter: time.Minute}, WithClock(clock.Now))

	a := f.graph(t, "a", 1)
	b := f.graph(t, "b", 1)

	_, err := f.m.Get(context.Background(), a, "idx", native.SpaceL2)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = f.m.Get(context.Background(), a, "idx", native.SpaceL2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.lib.LoadsOf(a), "expired entry is reloaded on access")
	assert.False(t, f.m.IsCapacityReached(), "expiry is not a size eviction")

	_, err = f.m.Get(context.Background(), b, "idx", native.SpaceL2)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = f.m.Get(context.Background(), b, "idx", native.SpaceL2)
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	assert.Equal(t, 1, f.m.cur.Load().sweep(clock.Now()))
	assert.False(t, f.m.Contains(a))
	assert.True(t, f.m.Contains(b))
	assert.Equal(t, int64(1), f.m.WeightInKB())
}

func TestManager_SweeperRuns(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	f := newFixture(t, Settings{ExpireAfter: time.Second}, WithClock(clock.Now), WithSweepInterval(time.Millisecond))

	path := f.graph(t, "a", 1)
	_, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return !f.m.Contains(path) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return f.lib.Frees() == 1 }, time.Second, time.Millisecond)
}

func TestManager_Rebuild(t *testing.T) {
	f := newFixture(t, Settings{LimitKB: 100})
	a := f.graph(t, "a", 10)
	_, err := f.m.Get(context.Background(), a, "idx", native.SpaceL2)
	require.NoError(t, err)

	require.NoError(t, f.m.Rebuild(Settings{LimitKB: 50, ExpireAfter: time.Hour}))
	assert.Zero(t, f.m.WeightInKB())
	assert.Equal(t, Settings{LimitKB: 50, ExpireAfter: time.Hour}, f.m.Settings())

	_, err = f.m.Get(context.Background(), a, "idx", native.SpaceL2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.lib.LoadsOf(a))
	assert.InDelta(t, 20.0, f.m.WeightAsPercentage(), 1e-9)

	require.ErrorIs(t, f.m.Rebuild(Settings{LimitKB: -1}), ErrInvalidSettings)

	require.Eventually(t, func() bool { return f.lib.Frees() == 1 }, time.Second, time.Millisecond)
}

func TestManager_RebuildAdoptsInFlightLoad(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 3)
	release := f.lib.GateLoads()

	done := make(chan *Entry, 1)
	go func() {
		e, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
		assert.NoError(t, err)
		done <- e
	}()

	require.Eventually(t, func() bool { return f.lib.LoadsStarted() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.m.Rebuild(Settings{LimitKB: 1000}))
	release()

	e := <-done
	require.NotNil(t, e)
	assert.True(t, f.m.Contains(path))
	assert.Equal(t, int64(3), f.m.WeightInKB())
	assert.False(t, e.Closed())
}

func TestManager_RebuildRejectsAdoptedLoadOverNewLimit(t *testing.T) {
	trigger := &countingTrigger{}
	f := newFixture(t, Settings{}, WithBreakerTrigger(trigger))
	path := f.graph(t, "a", 5)
	release := f.lib.GateLoads()

	type result struct {
		e   *Entry
		err error
	}
	done := make(chan result, 1)
	go func() {
		e, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
		done <- result{e, err}
	}()

	require.Eventually(t, func() bool { return f.lib.LoadsStarted() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.m.Rebuild(Settings{LimitKB: 2}))
	release()

	res := <-done
	assert.Nil(t, res.e)
	require.ErrorIs(t, res.err, ErrGraphTooLarge)
	var le *LoadError
	require.ErrorAs(t, res.err, &le)
	assert.Equal(t, path, le.Key)

	assert.False(t, f.m.Contains(path))
	assert.Zero(t, f.m.WeightInKB())
	assert.Equal(t, int64(1), trigger.n.Load())
	require.Eventually(t, func() bool { return f.lib.Live() == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, f.lib.DoubleFrees())
}

func TestManager_FileDeletion(t *testing.T) {
	w := newRecordingWatcher()
	f := newFixture(t, Settings{}, WithFileWatcher(w))
	path := f.graph(t, "a", 2)

	_, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
	require.NoError(t, err)
	assert.Equal(t, 1, w.count(path))

	f.m.HandleFileDeleted(path)
	assert.False(t, f.m.Contains(path))
	assert.Zero(t, w.count(path))
	assert.Zero(t, f.m.WeightInKB())
	assert.False(t, f.m.IsCapacityReached())

	// Unknown paths are ignored.
	f.m.HandleFileDeleted("/nowhere" + testExt)
}

func TestManager_WatchFailureFreesHandle(t *testing.T) {
	w := newRecordingWatcher()
	w.err = errors.New("watch limit")
	f := newFixture(t, Settings{}, WithFileWatcher(w))

	_, err := f.m.Get(context.Background(), f.graph(t, "a", 1), "idx", native.SpaceL2)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, f.lib.Frees())
	assert.Zero(t, f.lib.Live())
}

func TestManager_LoadIndicesIsolatesFailures(t *testing.T) {
	f := newFixture(t, Settings{})
	good1 := f.graph(t, "good1", 1)
	good2 := f.graph(t, "good2", 2)
	bad := f.graph(t, "bad", 3)
	f.lib.FailLoad(bad, nil)

	err := f.m.LoadIndices(context.Background(), map[string]native.SpaceType{
		good1: native.SpaceL2,
		good2: native.SpaceCosine,
		bad:   native.SpaceL2,
	}, "idx")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, bad, le.Key)

	assert.True(t, f.m.Contains(good1))
	assert.True(t, f.m.Contains(good2))
	assert.Equal(t, int64(3), f.m.WeightInKB())
	assert.Equal(t, 2, f.m.IndexGraphCount("idx"))
}

func TestManager_Stats(t *testing.T) {
	f := newFixture(t, Settings{LimitKB: 200})
	for i, idx := range []string{"a", "a", "b"} {
		_, err := f.m.Get(context.Background(), f.graph(t, fmt.Sprintf("g%d", i), 20), idx, native.SpaceL2)
		require.NoError(t, err)
	}

	s := f.m.Stats()
	assert.Equal(t, int64(200), s.LimitKB)
	assert.Equal(t, int64(60), s.WeightKB)
	assert.InDelta(t, 30.0, s.WeightPercentage, 1e-9)
	assert.Equal(t, 3, s.GraphCount)
	assert.Equal(t, IndexStats{GraphCount: 2, WeightKB: 40, WeightPercentage: 20}, s.Indices["a"])
	assert.Equal(t, IndexStats{GraphCount: 1, WeightKB: 20, WeightPercentage: 10}, s.Indices["b"])
	assert.InDelta(t, 20.0, f.m.IndexWeightAsPercentage("a"), 1e-9)

	f.m.SetCapacityReached(true)
	assert.True(t, f.m.Stats().CapacityReached)
	f.m.SetCapacityReached(false)
	assert.False(t, f.m.IsCapacityReached())
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 1)
	e, err := f.m.Get(context.Background(), path, "idx", native.SpaceL2)
	require.NoError(t, err)

	require.NoError(t, f.m.Close())
	require.NoError(t, f.m.Close())

	assert.True(t, e.Closed())
	assert.Equal(t, 1, f.lib.Frees())

	_, err = f.m.Get(context.Background(), path, "idx", native.SpaceL2)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.m.Rebuild(Settings{}), ErrClosed)

	_, err = e.Query([]float32{1}, 1, native.QueryParams{})
	assert.ErrorIs(t, err, ErrEntryClosed)
}

func TestManager_GetHonoursContext(t *testing.T) {
	f := newFixture(t, Settings{})
	path := f.graph(t, "a", 1)
	release := f.lib.GateLoads()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.m.Get(ctx, path, "idx", native.SpaceL2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, Settings{})
	assert.Error(t, err)

	reg, err := native.NewRegistry()
	require.NoError(t, err)
	_, err = NewManager(reg, Settings{ExpireAfter: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}
