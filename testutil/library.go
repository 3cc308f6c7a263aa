package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/knncache/native"
)

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("testutil: injected failure")

// FakeLibrary is an in-memory native.Library that records lifetimes.
type FakeLibrary struct {
	mu         sync.Mutex
	next       uint64
	live       map[uint64]string
	freed      map[uint64]string
	loadsBy    map[string]int
	loadFail   map[string]error
	queryErr   error
	loadDelay  time.Duration
	queryDelay time.Duration
	loadGate   chan struct{}
	results    []native.Result

	started      atomic.Int64
	loads        atomic.Int64
	queries      atomic.Int64
	frees        atomic.Int64
	useAfterFree atomic.Int64
	doubleFree   atomic.Int64
}

// NewFakeLibrary creates a fake library that returns a single result per query.
func NewFakeLibrary() *FakeLibrary {
	return &FakeLibrary{
		live:     make(map[uint64]string),
		freed:    make(map[uint64]string),
		loadsBy:  make(map[string]int),
		loadFail: make(map[string]error),
		results:  []native.Result{{DocID: 1, Distance: 0.5}},
	}
}

// Engine returns a registry entry binding this library to ext.
func (f *FakeLibrary) Engine(name string, ext ...string) native.Engine {
	return native.Engine{Name: name, Extensions: ext, Library: f}
}

// FailLoad makes loads of path fail with err (ErrInjected when nil).
func (f *FakeLibrary) FailLoad(path string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	f.loadFail[path] = err
	f.mu.Unlock()
}

// FailQueries makes every query fail with err. nil clears the failure.
func (f *FakeLibrary) FailQueries(err error) {
	f.mu.Lock()
	f.queryErr = err
	f.mu.Unlock()
}

// SetLoadDelay makes every load sleep for d.
func (f *FakeLibrary) SetLoadDelay(d time.Duration) {
	f.mu.Lock()
	f.loadDelay = d
	f.mu.Unlock()
}

// SetQueryDelay makes every query sleep for d while "holding" the handle.
func (f *FakeLibrary) SetQueryDelay(d time.Duration) {
	f.mu.Lock()
	f.queryDelay = d
	f.mu.Unlock()
}

// GateLoads makes loads block until the returned function is called.
func (f *FakeLibrary) GateLoads() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.loadGate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Load implements native.Library.
func (f *FakeLibrary) Load(path string, _ native.LoadParams) (native.Handle, error) {
	f.started.Add(1)

	f.mu.Lock()
	gate, delay, failErr := f.loadGate, f.loadDelay, f.loadFail[path]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	f.loads.Add(1)
	if failErr != nil {
		return native.Handle{}, failErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.live[f.next] = path
	f.loadsBy[path]++
	return native.NewHandle(f.next), nil
}

// Query implements native.Library.
func (f *FakeLibrary) Query(h native.Handle, _ []float32, k int, _ native.QueryParams) ([]native.Result, error) {
	f.queries.Add(1)

	f.mu.Lock()
	_, ok := f.live[h.Value()]
	delay, qerr := f.queryDelay, f.queryErr
	res := f.results
	f.mu.Unlock()

	if !ok {
		f.useAfterFree.Add(1)
		return nil, fmt.Errorf("%w: %s", native.ErrUnknownHandle, h)
	}
	if delay > 0 {
		time.Sleep(delay)
		f.mu.Lock()
		_, ok = f.live[h.Value()]
		f.mu.Unlock()
		if !ok {
			f.useAfterFree.Add(1)
		}
	}
	if qerr != nil {
		return nil, qerr
	}
	if k < len(res) {
		res = res[:k]
	}
	return append([]native.Result(nil), res...), nil
}

// Free implements native.Library.
func (f *FakeLibrary) Free(h native.Handle) error {
	f.frees.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.live[h.Value()]
	if !ok {
		f.doubleFree.Add(1)
		return fmt.Errorf("%w: %s", native.ErrUnknownHandle, h)
	}
	delete(f.live, h.Value())
	f.freed[h.Value()] = path
	return nil
}

// LoadsStarted returns the number of Load calls that have been entered,
// including ones still blocked on a gate.
func (f *FakeLibrary) LoadsStarted() int { return int(f.started.Load()) }

// Loads returns the number of Load calls that ran to completion.
func (f *FakeLibrary) Loads() int { return int(f.loads.Load()) }

// LoadsOf returns the number of successful loads of path.
func (f *FakeLibrary) LoadsOf(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadsBy[path]
}

// Queries returns the number of Query calls.
func (f *FakeLibrary) Queries() int { return int(f.queries.Load()) }

// Frees returns the number of Free calls.
func (f *FakeLibrary) Frees() int { return int(f.frees.Load()) }

// Live returns the number of handles loaded and not yet freed.
func (f *FakeLibrary) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// UseAfterFree returns how many queries touched a freed handle.
func (f *FakeLibrary) UseAfterFree() int { return int(f.useAfterFree.Load()) }

// DoubleFrees returns how many Free calls targeted an unknown or freed handle.
func (f *FakeLibrary) DoubleFrees() int { return int(f.doubleFree.Load()) }
