package cache

import (
	"sync"
	"sync/atomic"
)

// freer runs native frees on one background goroutine. The queue is
// unbounded so eviction never blocks on a slow free.
type freer struct {
	mu      sync.Mutex
	pending []func()
	wakeCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	depth   func(int)
}

func newFreer(depth func(int)) *freer {
	f := &freer{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		depth:  depth,
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// submit enqueues task. After close the task runs inline.
func (f *freer) submit(task func()) {
	f.mu.Lock()
	if f.closed.Load() {
		f.mu.Unlock()
		task()
		return
	}
	f.pending = append(f.pending, task)
	n := len(f.pending)
	f.mu.Unlock()

	f.report(n)
	select {
	case f.wakeCh <- struct{}{}:
	default:
	}
}

func (f *freer) run() {
	defer f.wg.Done()

	for {
		select {
		case <-f.wakeCh:
			f.drain()
		case <-f.stopCh:
			// Drain remaining work before exiting
			f.drain()
			return
		}
	}
}

func (f *freer) drain() {
	for {
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()

		if len(batch) == 0 {
			f.report(0)
			return
		}
		for _, task := range batch {
			task()
		}
	}
}

func (f *freer) report(n int) {
	if f.depth != nil {
		f.depth(n)
	}
}

// len returns the number of queued tasks.
func (f *freer) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// close runs all queued tasks and stops the worker. It is idempotent.
func (f *freer) close() {
	f.mu.Lock()
	if !f.closed.CompareAndSwap(false, true) {
		f.mu.Unlock()
		return
	}
	close(f.stopCh)
	f.mu.Unlock()

	f.wg.Wait()
}
