package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/knncache/native"
)

// removal is an entry that left a cache instance. Removals are collected under
// the cache lock and handled after it is released.
type removal struct {
	entry *Entry
	cause RemovalCause
}

// graphCache is one generation of the cache. Rebuild replaces it as a whole.
type graphCache struct {
	m        *Manager
	settings Settings

	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Entry]
	weightKB int64
	retired  bool

	flights singleflight.Group
}

func newGraphCache(m *Manager, s Settings) *graphCache {
	// Capacity is enforced by weight, never by count.
	lru, _ := simplelru.NewLRU[string, *Entry](math.MaxInt32, nil)
	return &graphCache{m: m, settings: s, lru: lru}
}

func (c *graphCache) get(ctx context.Context, key, indexName string, space native.SpaceType) (*Entry, error) {
	if e := c.lookup(key); e != nil {
		return e, nil
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		if e := c.lookup(key); e != nil {
			return e, nil
		}
		e, err := c.m.load(key, indexName, space, c.settings)
		if err != nil {
			return nil, err
		}
		return c.m.admit(c, e)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns a live entry and refreshes its recency, or nil.
func (c *graphCache) lookup(key string) *Entry {
	now := c.m.now()

	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if c.expiredLocked(e, now) {
		c.removeLocked(key, e)
		c.mu.Unlock()
		c.m.handleRemovals([]removal{{entry: e, cause: CauseExpired}})
		return nil
	}
	e.touch(now)
	c.mu.Unlock()
	return e
}

// insert adds a freshly loaded entry. If the key is already present the
// existing entry wins and e is discarded. ok is false if c was retired.
// An entry loaded under a larger limit than c's is discarded with
// ErrGraphTooLarge.
func (c *graphCache) insert(e *Entry) (*Entry, bool, error) {
	now := c.m.now()
	var removals []removal

	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return nil, false, nil
	}
	if existing, found := c.lru.Get(e.key); found {
		if !c.expiredLocked(existing, now) {
			existing.touch(now)
			c.mu.Unlock()
			c.m.discard(e)
			return existing, true, nil
		}
		c.removeLocked(e.key, existing)
		removals = append(removals, removal{entry: existing, cause: CauseExpired})
	}
	if limit := c.settings.LimitKB; limit > 0 && e.sizeKB > limit {
		c.mu.Unlock()
		c.m.handleRemovals(removals)
		c.m.discard(e)
		c.m.raiseCapacity(e.key, "graph larger than limit")
		return nil, true, &LoadError{Key: e.key, Err: fmt.Errorf("%w: %d KB > %d KB", ErrGraphTooLarge, e.sizeKB, limit)}
	}

	e.touch(now)
	c.lru.Add(e.key, e)
	c.weightKB += e.sizeKB
	removals = append(removals, c.evictOverweightLocked()...)
	c.mu.Unlock()

	c.m.handleRemovals(removals)
	return e, true, nil
}

// evictOverweightLocked removes least recently used entries until the weight
// fits the limit.
func (c *graphCache) evictOverweightLocked() []removal {
	var out []removal
	for c.settings.LimitKB > 0 && c.weightKB > c.settings.LimitKB {
		_, e, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.weightKB -= e.sizeKB
		out = append(out, removal{entry: e, cause: CauseSize})
	}
	return out
}

func (c *graphCache) removeLocked(key string, e *Entry) {
	if c.lru.Remove(key) {
		c.weightKB -= e.sizeKB
	}
}

func (c *graphCache) expiredLocked(e *Entry, now time.Time) bool {
	if c.settings.ExpireAfter <= 0 {
		return false
	}
	return now.Sub(e.LastAccess()) > c.settings.ExpireAfter
}

// invalidate removes key with the given cause. It reports whether an entry was removed.
func (c *graphCache) invalidate(key string, cause RemovalCause) bool {
	c.mu.Lock()
	e, ok := c.lru.Peek(key)
	if ok {
		c.removeLocked(key, e)
	}
	c.mu.Unlock()

	if ok {
		c.m.handleRemovals([]removal{{entry: e, cause: cause}})
	}
	return ok
}

// invalidateAll removes every entry. If retire is set, the instance stops
// accepting new entries.
func (c *graphCache) invalidateAll(cause RemovalCause, retire bool) int {
	c.mu.Lock()
	if retire {
		c.retired = true
	}
	entries := c.lru.Values()
	c.lru.Purge()
	c.weightKB = 0
	c.mu.Unlock()

	removals := make([]removal, len(entries))
	for i, e := range entries {
		removals[i] = removal{entry: e, cause: cause}
	}
	c.m.handleRemovals(removals)
	return len(entries)
}

// sweep removes expired entries.
func (c *graphCache) sweep(now time.Time) int {
	if c.settings.ExpireAfter <= 0 {
		return 0
	}

	var removals []removal
	c.mu.Lock()
	// Keys are ordered oldest access first.
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if !c.expiredLocked(e, now) {
			break
		}
		c.removeLocked(key, e)
		removals = append(removals, removal{entry: e, cause: CauseExpired})
	}
	c.mu.Unlock()

	c.m.handleRemovals(removals)
	return len(removals)
}

func (c *graphCache) weight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weightKB
}

// snapshot returns the live entries, most recently used last.
func (c *graphCache) snapshot() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Values()
}

func (c *graphCache) contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}
