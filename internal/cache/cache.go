// Package cache provides an LRU cache for fixed-size blocks of tile blobs.
//
// Tile bitstreams are immutable once written, so blocks never go stale. Entries of a
// blob are invalidated when the blob is deleted.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tasm/internal/resource"
)

// Key identifies one block of a blob.
type Key struct {
	Path  string
	Block int64
}

// BlockCache is a byte-oriented cache for immutable blocks.
// Returned slices must be treated as read-only.
type BlockCache interface {
	Get(key Key) ([]byte, bool)
	Set(key Key, b []byte)
	// InvalidatePath removes every block of path.
	InvalidatePath(path string)
	Stats() (hits, misses int64)
}

// LRU is a BlockCache bounded by total bytes.
type LRU struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[Key]*list.Element
	order    *list.List
	rc       *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates an LRU cache holding at most capacity bytes.
// If rc is non-nil, cached bytes are also reserved against its memory limit.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity: capacity,
		items:    make(map[Key]*list.Element),
		order:    list.New(),
		rc:       rc,
	}
}

// Get returns a cached block.
func (c *LRU) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a block. Blocks larger than the capacity are not cached.
func (c *LRU) Set(key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(b))
	if n > c.capacity {
		return
	}
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	for c.size+n > c.capacity {
		el := c.order.Back()
		if el == nil {
			break
		}
		c.remove(el)
	}
	// The global limit wins over the local capacity.
	if c.rc.TryAcquireMemory(n) != nil {
		return
	}
	c.items[key] = c.order.PushFront(&entry{key: key, value: b})
	c.size += n
}

// InvalidatePath removes every block of path.
func (c *LRU) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.items {
		if key.Path == path {
			c.remove(el)
		}
	}
}

// Stats returns hit and miss counts.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the cached bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached blocks.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) remove(el *list.Element) {
	c.order.Remove(el)
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.size -= int64(len(e.value))
	c.rc.ReleaseMemory(int64(len(e.value)))
}
