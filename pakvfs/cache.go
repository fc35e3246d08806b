// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

const defaultByteCeiling = 20 << 20 // 20 MiB

// CacheOption configures a CachingSource at construction.
type CacheOption func(*CachingSource)

// WithByteCeiling overrides the default 20 MiB aggregate cache capacity.
func WithByteCeiling(n int64) CacheOption {
	return func(c *CachingSource) { c.ceiling = n }
}

// WithAdmissionPolicy enables a TinyLFU-backed admission filter: a range
// is only cached if the policy judges it worth keeping over whatever it
// would evict. This is additive to, and never overrides, the mandatory
// smallest-capacity-first eviction and byte-ceiling invariant below.
func WithAdmissionPolicy(samples int) CacheOption {
	return func(c *CachingSource) { c.admission = tinylfu.New(samples, samples*10) }
}

type cacheEntry struct {
	r     Range
	data  []byte
	index int // position in the eviction heap
}

// entryHeap is a min-heap on entry size, implementing
// smallest-capacity-first eviction (deliberately kept rather than the
// more familiar LRU, which would cache a large one-off sequential
// fetch in preference to many small hot ranges).
type entryHeap []*cacheEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return len(h[i].data) < len(h[j].data) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*cacheEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// CachingSource fronts an AsyncSource with a cache keyed by exact byte
// range: a lookup for [10,20) does not satisfy a request for [10,15), it
// is a different key entirely.
type CachingSource struct {
	inner   AsyncSource
	ceiling int64

	mu      sync.Mutex
	byKey   map[uint64][]*cacheEntry // xxhash collisions resolved by exact Range match
	heap    entryHeap
	size    int64
	// admission, when non-nil, is consulted before caching a freshly
	// fetched range so one large sequential read cannot evict a working
	// set of small hot ranges.
	admission *tinylfu.T
}

// NewCachingSource wraps inner with a cache bounded by the default 20 MiB
// ceiling, overridable with options.
func NewCachingSource(inner AsyncSource, opts ...CacheOption) *CachingSource {
	c := &CachingSource{
		inner:   inner,
		ceiling: defaultByteCeiling,
		byKey:   make(map[uint64][]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachingSource) Size() int64 { return c.inner.Size() }

func rangeKey(r Range) uint64 {
	var b [16]byte
	putU64(b[0:8], uint64(r.Start))
	putU64(b[8:16], uint64(r.End))
	return xxhash.Sum64(b[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (c *CachingSource) lookup(r Range) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rangeKey(r)
	for _, e := range c.byKey[key] {
		if e.r == r {
			return e.data, true
		}
	}
	return nil, false
}

// ReadAt returns the bytes for r, serving from cache when present and
// fetching through inner, outside the lock, on a miss.
func (c *CachingSource) ReadAt(ctx context.Context, r Range) ([]byte, error) {
	if data, ok := c.lookup(r); ok {
		return data, nil
	}

	data, err := c.inner.ReadAt(ctx, r)
	if err != nil {
		return nil, err
	}

	c.insert(r, data)
	return data, nil
}

func (c *CachingSource) insert(r Range, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rangeKey(r)
	for _, e := range c.byKey[key] {
		if e.r == r {
			return // already cached by a racing call
		}
	}

	if c.admission != nil {
		admitKey := fmt.Sprintf("%d:%d", r.Start, r.End)
		c.admission.Add(admitKey, struct{}{})
		if _, kept := c.admission.Get(admitKey); !kept {
			return
		}
	}

	e := &cacheEntry{r: r, data: data}
	c.byKey[key] = append(c.byKey[key], e)
	heap.Push(&c.heap, e)
	c.size += int64(len(data))

	for c.size > c.ceiling && c.heap.Len() > 0 {
		victim := heap.Pop(&c.heap).(*cacheEntry)
		c.size -= int64(len(victim.data))
		c.removeFromIndex(victim)
		slog.Debug("pakvfs: cache eviction",
			"evicted_range", victim.r,
			"evicted_bytes", len(victim.data),
			"aggregate_bytes", c.size,
			"ceiling", c.ceiling)
	}
}

func (c *CachingSource) removeFromIndex(victim *cacheEntry) {
	key := rangeKey(victim.r)
	entries := c.byKey[key]
	for i, e := range entries {
		if e == victim {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(c.byKey, key)
	} else {
		c.byKey[key] = entries
	}
}
