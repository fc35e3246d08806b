// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"context"
	"sync/atomic"
	"testing"
)

type countingSource struct {
	data  []byte
	fetch int32
}

func (c *countingSource) Size() int64 { return int64(len(c.data)) }

func (c *countingSource) ReadAt(ctx context.Context, r Range) ([]byte, error) {
	atomic.AddInt32(&c.fetch, 1)
	return c.data[r.Start:r.End], nil
}

func TestCachingSourceServesFromCache(t *testing.T) {
	inner := &countingSource{data: []byte("0123456789")}
	cs := NewCachingSource(inner)

	ctx := context.Background()
	r := Range{Start: 2, End: 6}

	if _, err := cs.ReadAt(ctx, r); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if _, err := cs.ReadAt(ctx, r); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if got := atomic.LoadInt32(&inner.fetch); got != 1 {
		t.Errorf("expected exactly 1 fetch, got %d", got)
	}
}

func TestCachingSourceExactRangeKeying(t *testing.T) {
	inner := &countingSource{data: []byte("0123456789")}
	cs := NewCachingSource(inner)
	ctx := context.Background()

	if _, err := cs.ReadAt(ctx, Range{Start: 0, End: 10}); err != nil {
		t.Fatal(err)
	}
	// A sub-range of an already-cached range is not itself cached: a
	// request for [2,6) must still be a miss.
	if _, err := cs.ReadAt(ctx, Range{Start: 2, End: 6}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&inner.fetch); got != 2 {
		t.Errorf("expected 2 fetches for two distinct exact ranges, got %d", got)
	}
}

func TestCachingSourceEvictsSmallestFirstOverCeiling(t *testing.T) {
	inner := &countingSource{data: make([]byte, 100)}
	cs := NewCachingSource(inner, WithByteCeiling(15))
	ctx := context.Background()

	// Insert a small then a large range; the ceiling forces an eviction.
	if _, err := cs.ReadAt(ctx, Range{Start: 0, End: 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.ReadAt(ctx, Range{Start: 10, End: 20}); err != nil {
		t.Fatal(err)
	}

	cs.mu.Lock()
	total := cs.size
	cs.mu.Unlock()
	if total > 15 {
		t.Errorf("aggregate cache size %d exceeds ceiling 15", total)
	}

	if _, hit := cs.lookup(Range{Start: 0, End: 5}); hit {
		t.Error("smallest entry should have been evicted first")
	}
	if _, hit := cs.lookup(Range{Start: 10, End: 20}); !hit {
		t.Error("larger, more recently inserted entry should still be cached")
	}
}
