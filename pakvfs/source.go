// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package pakvfs turns a parsed PAK archive plus a pluggable byte source
// into a read-only filesystem: path lookup, directory listing,
// decompressed file bytes, and layered overlays across several archives.
package pakvfs

import (
	"context"
	"fmt"
	"os"

	"github.com/corbym/enfusionpak/pak"
	"golang.org/x/sys/unix"
)

// Range is a byte range, reusing pak.Range's shape so offsets read from
// FileMeta need no conversion when handed to a source.
type Range = pak.Range

// SyncSource is the in-process, no-suspension-point byte provider: a
// memory-mapped file or an in-memory buffer. Kept separate from
// AsyncSource (rather than one interface with an "is async" flag) so the
// synchronous path never pays for a context.Context parameter it has no
// use for.
type SyncSource interface {
	ReadAt(r Range) ([]byte, error)
	Size() int64
}

// AsyncSource is the suspend-capable byte provider: a network fetch, a
// disk read that might block on I/O scheduling, or anything fronted by
// CachingSource. ctx carries cancellation the way a dropped future would
// in a non-Go implementation of this design.
type AsyncSource interface {
	ReadAt(ctx context.Context, r Range) ([]byte, error)
	Size() int64
}

// MmapSource is a concrete SyncSource over a memory-mapped regular file.
type MmapSource struct {
	f    *os.File
	data []byte
}

// NewMmapSource maps f's entire contents read-only. The caller remains
// responsible for closing f after calling Close on the returned source.
func NewMmapSource(f *os.File) (*MmapSource, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &MmapSource{f: f, data: nil}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("pakvfs: mmap: %w", err)
	}
	return &MmapSource{f: f, data: data}, nil
}

func (m *MmapSource) Size() int64 { return int64(len(m.data)) }

func (m *MmapSource) ReadAt(r Range) ([]byte, error) {
	if r.Start < 0 || r.End > int64(len(m.data)) || r.Start > r.End {
		return nil, fmt.Errorf("pakvfs: range %v out of bounds (size %d)", r, len(m.data))
	}
	return m.data[r.Start:r.End], nil
}

// Close unmaps the underlying pages. It does not close the file handle
// passed to NewMmapSource.
func (m *MmapSource) Close() error {
	if m.data == nil {
		return nil
	}
	return unix.Munmap(m.data)
}

// sliceSource is a SyncSource over an in-memory buffer, the backing
// store for a fully in-memory archive when no mmap is wanted.
type sliceSource struct{ buf []byte }

// NewSliceSource wraps an already-resident byte slice as a SyncSource.
func NewSliceSource(buf []byte) SyncSource { return sliceSource{buf: buf} }

func (s sliceSource) Size() int64 { return int64(len(s.buf)) }

func (s sliceSource) ReadAt(r Range) ([]byte, error) {
	if r.Start < 0 || r.End > int64(len(s.buf)) || r.Start > r.End {
		return nil, fmt.Errorf("pakvfs: range %v out of bounds (size %d)", r, len(s.buf))
	}
	return s.buf[r.Start:r.End], nil
}

// syncAsync adapts a SyncSource to AsyncSource for callers (such as
// Adapter) that want a uniform async call surface even when the backing
// store is in-process and never actually suspends.
type syncAsync struct{ inner SyncSource }

// AsyncFromSync wraps a SyncSource as an AsyncSource. The wrapped ReadAt
// never itself blocks longer than the underlying synchronous call would,
// so ctx is only checked for an already-cancelled context before the
// call, not polled mid-read; a genuinely cancellable fetch needs a
// source that is actually asynchronous underneath.
func AsyncFromSync(inner SyncSource) AsyncSource { return syncAsync{inner: inner} }

func (s syncAsync) Size() int64 { return s.inner.Size() }

func (s syncAsync) ReadAt(ctx context.Context, r Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.ReadAt(r)
}
