// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"testing"

	"github.com/corbym/enfusionpak/pak"
)

// dirEnt and fileEnt below assemble a synthetic FILE chunk body, the
// same pre-order entry encoding pak's own parser tests build, so this
// package can exercise a real parsed archive instead of reaching into
// pak's unexported tree construction.

func dirEnt(name string, childCount uint32) []byte {
	b := []byte{0, byte(len(name))}
	b = append(b, name...)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], childCount)
	return append(b, n[:]...)
}

func fileEnt(name string, offset, clen, dlen uint32, compressedFlag byte) []byte {
	b := []byte{1, byte(len(name))}
	b = append(b, name...)
	var u32 [4]byte
	put := func(v uint32) { binary.LittleEndian.PutUint32(u32[:], v); b = append(b, u32[:]...) }
	put(offset)
	put(clen)
	put(dlen)
	put(0) // reserved_u32
	b = append(b, 0, 0) // reserved_u16
	b = append(b, compressedFlag, 0)
	put(0) // timestamp
	return b
}

func buildArchive(t *testing.T) (*pak.PakFile, []byte) {
	t.Helper()

	var plain bytes.Buffer
	zw := zlib.NewWriter(&plain)
	zw.Write([]byte("hello"))
	zw.Close()
	compressed := plain.Bytes()

	source := append([]byte("world"), compressed...)

	var entries []byte
	entries = append(entries, dirEnt("", 3)...)
	entries = append(entries, fileEnt("plain.txt", 0, 5, 5, 0)...)
	entries = append(entries, fileEnt("hello.txt", 5, uint32(len(compressed)), 5, 1)...)
	entries = append(entries, dirEnt("dir", 1)...)
	entries = append(entries, fileEnt("nested.txt", 0, 5, 5, 0)...)

	var body []byte
	body = append(body, "FILE"...)
	var ln [4]byte
	binary.BigEndian.PutUint32(ln[:], uint32(len(entries)))
	body = append(body, ln[:]...)
	body = append(body, entries...)

	var out []byte
	out = append(out, "FORM"...)
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(body)+4))
	out = append(out, sz[:]...)
	out = append(out, "PAC1"...)
	out = append(out, body...)

	archive, err := pak.Parse(out)
	if err != nil {
		t.Fatalf("building fixture archive: %v", err)
	}
	return archive, source
}

func TestAdapterReadDirAndMetadata(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	names, err := a.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := map[string]bool{"plain.txt": true, "hello.txt": true, "dir": true}
	if len(names) != len(want) {
		t.Fatalf("ReadDir(/) = %v, want keys of %v", names, want)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected name %q", n)
		}
	}

	md, err := a.Metadata("/dir")
	if err != nil || !md.IsDir {
		t.Fatalf("Metadata(/dir) = %#v, %v; want a directory", md, err)
	}

	md, err = a.Metadata("plain.txt") // no leading slash
	if err != nil || md.IsDir || md.Len != 5 {
		t.Fatalf("Metadata(plain.txt) = %#v, %v", md, err)
	}
}

func TestAdapterExists(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if !a.Exists("/dir/nested.txt") {
		t.Error("expected /dir/nested.txt to exist")
	}
	if a.Exists("/dir/missing.txt") {
		t.Error("expected /dir/missing.txt to not exist")
	}
}

func TestAdapterOpenFileUncompressed(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	f, err := a.OpenFile(context.Background(), "/plain.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 5)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "world" {
		t.Errorf("got %q, want %q", buf, "world")
	}
}

func TestAdapterOpenFileCompressed(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	f, err := a.OpenFile(context.Background(), "/hello.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()
	buf := make([]byte, 5)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q, want %q", buf, "hello")
	}
}

func TestAdapterOpenFileOnFolderIsUnsupported(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if _, err := a.OpenFile(context.Background(), "/dir"); err == nil {
		t.Fatal("expected OpenFile on a folder to fail")
	}
}

// ctxCheckingSource is an AsyncSource stub that reports whatever error
// ctx carries instead of ever actually reading, so a test can prove a
// caller's cancellation reaches the backing source rather than being
// swallowed by a hardcoded context.Background() somewhere along the way.
type ctxCheckingSource struct{ size int64 }

func (s ctxCheckingSource) Size() int64 { return s.size }

func (s ctxCheckingSource) ReadAt(ctx context.Context, r Range) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return make([]byte, r.Len()), nil
}

func TestAdapterOpenFilePropagatesCancellation(t *testing.T) {
	archive, _ := buildArchive(t)
	a, err := NewAdapter(ctxCheckingSource{size: 1 << 20}, archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.OpenFile(ctx, "/plain.txt"); err == nil {
		t.Fatal("expected OpenFile to fail against an already-cancelled context")
	}
}

func TestAdapterFSOpen(t *testing.T) {
	archive, source := buildArchive(t)
	a, err := NewAdapter(AsyncFromSync(NewSliceSource(source)), archive)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	f, err := a.Open("plain.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.Size() != 5 {
		t.Fatalf("Stat() = %#v, %v", info, err)
	}
}
