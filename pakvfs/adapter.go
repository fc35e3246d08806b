// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"log/slog"
	gopath "path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/corbym/enfusionpak/internal/pakerr"
	"github.com/corbym/enfusionpak/pak"
)

// Metadata is the result of an adapter's Metadata call: a folder/file
// kind flag plus the decompressed length and decoded timestamp.
type Metadata struct {
	IsDir bool
	// Len is the decompressed length for a file and meaningless (0) for
	// a folder.
	Len       int64
	Timestamp pak.Timestamp
}

// File is what OpenFile returns: a seekable, randomly-addressable
// decompressed view of one packaged file's content.
type File interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

// Source is the interface both Adapter and Overlay satisfy, so an
// Overlay can rank plain Adapters alongside other Overlays.
type Source interface {
	ReadDir(path string) ([]string, error)
	Metadata(path string) (Metadata, error)
	Exists(path string) bool
	OpenFile(ctx context.Context, path string) (File, error)
}

// Adapter presents one parsed PAK archive as a read-only filesystem over
// an AsyncSource, so a caller driving OpenFile against a slow or remote
// backing source can cancel the fetch through ctx. It pre-indexes every
// path at construction so lookups are O(1) regardless of tree depth.
type Adapter struct {
	source AsyncSource
	root   pak.RcFileEntry
	index  map[string]pak.RcFileEntry // absolute path, leading "/", to entry
}

// NewAdapter builds an Adapter over archive's root tree, reading file
// bytes from source. It returns NotFound if archive has no File chunk.
// Wrap a SyncSource (MmapSource, NewSliceSource) with AsyncFromSync if
// the backing store never actually suspends.
func NewAdapter(source AsyncSource, archive *pak.PakFile) (*Adapter, error) {
	root, ok := archive.Root()
	if !ok {
		return nil, &pakerr.NotFoundError{Path: "/"}
	}
	a := &Adapter{source: source, root: root, index: make(map[string]pak.RcFileEntry)}
	a.index["/"] = root
	a.indexChildren("/", root)
	slog.Debug("pakvfs: adapter indexed", "entries", len(a.index))
	return a, nil
}

func (a *Adapter) indexChildren(prefix string, e pak.RcFileEntry) {
	fm, ok := e.Entry().Meta.(pak.FolderMeta)
	if !ok {
		return
	}
	for _, child := range fm.Children {
		p := gopath.Join(prefix, child.Entry().Name)
		a.index[p] = child
		a.indexChildren(p, child)
	}
}

// normalize turns any of the accepted path spellings (empty, "/", with
// or without a leading slash) into the index's canonical absolute form.
func normalize(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = gopath.Clean("/" + path)
	return path
}

func (a *Adapter) lookup(path string) (pak.RcFileEntry, bool) {
	e, ok := a.index[normalize(path)]
	return e, ok
}

// ReadDir lists the child names of the folder at path, in decode order.
func (a *Adapter) ReadDir(path string) ([]string, error) {
	e, ok := a.lookup(path)
	if !ok {
		return nil, &pakerr.NotFoundError{Path: path}
	}
	fm, ok := e.Entry().Meta.(pak.FolderMeta)
	if !ok {
		return nil, &pakerr.UnsupportedError{Op: "read_dir", Path: path}
	}
	names := make([]string, len(fm.Children))
	for i, c := range fm.Children {
		names[i] = c.Entry().Name
	}
	return names, nil
}

// Metadata returns the kind and logical length of the entry at path.
func (a *Adapter) Metadata(path string) (Metadata, error) {
	e, ok := a.lookup(path)
	if !ok {
		return Metadata{}, &pakerr.NotFoundError{Path: path}
	}
	switch m := e.Entry().Meta.(type) {
	case pak.FolderMeta:
		return Metadata{IsDir: true}, nil
	case pak.FileMeta:
		return Metadata{Len: int64(m.DecompressedLen), Timestamp: e.Entry().ParsedTimestamp()}, nil
	default:
		panic("pakvfs: unknown FileEntryMeta variant")
	}
}

// Exists reports whether path resolves to any entry.
func (a *Adapter) Exists(path string) bool {
	_, ok := a.lookup(path)
	return ok
}

// OpenFile fetches the compressed range for path, then, if
// compressed_flag is set, inflates it through a zlib reader into a
// buffer of the declared decompressed length. ctx is forwarded to the
// backing AsyncSource, so a caller can cancel an in-flight fetch against
// a slow or remote source.
func (a *Adapter) OpenFile(ctx context.Context, path string) (File, error) {
	e, ok := a.lookup(path)
	if !ok {
		return nil, &pakerr.NotFoundError{Path: path}
	}
	fm, ok := e.Entry().Meta.(pak.FileMeta)
	if !ok {
		return nil, &pakerr.UnsupportedError{Op: "open_file", Path: path}
	}

	raw, err := a.source.ReadAt(ctx, Range{Start: int64(fm.Offset), End: int64(fm.Offset) + int64(fm.CompressedLen)})
	if err != nil {
		return nil, &pakerr.IoError{Offset: int64(fm.Offset), Op: "read", Err: err}
	}

	if fm.CompressedFlag == 0 {
		return &memFile{data: raw}, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, &pakerr.DecompressionError{Offset: int64(fm.Offset), Err: err}
	}
	defer zr.Close()

	out := make([]byte, 0, fm.DecompressedLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.CopyN(buf, zr, int64(fm.DecompressedLen)); err != nil && err != io.EOF {
		return nil, &pakerr.DecompressionError{Offset: int64(fm.Offset), Err: err}
	}
	return &memFile{data: buf.Bytes()}, nil
}

// Glob matches path patterns against the archive's full path set using
// shell-style globbing.
func (a *Adapter) Glob(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(a, strings.TrimPrefix(pattern, "/"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// memFile is the File returned by OpenFile: the decompressed (or raw)
// bytes held resident, addressed through a io.SectionReader-style cursor.
type memFile struct {
	data []byte
	pos  int64
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &pakerr.IoError{Offset: off, Op: "read_at", Err: io.ErrUnexpectedEOF}
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += int64(len(f.data))
	default:
		return 0, &pakerr.IoError{Op: "seek", Err: io.ErrUnexpectedEOF}
	}
	if offset < 0 {
		return 0, &pakerr.IoError{Op: "seek", Err: io.ErrUnexpectedEOF}
	}
	f.pos = offset
	return offset, nil
}

func (f *memFile) Close() error { return nil }
