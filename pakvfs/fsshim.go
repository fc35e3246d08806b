// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/corbym/enfusionpak/pak"
)

// entryInfo adapts a pak.RcFileEntry to fs.FileInfo and fs.DirEntry, the
// way the teacher's plain directory entry adapts a bare name+mtime pair.
type entryInfo struct {
	e pak.RcFileEntry
}

func (i entryInfo) Name() string { return i.e.Entry().Name }

func (i entryInfo) IsDir() bool { return i.e.Entry().IsFolder() }

func (i entryInfo) Type() fs.FileMode {
	if i.IsDir() {
		return fs.ModeDir
	}
	return 0
}

func (i entryInfo) Info() (fs.FileInfo, error) { return i, nil }

func (i entryInfo) Size() int64 {
	if fm, ok := i.e.Entry().Meta.(pak.FileMeta); ok {
		return int64(fm.DecompressedLen)
	}
	return 0
}

func (i entryInfo) Mode() fs.FileMode {
	if i.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

func (i entryInfo) ModTime() time.Time {
	if fm, ok := i.e.Entry().Meta.(pak.FileMeta); ok {
		if ts := decodeTimestampForDisplay(fm); !ts.Unknown {
			return ts.Time
		}
	}
	return time.Time{}
}

func (i entryInfo) Sys() any { return i.e.Entry() }

func decodeTimestampForDisplay(fm pak.FileMeta) pak.Timestamp {
	// ParsedTimestamp requires a *pak.FileEntry, constructed here only to
	// decode the packed field; it is never attached to the tree.
	tmp := &pak.FileEntry{Meta: fm}
	return tmp.ParsedTimestamp()
}

// fsFile adapts the File returned by OpenFile, plus its entryInfo, to
// fs.File/fs.ReadDirFile for stdlib consumers (fs.WalkDir, fs.Glob).
type fsFile struct {
	File
	info entryInfo
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }

type fsDir struct {
	info     entryInfo
	children []fs.DirEntry
	pos      int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Read([]byte) (int, error)   { return 0, io.EOF }
func (d *fsDir) Close() error                { return nil }

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		rest := d.children[d.pos:]
		d.pos = len(d.children)
		return rest, nil
	}
	if d.pos >= len(d.children) {
		return nil, io.EOF
	}
	end := d.pos + n
	if end > len(d.children) {
		end = len(d.children)
	}
	batch := d.children[d.pos:end]
	d.pos = end
	return batch, nil
}

// Open implements io/fs.FS over the archive's tree, the Go-idiomatic
// complement to OpenFile/ReadDir/Metadata/Exists.
func (a *Adapter) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	info := entryInfo{e: e}
	if !info.IsDir() {
		// io/fs.FS's Open has no context parameter; Adapter.OpenFile's
		// own contract still accepts one for callers that call it
		// directly against a cancellable source.
		f, err := a.OpenFile(context.Background(), name)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &fsFile{File: f, info: info}, nil
	}

	fm := e.Entry().Meta.(pak.FolderMeta)
	children := make([]fs.DirEntry, len(fm.Children))
	for i, c := range fm.Children {
		children[i] = entryInfo{e: c}
	}
	return &fsDir{info: info, children: children}, nil
}

// Stat implements io/fs.StatFS. Adapter deliberately does not also
// implement io/fs.ReadDirFS: its ReadDir method already has the
// plain-[]string signature required by the Source interface, and that
// name collides with io/fs.ReadDirFS's ReadDir(name string) ([]fs.DirEntry, error)
// method, so a single type cannot implement both. fs.WalkDir/fs.Glob
// fall back to the fs.ReadDirFile returned by Open when a ReadDirFS is
// absent.
func (a *Adapter) Stat(name string) (fs.FileInfo, error) {
	e, ok := a.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return entryInfo{e: e}, nil
}
