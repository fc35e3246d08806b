// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pak

import (
	"sync/atomic"

	"github.com/corbym/enfusionpak/internal/pakerr"
)

// FileEntryMeta is the sealed tagged union of a FileEntry's two shapes: a
// folder (ordered children) or a file (offset/length/compression
// metadata). The unexported marker method keeps it closed to this
// package, the way a Rust enum is closed to its own crate.
type FileEntryMeta interface {
	isFileEntryMeta()
}

// FolderMeta is the FileEntryMeta of a directory. Children are unique by
// Name within the slice and kept in decode order; display layers are
// expected to sort externally.
type FolderMeta struct {
	Children []RcFileEntry
}

func (FolderMeta) isFileEntryMeta() {}

// FileMeta is the FileEntryMeta of a packaged file.
type FileMeta struct {
	Offset           uint32
	CompressedLen    uint32
	DecompressedLen  uint32
	ReservedU32      uint32
	ReservedU16      uint16
	CompressedFlag   uint8
	CompressionLevel uint8
	Timestamp        uint32
}

func (FileMeta) isFileEntryMeta() {}

// FileEntry is one node in an archive's tree. On the wire a name is empty
// only for the root; the decoder renames that root to "Root", so callers
// never see an empty Name.
type FileEntry struct {
	refs int32 // atomic; 1 means uniquely owned
	Name string
	Meta FileEntryMeta
}

// IsFolder reports whether e is a folder. Calling folder-only operations
// (Merge) on a file is a programmer error.
func (e *FileEntry) IsFolder() bool {
	_, ok := e.Meta.(FolderMeta)
	return ok
}

// ParsedTimestamp decodes e's packed timestamp. It panics if e is a
// folder; folders carry no timestamp.
func (e *FileEntry) ParsedTimestamp() Timestamp {
	fm, ok := e.Meta.(FileMeta)
	if !ok {
		panic("pak: ParsedTimestamp called on a folder entry")
	}
	return decodeTimestamp(fm.Timestamp)
}

// RcFileEntry is a shared-ownership handle to a FileEntry: multiple
// archives can reference the same subtree after Merge without copying it.
// The zero value is not usable; construct one with newFileEntry.
type RcFileEntry struct {
	e *FileEntry
}

func newFileEntry(name string, meta FileEntryMeta) RcFileEntry {
	return RcFileEntry{e: &FileEntry{refs: 1, Name: name, Meta: meta}}
}

// Entry returns the underlying FileEntry. Callers must not mutate it
// directly unless they hold the only RcFileEntry referencing it; use
// MutateUnique instead.
func (r RcFileEntry) Entry() *FileEntry { return r.e }

// Valid reports whether r wraps a FileEntry.
func (r RcFileEntry) Valid() bool { return r.e != nil }

// Clone returns a new handle sharing the same underlying FileEntry,
// incrementing its refcount. Mirrors Rust's Rc::clone.
func (r RcFileEntry) Clone() RcFileEntry {
	atomic.AddInt32(&r.e.refs, 1)
	return r
}

// MutateUnique returns a *FileEntry safe to mutate in place. If the
// underlying node is shared (refcount > 1) it is first copied
// shallowly — a fresh node with its own refcount of 1 — and r is
// repointed at the copy; the old node's refcount is decremented. This is
// the Go stand-in for Rust's Rc::make_mut (see design notes in
// DESIGN.md).
func (r *RcFileEntry) MutateUnique() *FileEntry {
	if atomic.LoadInt32(&r.e.refs) == 1 {
		return r.e
	}
	cp := &FileEntry{refs: 1, Name: r.e.Name, Meta: r.e.Meta}
	if fm, ok := cp.Meta.(FolderMeta); ok {
		children := make([]RcFileEntry, len(fm.Children))
		for i, c := range fm.Children {
			children[i] = c.Clone()
		}
		cp.Meta = FolderMeta{Children: children}
	}
	atomic.AddInt32(&r.e.refs, -1)
	r.e = cp
	return r.e
}

// Merge unifies other into r by name:
//   - same-name folder on both sides: recurse
//   - same-name file on both sides: fatal, a file must not be duplicated
//     across archives merged into one overlay tree
//   - kind mismatch on the same name: fatal
//   - name present only in other: appended, sharing ownership
//
// Calling Merge on a file entry is a programmer error.
func (r *RcFileEntry) Merge(other RcFileEntry) error {
	self := r.MutateUnique()
	selfFolder, ok := self.Meta.(FolderMeta)
	if !ok {
		panic("pak: Merge called on a file entry")
	}
	otherFolder, ok := other.Entry().Meta.(FolderMeta)
	if !ok {
		panic("pak: Merge called with a file entry as the argument")
	}

	for _, otherChild := range otherFolder.Children {
		idx := -1
		for i, c := range selfFolder.Children {
			if c.Entry().Name == otherChild.Entry().Name {
				idx = i
				break
			}
		}
		if idx == -1 {
			selfFolder.Children = append(selfFolder.Children, otherChild.Clone())
			continue
		}

		existing := selfFolder.Children[idx]
		existingIsFolder := existing.Entry().IsFolder()
		otherIsFolder := otherChild.Entry().IsFolder()
		if existingIsFolder != otherIsFolder {
			return pakerr.NewParseFormatError(0, "merge: kind mismatch for %q (folder vs file)", otherChild.Entry().Name)
		}
		if !existingIsFolder {
			return pakerr.NewParseFormatError(0, "merge: file was duplicated across archives: %q", otherChild.Entry().Name)
		}
		if err := existing.Merge(otherChild); err != nil {
			return err
		}
		selfFolder.Children[idx] = existing
	}

	self.Meta = selfFolder
	return nil
}
