// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pak

import (
	"github.com/corbym/enfusionpak/internal/pakerr"
	"github.com/corbym/enfusionpak/internal/pakwire"
)

// dirFrame is the transient state of one open folder during directory
// reconstruction.
type dirFrame struct {
	isRoot    bool
	remaining uint32
	name      string
	children  []RcFileEntry
}

// rawDirEntry holds one decoded pre-order entry before it is attached to
// a frame.
type rawDirEntry struct {
	isFolder       bool
	name           string
	folderChildren uint32
	file           FileMeta
}

// entryReader accumulates the first error across several reads so the
// entry decoder reads straight through without per-field error checks.
type entryReader struct {
	c   *pakwire.Cursor
	err error
}

func (r *entryReader) u8() byte {
	if r.err != nil {
		return 0
	}
	v, err := r.c.U8()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *entryReader) le16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.LE16()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *entryReader) le32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.LE32()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *entryReader) utf8(n int) string {
	if r.err != nil {
		return ""
	}
	v, err := r.c.UTF8(n)
	if err != nil {
		r.err = err
	}
	return v
}

// decodeDirEntry decodes exactly one pre-order entry:
//
//	kind:u8 name_len:u8 name:bytes[name_len] then (folder | file) body
//
// On NeedMore the cursor is left at its original position, so the caller
// can resupply a bigger window and retry with the same cursor state.
func decodeDirEntry(c *pakwire.Cursor) (rawDirEntry, error) {
	start := c.Pos
	r := &entryReader{c: c}

	kind := r.u8()
	nameLen := r.u8()
	name := r.utf8(int(nameLen))

	if r.err != nil {
		if pakwire.IsInvalidUTF8(r.err) {
			return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "entry name is not valid UTF-8")
		}
		c.Pos = start
		return rawDirEntry{}, r.err
	}

	switch kind {
	case 0: // folder
		childCount := r.le32()
		if r.err != nil {
			c.Pos = start
			return rawDirEntry{}, r.err
		}
		return rawDirEntry{isFolder: true, name: name, folderChildren: childCount}, nil

	case 1: // file
		offset := r.le32()
		clen := r.le32()
		dlen := r.le32()
		res32 := r.le32()
		res16 := r.le16()
		cflag := r.u8()
		clevel := r.u8()
		ts := r.le32()
		if r.err != nil {
			c.Pos = start
			return rawDirEntry{}, r.err
		}
		if res32 != 0 {
			return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "reserved_u32 must be 0, got %d", res32)
		}
		if res16 != 0 {
			return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "reserved_u16 must be 0, got %d", res16)
		}
		if cflag > 1 {
			return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "compressed_flag must be 0 or 1, got %d", cflag)
		}
		if clevel != 0 && clevel != 6 {
			return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "compression_level must be 0 or 6, got %d", clevel)
		}
		return rawDirEntry{
			isFolder: false,
			name:     name,
			file: FileMeta{
				Offset:           offset,
				CompressedLen:    clen,
				DecompressedLen:  dlen,
				ReservedU32:      res32,
				ReservedU16:      res16,
				CompressedFlag:   cflag,
				CompressionLevel: clevel,
				Timestamp:        ts,
			},
		}, nil

	default:
		return rawDirEntry{}, pakerr.NewParseFormatError(c.Base+int64(start), "invalid entry kind %d", kind)
	}
}

// attachEntry folds a freshly decoded entry into the open frame stack. It
// returns the updated stack and an error for any invariant violation
// (duplicate name, over-full folder, empty non-root name).
func attachEntry(stack []*dirFrame, entry rawDirEntry, offset int64) ([]*dirFrame, error) {
	isRoot := len(stack) == 0

	if entry.name == "" {
		if !(isRoot && entry.isFolder) {
			return stack, pakerr.NewParseFormatError(offset, "empty entry name outside the root position")
		}
		entry.name = "Root"
	}

	if entry.isFolder {
		stack = append(stack, &dirFrame{
			isRoot:    isRoot,
			remaining: entry.folderChildren,
			name:      entry.name,
		})
		return closeFinishedFrames(stack, offset)
	}

	if isRoot {
		return stack, pakerr.NewParseFormatError(offset, "first entry in a file chunk must be a folder (the root)")
	}

	top := stack[len(stack)-1]
	if top.remaining == 0 {
		return stack, pakerr.NewParseFormatError(offset, "folder %q received more children than its declared count", top.name)
	}
	for _, c := range top.children {
		if c.Entry().Name == entry.name {
			return stack, pakerr.NewParseFormatError(offset, "duplicate name %q within folder %q", entry.name, top.name)
		}
	}
	top.children = append(top.children, newFileEntry(entry.name, entry.file))
	top.remaining--

	return closeFinishedFrames(stack, offset)
}

// closeFinishedFrames implements step 4: while the top frame is
// non-root and has no children remaining, pop it and attach it to its
// new parent, which may itself become finished (cascading close).
func closeFinishedFrames(stack []*dirFrame, offset int64) ([]*dirFrame, error) {
	for len(stack) > 1 {
		top := stack[len(stack)-1]
		if top.remaining != 0 {
			break
		}
		stack = stack[:len(stack)-1]

		parent := stack[len(stack)-1]
		if parent.remaining == 0 {
			return stack, pakerr.NewParseFormatError(offset, "folder %q received more children than its declared count", parent.name)
		}
		for _, c := range parent.children {
			if c.Entry().Name == top.name {
				return stack, pakerr.NewParseFormatError(offset, "duplicate name %q within folder %q", top.name, parent.name)
			}
		}
		parent.children = append(parent.children, newFileEntry(top.name, FolderMeta{Children: top.children}))
		parent.remaining--
	}
	return stack, nil
}
