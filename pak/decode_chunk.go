// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pak

import (
	"github.com/corbym/enfusionpak/internal/pakerr"
	"github.com/corbym/enfusionpak/internal/pakwire"
)

// headChunkLength is the fixed body length (version field plus extension
// region) the original format's decoder asserts for every HEAD chunk.
const headChunkLength = 0x1c

// chunkHeader is the generic 8-byte framing every top-level chunk opens
// with: a four-CC tag and a big-endian length. FORM is the one
// exception: its length field means file_size and is followed by a fixed
// 4-byte type tag rather than length bytes of opaque body.
type chunkHeader struct {
	tag    string
	length uint32
}

func decodeChunkHeader(c *pakwire.Cursor) (chunkHeader, error) {
	tag, err := c.FourCC()
	if err != nil {
		return chunkHeader{}, err
	}
	length, err := c.BE32()
	if err != nil {
		return chunkHeader{}, err
	}
	return chunkHeader{tag: tag, length: length}, nil
}

// decodeForm reads the FORM chunk's 4-byte type tag that follows its
// length (here named file_size) field. c must already be positioned just
// past the generic chunk header.
func decodeForm(c *pakwire.Cursor, hdr chunkHeader) (Chunk, error) {
	typeTag, err := c.FourCC()
	if err != nil {
		return Chunk{}, err
	}
	pakType := PakTypeUnknown
	if typeTag == "PAC1" {
		pakType = PakTypePAC1
	} else {
		return Chunk{}, pakerr.NewParseFormatError(c.Base, "unrecognized FORM type tag %q", typeTag)
	}
	return Chunk{Kind: ChunkForm, FileSize: hdr.length, PakType: pakType}, nil
}

// decodeHead reads the HEAD chunk's 4-byte version field followed by its
// opaque extension region, recorded as a Range rather than copied. The
// chunk's framed length must be exactly headChunkLength; any other value
// is a malformed archive, not a forward-compatible extension to tolerate.
func decodeHead(c *pakwire.Cursor, hdr chunkHeader) (Chunk, error) {
	if hdr.length != headChunkLength {
		return Chunk{}, pakerr.NewParseFormatError(c.Base, "HEAD chunk length must be %#x, got %#x", headChunkLength, hdr.length)
	}
	version, err := c.LE32()
	if err != nil {
		return Chunk{}, err
	}
	extraStart := c.Offset()
	extraLen := int64(hdr.length) - 4
	if _, err := c.Bytes(int(extraLen)); err != nil {
		return Chunk{}, err
	}
	return Chunk{
		Kind:      ChunkHead,
		Version:   version,
		HeadExtra: Range{Start: extraStart, End: extraStart + extraLen},
	}, nil
}

// decodeDataRange computes a DATA chunk's payload range from its header
// without reading the payload bytes: hdr.length is itself the payload
// length, and it is never required to be resident in the parser's
// window. The caller (stepChunk) turns this into a Skip transition so
// even a multi-gigabyte payload never needs to be buffered to let parsing
// continue; random-access readers fetch the bytes later through the
// source abstraction, keyed by this Range.
func decodeDataRange(c *pakwire.Cursor, hdr chunkHeader) Chunk {
	start := c.Offset()
	return Chunk{Kind: ChunkData, DataPayload: Range{Start: start, End: start + int64(hdr.length)}}
}
