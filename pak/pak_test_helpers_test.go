// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pak

import "encoding/binary"

// archiveBuilder assembles a synthetic PAK byte stream for tests. It is
// not a general-purpose writer (writing PAK files is explicitly out of
// scope); it exists only to produce fixtures the parser can be pointed
// at.
type archiveBuilder struct {
	body []byte // everything after the 8-byte FORM header and its PAC1 type tag
}

func (b *archiveBuilder) beU32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.body = append(b.body, buf[:]...)
}

func (b *archiveBuilder) leU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.body = append(b.body, buf[:]...)
}

func (b *archiveBuilder) leU16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.body = append(b.body, buf[:]...)
}

func (b *archiveBuilder) u8(v byte)          { b.body = append(b.body, v) }
func (b *archiveBuilder) raw(v ...byte)      { b.body = append(b.body, v...) }
func (b *archiveBuilder) str(s string)       { b.body = append(b.body, s...) }

func (b *archiveBuilder) chunk(tag string, payload []byte) {
	b.str(tag)
	b.beU32(uint32(len(payload)))
	b.body = append(b.body, payload...)
}

// head builds a HEAD chunk body, zero-padded (or truncated) to the fixed
// 0x1c length (a 4-byte version field plus a 0x18-byte extension region)
// every real archive carries.
func (b *archiveBuilder) head(version uint32, extra []byte) {
	var p []byte
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], version)
	p = append(p, buf[:]...)
	p = append(p, extra...)
	for len(p) < headChunkLength {
		p = append(p, 0)
	}
	p = p[:headChunkLength]
	b.chunk("HEAD", p)
}

func (b *archiveBuilder) data(payload []byte) {
	b.chunk("DATA", payload)
}

// entryBuilder assembles the raw entry bytes of one FILE chunk body.
type entryBuilder struct {
	buf []byte
}

func (e *entryBuilder) folder(name string, childCount uint32) {
	e.buf = append(e.buf, 0, byte(len(name)))
	e.buf = append(e.buf, name...)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], childCount)
	e.buf = append(e.buf, buf[:]...)
}

type fileFields struct {
	Offset, CompressedLen, DecompressedLen uint32
	ReservedU32                            uint32
	ReservedU16                            uint16
	CompressedFlag, CompressionLevel       byte
	Timestamp                              uint32
}

func (e *entryBuilder) file(name string, f fileFields) {
	e.buf = append(e.buf, 1, byte(len(name)))
	e.buf = append(e.buf, name...)
	var u32 [4]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		e.buf = append(e.buf, u32[:]...)
	}
	put32(f.Offset)
	put32(f.CompressedLen)
	put32(f.DecompressedLen)
	put32(f.ReservedU32)
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], f.ReservedU16)
	e.buf = append(e.buf, u16[:]...)
	e.buf = append(e.buf, f.CompressedFlag, f.CompressionLevel)
	put32(f.Timestamp)
}

func (b *archiveBuilder) file(entries []byte) {
	b.chunk("FILE", entries)
}

// finish returns the complete archive bytes, with the FORM chunk's
// file_size field computed from the accumulated body.
func (b *archiveBuilder) finish() []byte {
	var out []byte
	out = append(out, "FORM"...)
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(len(b.body)+4)) // +4 for the PAC1 type tag
	out = append(out, sz[:]...)
	out = append(out, "PAC1"...)
	out = append(out, b.body...)
	return out
}
