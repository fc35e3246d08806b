// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pak

import (
	"io"

	"github.com/corbym/enfusionpak/internal/pakerr"
	"github.com/corbym/enfusionpak/internal/pakwire"
)

// StepKind tags the outcome of one Parser.Step call.
type StepKind int

const (
	// StepLoop means a unit of work completed; call Step again with the
	// same window before asking for more bytes.
	StepLoop StepKind = iota
	// StepNeedMore means the window must grow to NeedBytes bytes (from
	// its current base) before the identical Step call can make
	// progress.
	StepNeedMore
	// StepSkip means the parser has recorded a range of the stream
	// (a Data chunk's payload) without reading it, and the caller must
	// advance its read position by SkipCount bytes — discarding them if
	// reading from a non-seekable stream, or simply not fetching them at
	// all if reading through a random-access source — before supplying
	// the next window, which must start at SkipFrom+SkipCount.
	StepSkip
	// StepDone means parsing is complete; State holds the final chunks.
	StepDone
)

// Transition is returned by every Parser.Step call.
type Transition struct {
	Kind      StepKind
	NeedBytes int   // meaningful only for StepNeedMore: window size required, from the window's current base
	SkipFrom  int64 // meaningful only for StepSkip: absolute stream offset the skip starts at
	SkipCount int64 // meaningful only for StepSkip: number of bytes to skip
}

type parserPhase int

const (
	phaseScanChunk parserPhase = iota
	phaseFileEntries
	phaseDone
)

// State is the resumable parser's accumulated progress. The zero value is
// not ready for use; construct with NewState.
type State struct {
	chunks []Chunk

	pos     int64 // absolute stream offset consumed so far
	bufBase int64 // absolute stream offset the caller's current window starts at
	total   int64 // total archive length once the Form chunk is known, else -1

	phase parserPhase

	frames       []*dirFrame
	fileChunkEnd int64 // absolute offset the current File chunk's body ends at
}

// NewState returns a fresh parser state ready for the first Step call.
func NewState() *State {
	return &State{total: -1, phase: phaseScanChunk}
}

// Chunks returns the chunks decoded so far, in order.
func (s *State) Chunks() []Chunk { return s.chunks }

// Done reports whether the parse has reached StepDone.
func (s *State) Done() bool { return s.phase == phaseDone }

// ToPakFile packages a finished State as a PakFile. It panics if the
// parse has not reached StepDone.
func (s *State) ToPakFile() *PakFile {
	if s.phase != phaseDone {
		panic("pak: ToPakFile called before parsing finished")
	}
	return &PakFile{chunks: s.chunks}
}

// Parser drives the chunk-level and directory-level decoders across
// however many windows of the byte stream the caller can supply. It holds
// no state of its own; all progress lives in the State passed to Step,
// so one Parser can drive many concurrent parses.
type Parser struct{}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser { return &Parser{} }

// Step performs one bounded unit of work against buf, the bytes of the
// archive accumulated so far starting at st's current window base
// (st.bufBase, 0 until the first Skip). The very first check on every
// call is whether the archive's total length is already known and fully
// consumed; if so the parser is forced to Done regardless of what
// internal state it was in.
func (p *Parser) Step(buf []byte, st *State) (Transition, error) {
	if st.total >= 0 && st.pos >= st.total {
		st.phase = phaseDone
		return Transition{Kind: StepDone}, nil
	}
	if int64(len(buf)) < st.pos-st.bufBase {
		// Shouldn't happen if the caller only ever grows its window or
		// resets it exactly as instructed by a StepSkip, but guard
		// against a caller that handed back a shrunk or misaligned one.
		return Transition{}, pakerr.NewParseFormatError(st.pos, "parser window shrank below the consumed position")
	}

	switch st.phase {
	case phaseFileEntries:
		return p.stepFileEntry(buf, st)
	case phaseDone:
		return Transition{Kind: StepDone}, nil
	default:
		return p.stepChunk(buf, st)
	}
}

func (p *Parser) cursor(buf []byte, st *State) *pakwire.Cursor {
	return &pakwire.Cursor{Buf: buf, Pos: int(st.pos - st.bufBase), Base: st.bufBase}
}

// stepChunk decodes the next top-level chunk header and, for everything
// but File, its body. Head's body is cheap (a fixed field plus an opaque
// extension region, recorded as a Range) and is decoded in the same call.
// Data's body is its raw payload, potentially the bulk of the whole
// archive, and is never read into the window at all: stepChunk records
// its Range and returns StepSkip so the caller advances past it without
// buffering it. File chunks hand off to stepFileEntry so a giant
// directory can be walked across many Steps.
func (p *Parser) stepChunk(buf []byte, st *State) (Transition, error) {
	c := p.cursor(buf, st)

	if len(st.chunks) == 0 {
		hdr, err := decodeChunkHeader(c)
		if err != nil {
			return needMoreOrErr(err)
		}
		if hdr.tag != "FORM" {
			return Transition{}, pakerr.NewParseFormatError(c.Base+int64(c.Pos)-8, "first chunk must be FORM, got %q", hdr.tag)
		}
		chunk, err := decodeForm(c, hdr)
		if err != nil {
			return needMoreOrErr(err)
		}
		st.chunks = append(st.chunks, chunk)
		st.total = int64(hdr.length) + 8
		st.pos = c.Offset()
		return loopOrDone(st)
	}

	hdr, err := decodeChunkHeader(c)
	if err != nil {
		return needMoreOrErr(err)
	}

	switch hdr.tag {
	case "HEAD":
		if hasChunk(st.chunks, ChunkHead) {
			return Transition{}, pakerr.NewParseFormatError(c.Base+int64(c.Pos)-8, "HEAD chunk may only appear once")
		}
		chunk, err := decodeHead(c, hdr)
		if err != nil {
			return needMoreOrErr(err)
		}
		st.chunks = append(st.chunks, chunk)
		st.pos = c.Offset()
		return loopOrDone(st)

	case "DATA":
		chunk := decodeDataRange(c, hdr)
		st.chunks = append(st.chunks, chunk)
		skipFrom := chunk.DataPayload.Start
		skipCount := chunk.DataPayload.Len()
		st.pos = chunk.DataPayload.End
		st.bufBase = chunk.DataPayload.End
		if skipCount == 0 {
			return loopOrDone(st)
		}
		return Transition{Kind: StepSkip, SkipFrom: skipFrom, SkipCount: skipCount}, nil

	case "FILE":
		if hasChunk(st.chunks, ChunkFile) {
			return Transition{}, pakerr.NewParseFormatError(c.Base+int64(c.Pos)-8, "FILE chunk may only appear once")
		}
		st.fileChunkEnd = c.Offset() + int64(hdr.length)
		st.frames = nil
		st.phase = phaseFileEntries
		st.pos = c.Offset()
		return loopOrDone(st)

	case "FORM":
		return Transition{}, pakerr.NewParseFormatError(c.Base+int64(c.Pos)-8, "FORM chunk may only appear once, at the start")

	default:
		return Transition{}, pakerr.NewParseFormatError(c.Base+int64(c.Pos)-8, "unrecognized chunk tag %q", hdr.tag)
	}
}

func hasChunk(chunks []Chunk, kind ChunkKind) bool {
	for _, c := range chunks {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// stepFileEntry decodes one pre-order directory entry per call, so a
// directory with millions of entries never forces a caller to buffer all
// of it before making progress.
func (p *Parser) stepFileEntry(buf []byte, st *State) (Transition, error) {
	c := p.cursor(buf, st)

	entry, err := decodeDirEntry(c)
	if err != nil {
		return needMoreOrErr(err)
	}

	offset := c.Offset()
	frames, err := attachEntry(st.frames, entry, offset)
	if err != nil {
		return Transition{}, err
	}
	st.frames = frames
	st.pos = c.Offset()

	if len(st.frames) == 0 {
		return Transition{}, pakerr.NewParseFormatError(offset, "FILE chunk body produced no root entry")
	}
	if len(st.frames) == 1 && st.frames[0].remaining == 0 {
		root := newFileEntry(st.frames[0].name, FolderMeta{Children: st.frames[0].children})
		st.chunks = append(st.chunks, Chunk{Kind: ChunkFile, Root: root})
		st.frames = nil
		st.phase = phaseScanChunk
		if st.pos != st.fileChunkEnd {
			return Transition{}, pakerr.NewParseFormatError(st.pos, "FILE chunk body length mismatch: consumed %d, framed %d", st.pos, st.fileChunkEnd)
		}
	}

	return loopOrDone(st)
}

func needMoreOrErr(err error) (Transition, error) {
	if nm, ok := err.(*pakwire.NeedMore); ok {
		return Transition{Kind: StepNeedMore, NeedBytes: nm.N}, nil
	}
	return Transition{}, err
}

func loopOrDone(st *State) (Transition, error) {
	if st.total >= 0 && st.pos >= st.total {
		st.phase = phaseDone
		return Transition{Kind: StepDone}, nil
	}
	return Transition{Kind: StepLoop}, nil
}

// Parse decodes a fully in-memory PAK byte slice in one call: the whole
// archive is already resident, so a StepSkip needs no special handling
// beyond re-slicing data at the new window base.
func Parse(data []byte) (*PakFile, error) {
	p := NewParser()
	st := NewState()
	for {
		var window []byte
		if st.bufBase <= int64(len(data)) {
			window = data[st.bufBase:]
		}
		t, err := p.Step(window, st)
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case StepDone:
			return st.ToPakFile(), nil
		case StepNeedMore:
			return nil, pakerr.NewParseFormatError(int64(len(data)), "unexpected end of data: need %d bytes, have %d", t.NeedBytes, len(data))
		case StepSkip, StepLoop:
			// continue; data is already fully resident
		}
	}
}

// ParseSeekable decodes a PAK stream read through an io.ReaderAt, growing
// its in-memory window only as far as the parser actually asks for, and
// never reading a Data chunk's payload bytes at all: on StepSkip the
// window is dropped and the next read resumes from the post-skip offset
// the parser has already advanced to. size is the total stream length,
// if known; pass a negative value if it is not.
func ParseSeekable(r io.ReaderAt, size int64) (*PakFile, error) {
	p := NewParser()
	st := NewState()
	buf := make([]byte, 0, 64*1024)

	for {
		t, err := p.Step(buf, st)
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case StepDone:
			return st.ToPakFile(), nil
		case StepLoop:
			continue
		case StepSkip:
			buf = buf[:0]
			continue
		case StepNeedMore:
			base := st.bufBase
			if size >= 0 && base+int64(t.NeedBytes) > size {
				return nil, pakerr.NewParseFormatError(size, "unexpected end of stream: need %d bytes, have %d", t.NeedBytes, size)
			}
			grown := make([]byte, t.NeedBytes)
			copy(grown, buf)
			n, err := r.ReadAt(grown[len(buf):], base+int64(len(buf)))
			if err != nil && err != io.EOF {
				return nil, &pakerr.IoError{Offset: base + int64(len(buf)), Op: "read", Err: err}
			}
			if len(buf)+n < t.NeedBytes {
				return nil, pakerr.NewParseFormatError(base+int64(len(buf)+n), "unexpected end of stream while growing parse window")
			}
			buf = grown
		}
	}
}

// ParseStream decodes a PAK stream read through a plain io.Reader with no
// seek capability: bytes are appended to a growing window exactly as the
// parser requests them, except for a Data chunk's payload, which is read
// once (to keep the stream's read position correct) and discarded rather
// than buffered, per StepSkip.
func ParseStream(r io.Reader) (*PakFile, error) {
	p := NewParser()
	st := NewState()
	buf := make([]byte, 0, 64*1024)

	for {
		t, err := p.Step(buf, st)
		if err != nil {
			return nil, err
		}
		switch t.Kind {
		case StepDone:
			return st.ToPakFile(), nil
		case StepLoop:
			continue
		case StepSkip:
			if t.SkipCount > 0 {
				if _, err := io.CopyN(io.Discard, r, t.SkipCount); err != nil {
					return nil, &pakerr.IoError{Offset: t.SkipFrom, Op: "read", Err: err}
				}
			}
			buf = buf[:0]
			continue
		case StepNeedMore:
			grown := make([]byte, t.NeedBytes)
			copy(grown, buf)
			n, err := io.ReadFull(r, grown[len(buf):])
			if err != nil {
				return nil, &pakerr.IoError{Offset: int64(len(buf) + n), Op: "read", Err: err}
			}
			buf = grown
		}
	}
}
