package wal

import (
	"fmt"

	"github.com/JEleniel/epiloglite/internal/clock"
)

// Writer appends frames to an in-memory WAL, maintaining the running
// checksum incrementally (spec.md §4.6 "Writer contract").
type Writer struct {
	header  Header
	frames  []Frame
	current [2]uint32 // running (s0, s1)
	salts   clock.SaltSource
}

// NewWriter initializes a header for pageSize, generates salts via src, and
// seeds the running checksum from the header's own first 24 bytes.
func NewWriter(pageSize uint32, src clock.SaltSource) *Writer {
	if src == nil {
		src = clock.UUIDSaltSource{}
	}
	w := &Writer{header: NewHeader(pageSize, src), salts: src}
	s0, s1 := computeChecksum(w.header.Bytes()[0:24], 0, 0, w.header.bigEndian())
	w.current = [2]uint32{s0, s1}
	return w
}

// Header returns the writer's current header.
func (w *Writer) Header() Header { return w.header }

// Frames returns every frame appended so far, including any not yet
// committed.
func (w *Writer) Frames() []Frame { return w.frames }

// AddFrame appends a new, non-commit frame for pageNumber. data must be
// exactly the WAL's page size.
func (w *Writer) AddFrame(pageNumber uint32, data []byte) error {
	if uint32(len(data)) != w.header.PageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrPageSize, len(data), w.header.PageSize)
	}

	fh := FrameHeader{PageNumber: pageNumber, Salt1: w.header.Salt1, Salt2: w.header.Salt2}
	s0, s1 := computeChecksum(fh.Bytes()[0:8], w.current[0], w.current[1], w.header.bigEndian())
	s0, s1 = computeChecksum(data, s0, s1, w.header.bigEndian())
	fh.Checksum1, fh.Checksum2 = s0, s1

	w.current = [2]uint32{s0, s1}
	w.frames = append(w.frames, Frame{Header: fh, Data: append([]byte(nil), data...)})
	return nil
}

// Commit marks the last appended frame as the commit frame for dbSize,
// recomputing the running checksum from the header forward since the
// frame header's own bytes (the db_size field) changed.
func (w *Writer) Commit(dbSize uint32) error {
	if len(w.frames) == 0 {
		return ErrNoFramesToCommit
	}

	s0, s1 := computeChecksum(w.header.Bytes()[0:24], 0, 0, w.header.bigEndian())
	for i := 0; i < len(w.frames)-1; i++ {
		fh := w.frames[i].Header
		s0, s1 = computeChecksum(fh.Bytes()[0:8], s0, s1, w.header.bigEndian())
		s0, s1 = computeChecksum(w.frames[i].Data, s0, s1, w.header.bigEndian())
	}

	last := &w.frames[len(w.frames)-1]
	last.Header.DBSize = dbSize
	s0, s1 = computeChecksum(last.Header.Bytes()[0:8], s0, s1, w.header.bigEndian())
	s0, s1 = computeChecksum(last.Data, s0, s1, w.header.bigEndian())
	last.Header.Checksum1, last.Header.Checksum2 = s0, s1

	w.current = [2]uint32{s0, s1}
	return nil
}

// Bytes serializes the whole WAL: header followed by every frame
// (header + data) in append order.
func (w *Writer) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(w.frames)*(FrameHeaderSize+int(w.header.PageSize)))
	out = append(out, w.header.Bytes()...)
	for _, f := range w.frames {
		out = append(out, f.Header.Bytes()...)
		out = append(out, f.Data...)
	}
	return out
}

// Reset clears all frames, bumps the checkpoint sequence, generates fresh
// salts, and re-seeds the running checksum — used when starting a new
// transaction after a checkpoint (spec.md §4.6 "reset()").
func (w *Writer) Reset() {
	w.frames = nil
	w.header.CheckpointSeq++
	s1, s2 := w.salts.Salts()
	w.header.Salt1, w.header.Salt2 = s1, s2
	w.header.UpdateChecksums()
	s0, s1v := computeChecksum(w.header.Bytes()[0:24], 0, 0, w.header.bigEndian())
	w.current = [2]uint32{s0, s1v}
}
